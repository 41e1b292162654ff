package visa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.bug.st/serial"
)

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	Attempts        int // total attempts, including the first
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes three attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// ConnectError reports that a resource could not be opened.
type ConnectError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("visa: connect %s: gave up after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient link failure worth another
// connection attempt: refused, reset or aborted connections, unreachable
// hosts or networks, timeouts, and busy serial ports.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var perr *serial.PortError
	if errors.As(err, &perr) && perr.Code() == serial.PortBusy {
		return true
	}
	return false
}

// Connect opens r, retrying transient failures per policy. It fails with a
// *ConnectError once attempts are exhausted or a non-retryable error
// occurs.
func Connect(ctx context.Context, r Resource, opts Options, policy RetryPolicy) (io.ReadWriteCloser, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(policy.Attempts-1)), ctx)

	var (
		link     io.ReadWriteCloser
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		link, err = Open(ctx, r, opts)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Printf("connect %s: attempt %d/%d failed: %s; retrying in %s",
			r, attempts, policy.Attempts, err, next)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, &ConnectError{Address: r.String(), Attempts: attempts, Err: err}
	}
	return link, nil
}
