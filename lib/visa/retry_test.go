package visa

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(refused()))
	require.True(t, IsRetryable(os.ErrDeadlineExceeded))
	require.True(t, IsRetryable(syscall.EHOSTUNREACH))
	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(errors.New("no such host")))
	require.False(t, IsRetryable(context.Canceled))
	require.False(t, IsRetryable(os.ErrPermission))
}

func TestConnectGivesUpAfterAttempts(t *testing.T) {
	r, err := Parse("TCPIP0::192.0.2.1::inst0::INSTR")
	require.NoError(t, err)

	calls := 0
	opts := Options{Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		calls++
		require.Equal(t, "192.0.2.1:5025", address)
		return nil, refused()
	}}
	_, err = Connect(context.Background(), r, opts, fastPolicy(3))
	require.Error(t, err)
	require.Equal(t, 3, calls)

	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 3, cerr.Attempts)
	require.Equal(t, "TCPIP0::192.0.2.1::inst0::INSTR", cerr.Address)
	require.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestConnectStopsOnPermanentError(t *testing.T) {
	r, err := Parse("TCPIP0::10.0.0.2::5025::SOCKET")
	require.NoError(t, err)

	calls := 0
	opts := Options{Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		calls++
		return nil, errors.New("no such host")
	}}
	_, err = Connect(context.Background(), r, opts, fastPolicy(3))
	require.Error(t, err)
	require.Equal(t, 1, calls)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 1, cerr.Attempts)
	require.Contains(t, err.Error(), "no such host")
}

func TestConnectSucceedsAfterRetry(t *testing.T) {
	r, err := Parse("TCPIP0::10.0.0.2::5025::SOCKET")
	require.NoError(t, err)

	calls := 0
	opts := Options{Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		calls++
		if calls < 2 {
			return nil, refused()
		}
		client, server := net.Pipe()
		server.Close()
		return client, nil
	}}
	link, err := Connect(context.Background(), r, opts, fastPolicy(3))
	require.NoError(t, err)
	require.NotNil(t, link)
	require.Equal(t, 2, calls)
	link.Close()
}

func TestConnectRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	r, err := Parse("TCPIP0::127.0.0.1::" + strconv.Itoa(addr.Port) + "::SOCKET")
	require.NoError(t, err)
	link, err := Connect(context.Background(), r, Options{Timeout: time.Second}, fastPolicy(1))
	require.NoError(t, err)
	require.NoError(t, link.Close())
}

func TestOpenGPIBWithoutAdapter(t *testing.T) {
	r, err := Parse("GPIB0::20::INSTR")
	require.NoError(t, err)
	_, err = Open(context.Background(), r, Options{})
	require.Error(t, err)
	require.False(t, IsRetryable(err))
}
