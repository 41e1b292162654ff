// Copyright (c) 2022–2026 The vnacal developers. All rights reserved.
// Project site: https://github.com/gotmc/vnacal
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package vnacal

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gotmc/query"
	"github.com/gotmc/vnacal/lib/cmdlog"
)

// Controller models a SCPI session with a single instrument over an
// established link.
type Controller struct {
	rw      io.ReadWriter
	br      *bufio.Reader
	term    byte
	timeout time.Duration
	opcSync bool
	debug   bool // if true, log raw writes and reads. Set via WithDebug().
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a SCPI controller communicating over rw, which is
// usually a TCP socket, a serial port or a Prologix GPIB adapter.
// Optionally controller configuration can be included using a
// ControllerOption.
func NewController(rw io.ReadWriter, opts ...ControllerOption) *Controller {
	c := Controller{
		rw:   rw,
		term: '\n',
	}

	// Apply options using the functional option pattern.
	for _, opt := range opts {
		opt(&c)
	}
	c.br = bufio.NewReader(rw)
	return &c
}

// WithDebug causes commands and responses to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithOPCSync makes every command wait for the instrument to report
// operation complete (*OPC?) before returning.
func WithOPCSync() ControllerOption { return func(c *Controller) { c.opcSync = true } }

// WithTimeout bounds every read and write on links that support deadlines.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithTerminator changes the message terminator appended to commands and
// expected at the end of responses. The default is a line feed.
func WithTerminator(term byte) ControllerOption {
	return func(c *Controller) { c.term = term }
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (c *Controller) arm() error {
	if c.timeout <= 0 {
		return nil
	}
	if d, ok := c.rw.(deadliner); ok {
		return d.SetDeadline(time.Now().Add(c.timeout))
	}
	return nil
}

func (c *Controller) write(p []byte) error {
	if err := c.arm(); err != nil {
		return err
	}
	if c.debug {
		log.Printf("write %s", cmdlog.Payload(p))
	}
	_, err := c.rw.Write(p)
	return err
}

// Command formats according to a format specifier if provided and sends a
// SCPI command to the instrument. All leading and trailing whitespace is
// removed before appending the terminator. Command never reads instrument
// state back; with OPC sync enabled it only waits for completion.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.term)
	if err := c.write([]byte(cmd)); err != nil {
		return fmt.Errorf("error writing command %q: %w", strings.TrimSpace(cmd), err)
	}
	return c.sync()
}

// Query sends the given SCPI query and returns the response with the
// terminator stripped.
func (c *Controller) Query(cmd string) (string, error) {
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.term)
	if err := c.write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("error writing query: %w", err)
	}
	if err := c.arm(); err != nil {
		return "", err
	}
	for {
		s, err := c.br.ReadString(c.term)
		if c.debug {
			log.Printf("read %q", s)
		}
		if err == io.EOF && len(s) > 0 {
			err = nil
		}
		if err != nil {
			return "", fmt.Errorf("error reading response to %q: %w", strings.TrimSpace(cmd), err)
		}
		// A bare terminator is left over from the previous response, e.g.
		// an adapter appending its own end-of-transmission character.
		if s = strings.TrimRight(s, "\r\n"); s != "" {
			return s, nil
		}
	}
}

// sync blocks until the instrument reports all pending operations complete.
func (c *Controller) sync() error {
	if !c.opcSync {
		return nil
	}
	s, err := query.String(c, "*OPC?")
	if err != nil {
		return fmt.Errorf("operation complete query: %w", err)
	}
	if strings.TrimSpace(s) != "1" {
		return fmt.Errorf("operation complete query: unexpected response %q", s)
	}
	return nil
}
