// Copyright (c) 2022–2026 The vnacal developers. All rights reserved.
// Project site: https://github.com/gotmc/vnacal
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package vnacal

import (
	"fmt"
	"io"
	"log"
	"strings"

	"go.uber.org/multierr"
)

// Prologix escape character. CR, LF, ESC and '+' inside instrument data
// must be preceded by it or the adapter consumes them.
const prologixEsc = 0x1b

// Prologix adapts a Prologix (or AR488) USB-GPIB controller-in-charge into
// an io.ReadWriteCloser addressed at a single instrument. Each Write is one
// instrument message; a Read following a Write asks the adapter to read
// from the bus until EOI.
type Prologix struct {
	rw               io.ReadWriter
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	readTimeoutMs    int
	debug            bool
	ar488            bool
	pendingRead      bool
}

// PrologixOption applies an option to the adapter.
type PrologixOption func(*Prologix)

// NewPrologix configures the adapter on rw to address the instrument at the
// given primary GPIB address in controller mode.
func NewPrologix(rw io.ReadWriter, addr int, opts ...PrologixOption) (*Prologix, error) {
	p := Prologix{
		rw:            rw,
		primaryAddr:   addr,
		readTimeoutMs: 3000,
	}
	for _, opt := range opts {
		opt(&p)
	}

	if !IsPrimaryAddressValid(p.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", p.primaryAddr)
	}
	addrCmd := fmt.Sprintf("addr %d", p.primaryAddr)
	if p.hasSecondaryAddr {
		if !IsSecondaryAddressValid(p.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", p.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", p.primaryAddr, p.secondaryAddr)
	}

	cmds := []string{}
	if !p.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // don't wear out the EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,  // Set the instrument address.
		"mode 1", // Switch to controller mode.
		"auto 0", // No read-after-write; reads are requested explicitly.
		"eoi 1",  // Assert EOI with the last character.
		"eos 0",  // Append CR+LF to instrument messages.
		fmt.Sprintf("read_tmo_ms %d", p.readTimeoutMs),
		"eot_enable 0", // The instrument's own LF ends each response.
	)
	for _, cmd := range cmds {
		if err := p.CommandController(cmd); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) PrologixOption {
	return func(p *Prologix) {
		p.hasSecondaryAddr = true
		p.secondaryAddr = addr
	}
}

// WithAR488 skips the verbose and savecfg commands, which the Arduino-based
// AR488 does not understand.
func WithAR488() PrologixOption { return func(p *Prologix) { p.ar488 = true } }

// WithPrologixDebug logs every adapter command.
func WithPrologixDebug() PrologixOption { return func(p *Prologix) { p.debug = true } }

// WithReadTimeout sets the adapter's bus read timeout in milliseconds
// (1-3000).
func WithReadTimeout(ms int) PrologixOption {
	return func(p *Prologix) { p.readTimeoutMs = ms }
}

// Write escapes p and sends it to the instrument. A trailing line feed is
// treated as the message terminator and sent unescaped.
func (p *Prologix) Write(b []byte) (int, error) {
	body := b
	terminated := len(body) > 0 && body[len(body)-1] == '\n'
	if terminated {
		body = body[:len(body)-1]
	}
	out := make([]byte, 0, len(body)+8)
	for _, c := range body {
		switch c {
		case '\r', '\n', prologixEsc, '+':
			out = append(out, prologixEsc)
		}
		out = append(out, c)
	}
	out = append(out, '\n')
	if _, err := p.rw.Write(out); err != nil {
		return 0, err
	}
	p.pendingRead = true
	return len(b), nil
}

// Read reads the instrument's response. The first Read after a Write
// addresses the instrument to talk.
func (p *Prologix) Read(b []byte) (int, error) {
	if p.pendingRead {
		if err := p.CommandController("read eoi"); err != nil {
			return 0, err
		}
		p.pendingRead = false
	}
	return p.rw.Read(b)
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the controller, thereby not transmitting to
// the instrument over GPIB, two plus signs `++` are prepended.
func (p *Prologix) CommandController(cmd string) error {
	cmd = fmt.Sprintf("++%s\n", strings.ToLower(strings.TrimSpace(cmd)))
	if p.debug {
		log.Printf("prologix %q", cmd)
	}
	_, err := p.rw.Write([]byte(cmd))
	return err
}

// FrontPanel returns the instrument to local (front panel) control.
func (p *Prologix) FrontPanel() error {
	return p.CommandController("loc")
}

// Close returns the instrument to local control and closes the underlying
// port when it is closable.
func (p *Prologix) Close() error {
	err := p.FrontPanel()
	if c, ok := p.rw.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// ResetInputBuffer discards unread data on the underlying port when it
// supports flushing.
func (p *Prologix) ResetInputBuffer() error {
	p.pendingRead = false
	if f, ok := p.rw.(interface{ ResetInputBuffer() error }); ok {
		return f.ResetInputBuffer()
	}
	return nil
}

// IsPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func IsPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// IsSecondaryAddressValid checks that the secondary GPIB address is between
// 96 and 126, inclusive.
func IsSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
