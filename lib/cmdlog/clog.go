// Package cmdlog echoes instrument traffic to the log with terminal styling.
package cmdlog

import (
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	CmdStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	StageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("35")).Bold(true)
	FileStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Commander is the command half of a SCPI session.
type Commander interface {
	Command(format string, a ...any) error
}

// Logged wraps a Commander and logs every command and its outcome.
type Logged struct {
	c Commander
}

// Wrap returns c with command logging.
func Wrap(c Commander) *Logged { return &Logged{c: c} }

func (l *Logged) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	if err := l.c.Command("%s", cmd); err != nil {
		log.Printf("%s: %s", CmdStyle.Render(cmd), ErrStyle.Render(err.Error()))
		return err
	}
	log.Printf("%s()", CmdStyle.Render(cmd))
	return nil
}

// Stage logs the start of a named group of n commands.
func Stage(name string, n int) {
	log.Print(StageStyle.Render(fmt.Sprintf("== %s (%d)", name, n)))
}

// Transfer logs a file push to the instrument.
func Transfer(local, remote string, size int64) {
	log.Printf("%s -> %s (%d bytes)", FileStyle.Render(local), FileStyle.Render(remote), size)
}

// Payload summarizes a block of data: quoted if printable and short,
// otherwise its length and leading bytes.
func Payload(b []byte) string {
	s := string(b)
	switch {
	case len(b) == 0:
		return "<empty>"
	case isAscii(s) && len(b) <= 64:
		return fmt.Sprintf("[%d] %q", len(b), s)
	case isAscii(s):
		return fmt.Sprintf("[%d] %q...", len(b), s[:64])
	case len(b) < 32:
		return fmt.Sprintf("[%d] % 2x", len(b), b)
	}
	return fmt.Sprintf("[%d] % 2x...", len(b), b[:32])
}
