// Package visa parses VISA resource strings and opens the transport each
// one names: a raw SCPI socket, a serial port, or a GPIB instrument behind
// a Prologix adapter.
package visa

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/vnacal"
)

// Kind identifies the interface type of a resource.
type Kind int

const (
	// TCPIPInstr is a LAN instrument, served here by a raw SCPI socket.
	TCPIPInstr Kind = iota
	// TCPIPSocket is a raw SCPI socket on an explicit port.
	TCPIPSocket
	// Serial is an ASRL serial port.
	Serial
	// GPIB is an instrument behind a Prologix adapter.
	GPIB
)

func (k Kind) String() string {
	switch k {
	case TCPIPInstr:
		return "TCPIP INSTR"
	case TCPIPSocket:
		return "TCPIP SOCKET"
	case Serial:
		return "ASRL"
	case GPIB:
		return "GPIB"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Resource is a parsed VISA resource string.
type Resource struct {
	Kind  Kind
	Board int

	Host   string // TCPIP
	Device string // TCPIP INSTR device name, e.g. inst0 or hislip0
	Port   int    // TCPIP SOCKET

	SerialPort string // ASRL

	PrimaryAddr   int // GPIB
	SecondaryAddr int // GPIB; -1 when absent

	raw string
}

func (r Resource) String() string { return r.raw }

// Parse parses a VISA resource string. The interface type and the INSTR or
// SOCKET suffix are case-insensitive.
func Parse(addr string) (Resource, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Resource{}, fmt.Errorf("visa: empty resource address")
	}
	parts := strings.Split(addr, "::")
	head := strings.ToUpper(parts[0])
	r := Resource{raw: addr, SecondaryAddr: -1}
	var err error
	switch {
	case strings.HasPrefix(head, "TCPIP"):
		r.Board, err = board(head, "TCPIP")
		if err != nil {
			return Resource{}, fmt.Errorf("visa: %q: %w", addr, err)
		}
		return parseTCPIP(r, parts)
	case strings.HasPrefix(head, "ASRL"):
		return parseASRL(r, parts)
	case strings.HasPrefix(head, "GPIB"):
		r.Board, err = board(head, "GPIB")
		if err != nil {
			return Resource{}, fmt.Errorf("visa: %q: %w", addr, err)
		}
		return parseGPIB(r, parts)
	}
	return Resource{}, fmt.Errorf("visa: %q: unsupported interface type", addr)
}

func board(head, prefix string) (int, error) {
	s := head[len(prefix):]
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid board number %q", s)
	}
	return n, nil
}

func parseTCPIP(r Resource, parts []string) (Resource, error) {
	// TCPIP0::host[::device][::INSTR] or TCPIP0::host::port::SOCKET
	if len(parts) < 2 || parts[1] == "" {
		return Resource{}, fmt.Errorf("visa: %q: missing host", r.raw)
	}
	r.Host = parts[1]
	rest := parts[2:]
	last := ""
	if len(rest) > 0 {
		last = strings.ToUpper(rest[len(rest)-1])
	}
	switch last {
	case "SOCKET":
		if len(rest) != 2 {
			return Resource{}, fmt.Errorf("visa: %q: SOCKET resource needs exactly one port", r.raw)
		}
		port, err := strconv.Atoi(rest[0])
		if err != nil || port <= 0 || port > 65535 {
			return Resource{}, fmt.Errorf("visa: %q: invalid port %q", r.raw, rest[0])
		}
		r.Kind = TCPIPSocket
		r.Port = port
		return r, nil
	case "INSTR":
		rest = rest[:len(rest)-1]
	}
	if len(rest) > 1 {
		return Resource{}, fmt.Errorf("visa: %q: too many fields", r.raw)
	}
	r.Kind = TCPIPInstr
	r.Device = "inst0"
	if len(rest) == 1 && rest[0] != "" {
		r.Device = rest[0]
	}
	return r, nil
}

func parseASRL(r Resource, parts []string) (Resource, error) {
	// ASRL3::INSTR, ASRL/dev/ttyUSB0::INSTR
	if len(parts) > 2 || (len(parts) == 2 && !strings.EqualFold(parts[1], "INSTR")) {
		return Resource{}, fmt.Errorf("visa: %q: malformed serial resource", r.raw)
	}
	port := parts[0][len("ASRL"):]
	if port == "" {
		return Resource{}, fmt.Errorf("visa: %q: missing serial port", r.raw)
	}
	if n, err := strconv.Atoi(port); err == nil {
		port = "COM" + strconv.Itoa(n)
	}
	r.Kind = Serial
	r.SerialPort = port
	return r, nil
}

func parseGPIB(r Resource, parts []string) (Resource, error) {
	// GPIB0::20[::101][::INSTR]
	rest := parts[1:]
	if len(rest) > 0 && strings.EqualFold(rest[len(rest)-1], "INSTR") {
		rest = rest[:len(rest)-1]
	}
	if len(rest) < 1 || len(rest) > 2 {
		return Resource{}, fmt.Errorf("visa: %q: malformed GPIB resource", r.raw)
	}
	pad, err := strconv.Atoi(rest[0])
	if err != nil || !vnacal.IsPrimaryAddressValid(pad) {
		return Resource{}, fmt.Errorf("visa: %q: invalid primary address %q (must be 0-30)", r.raw, rest[0])
	}
	r.Kind = GPIB
	r.PrimaryAddr = pad
	if len(rest) == 2 {
		sad, err := strconv.Atoi(rest[1])
		if err != nil || !vnacal.IsSecondaryAddressValid(sad) {
			return Resource{}, fmt.Errorf("visa: %q: invalid secondary address %q (must be 96-126)", r.raw, rest[1])
		}
		r.SecondaryAddr = sad
	}
	return r, nil
}
