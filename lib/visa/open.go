package visa

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/gotmc/vnacal"
	"go.bug.st/serial"
)

// DefaultSocketPort is the raw SCPI port served by LXI instruments.
const DefaultSocketPort = 5025

// Options configures how resources are opened.
type Options struct {
	// Timeout bounds dialing and, for serial links, each read.
	Timeout time.Duration

	// SocketPort serves TCPIP INSTR resources. Zero means DefaultSocketPort.
	SocketPort int

	// BaudRate for ASRL resources and the Prologix adapter port.
	BaudRate int

	// PrologixPort is the serial port of the Prologix adapter used for GPIB
	// resources. When empty, FindPrologix is called.
	PrologixPort string
	FindPrologix func() (string, error)
	AR488        bool

	Debug bool

	// Dial and OpenSerial replace the real transports, e.g. in tests.
	Dial       func(ctx context.Context, network, address string) (net.Conn, error)
	OpenSerial func(name string, mode *serial.Mode) (serial.Port, error)
}

func (o *Options) socketPort() int {
	if o.SocketPort == 0 {
		return DefaultSocketPort
	}
	return o.SocketPort
}

func (o *Options) baudRate() int {
	if o.BaudRate == 0 {
		return 115200
	}
	return o.BaudRate
}

func (o *Options) dial(ctx context.Context, addr string) (net.Conn, error) {
	if o.Dial != nil {
		return o.Dial(ctx, "tcp", addr)
	}
	d := net.Dialer{Timeout: o.Timeout}
	return d.DialContext(ctx, "tcp", addr)
}

func (o *Options) openSerial(name string) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: o.baudRate(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	var (
		port serial.Port
		err  error
	)
	if o.OpenSerial != nil {
		port, err = o.OpenSerial(name, mode)
	} else {
		port, err = serial.Open(name, mode)
	}
	if err != nil {
		return nil, err
	}
	if o.Timeout > 0 {
		if err := port.SetReadTimeout(o.Timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	return port, nil
}

// Open opens the transport for r once. The returned link carries
// instrument messages; for GPIB it is a *vnacal.Prologix.
func Open(ctx context.Context, r Resource, opts Options) (io.ReadWriteCloser, error) {
	switch r.Kind {
	case TCPIPInstr, TCPIPSocket:
		port := r.Port
		if r.Kind == TCPIPInstr {
			port = opts.socketPort()
		}
		addr := net.JoinHostPort(r.Host, strconv.Itoa(port))
		if opts.Debug {
			log.Printf("dialing %s for %s", addr, r)
		}
		return opts.dial(ctx, addr)
	case Serial:
		if opts.Debug {
			log.Printf("opening serial port %s", r.SerialPort)
		}
		return opts.openSerial(r.SerialPort)
	case GPIB:
		return openGPIB(r, opts)
	}
	return nil, fmt.Errorf("visa: cannot open %s resource %q", r.Kind, r)
}

func openGPIB(r Resource, opts Options) (io.ReadWriteCloser, error) {
	if r.Board != 0 {
		return nil, fmt.Errorf("visa: %q: only GPIB board 0 is supported", r)
	}
	name := opts.PrologixPort
	if name == "" {
		if opts.FindPrologix == nil {
			return nil, fmt.Errorf("visa: %q: no Prologix adapter port configured", r)
		}
		var err error
		name, err = opts.FindPrologix()
		if err != nil {
			return nil, fmt.Errorf("visa: locating Prologix adapter: %w", err)
		}
	}
	if opts.Debug {
		log.Printf("Prologix adapter on %s for %s", name, r)
	}
	port, err := opts.openSerial(name)
	if err != nil {
		return nil, err
	}
	var popts []vnacal.PrologixOption
	if r.SecondaryAddr >= 0 {
		popts = append(popts, vnacal.WithSecondaryAddress(r.SecondaryAddr))
	}
	if opts.AR488 {
		popts = append(popts, vnacal.WithAR488())
	}
	if opts.Debug {
		popts = append(popts, vnacal.WithPrologixDebug())
	}
	p, err := vnacal.NewPrologix(port, r.PrimaryAddr, popts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return p, nil
}
