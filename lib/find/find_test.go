package find

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"
)

// fakeSysfs lays out a /sys/class/tty lookalike with one Prologix adapter
// on usb and one on-board uart.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	class := filepath.Join(root, "class", "tty")
	usbDev := filepath.Join(root, "devices", "usb1", "1-2")
	usbIface := filepath.Join(usbDev, "1-2:1.0")
	usbTty := filepath.Join(usbIface, "tty", "ttyUSB0")
	uartTty := filepath.Join(root, "devices", "platform", "serial8250", "tty", "ttyS0")
	for _, d := range []string{class, usbTty, uartTty} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	for name, val := range map[string]string{
		"idVendor":     "0403",
		"idProduct":    "6001",
		"manufacturer": "Prologix",
		"product":      "Prologix GPIB-USB Controller",
		"serial":       "PX8X3YR6",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(usbDev, name), []byte(val+"\n"), 0o644))
	}
	require.NoError(t, os.Symlink(usbIface, filepath.Join(usbTty, "device")))
	require.NoError(t, os.Symlink(usbTty, filepath.Join(class, "ttyUSB0")))
	require.NoError(t, os.Symlink(uartTty, filepath.Join(class, "ttyS0")))
	return class + string(filepath.Separator)
}

func TestAllUsbTtys(t *testing.T) {
	old := SysClassTTY
	SysClassTTY = fakeSysfs(t)
	defer func() { SysClassTTY = old }()

	ttys, err := AllUsbTtys()
	require.NoError(t, err)
	require.Len(t, ttys, 1)
	require.Equal(t, "ttyUSB0", ttys[0].Dev)
	require.Equal(t, "0403", ttys[0].IDv)
	require.Equal(t, "6001", ttys[0].IDp)
	require.Equal(t, "PX8X3YR6", ttys[0].Serial)

	dev, err := FindPrologix()
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", dev)

	_, err = Find(AR488Filter)
	require.Error(t, err)
}

func TestPick(t *testing.T) {
	ttys := Usbttys{{Dev: "ttyUSB0", Serial: "a"}, {Dev: "ttyUSB1", Serial: "b"}}
	dev, err := pick(ttys, SerialFilter("b"))
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB1", dev)

	_, err = pick(ttys, nil)
	require.Error(t, err)
	_, err = pick(nil, nil)
	require.Error(t, err)
}

func TestListResources(t *testing.T) {
	opts := ListOptions{
		MDNSTimeout: 20 * time.Millisecond,
		Serial: func() ([]string, error) {
			return []string{"/dev/ttyUSB0", "/dev/ttyS0"}, nil
		},
		Browse: func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error {
			e := &zeroconf.ServiceEntry{Port: 5025}
			switch service {
			case ServiceLXI:
				e.AddrIPv4 = []net.IP{net.ParseIP("169.254.90.230")}
			case ServiceSCPIRaw:
				e.AddrIPv4 = []net.IP{net.ParseIP("169.254.90.230")}
			}
			go func() {
				defer close(entries)
				if service == ServiceSCPIRaw {
					entries <- &zeroconf.ServiceEntry{}
				}
				entries <- e
				<-ctx.Done()
			}()
			return nil
		},
	}
	got, err := ListResources(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, []string{
		"ASRL/dev/ttyS0::INSTR",
		"ASRL/dev/ttyUSB0::INSTR",
		"TCPIP0::169.254.90.230::5025::SOCKET",
		"TCPIP0::169.254.90.230::inst0::INSTR",
	}, got)
}

func TestListResourcesFailures(t *testing.T) {
	boom := errors.New("boom")
	opts := ListOptions{
		MDNSTimeout: 10 * time.Millisecond,
		Serial:      func() ([]string, error) { return nil, boom },
		Browse: func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error {
			return boom
		},
	}
	_, err := ListResources(context.Background(), opts)
	require.Error(t, err)

	// A working enumerator is enough.
	opts.Serial = func() ([]string, error) { return []string{"COM3"}, nil }
	got, err := ListResources(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"ASRLCOM3::INSTR"}, got)
}

func TestListResourcesLateAnnouncement(t *testing.T) {
	opts := ListOptions{
		MDNSTimeout: 10 * time.Millisecond,
		Serial:      func() ([]string, error) { return nil, nil },
		Browse: func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error {
			go func() {
				defer close(entries)
				<-ctx.Done()
				// Arrives after the deadline, before the resolver shuts down.
				entries <- &zeroconf.ServiceEntry{
					AddrIPv4: []net.IP{net.ParseIP("10.0.0.7")},
				}
			}()
			return nil
		},
	}
	got, err := ListResources(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"TCPIP0::10.0.0.7::inst0::INSTR"}, got)
}
