// Package find locates instruments and instrument adapters attached to or
// reachable from this host.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

type FilterFn func(*Usbtty) bool

// PrologixFilter matches Prologix GPIB-USB controllers, which enumerate as
// FTDI serial adapters with a Prologix product string.
func PrologixFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Prod, "Prologix") || strings.Contains(ut.Mfg, "Prologix")
}

// AR488Filter matches Arduino-based AR488 adapters.
func AR488Filter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Arduino")
}

func SerialFilter(s string) func(ut *Usbtty) bool {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// Find searches for a usb serial device and returns its /dev path. If
// filter is not nil, it is used to narrow choices down. The first device
// for which it returns true (if any) is chosen.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	return pick(ttys, filter)
}

func pick(ttys Usbttys, filter FilterFn) (string, error) {
	if filter != nil {
		var matched Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				matched = Usbttys{ttys[i]}
				break
			}
		}
		ttys = matched
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return "/dev/" + ttys[0].Dev, nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

// FindPrologix returns the device path of the attached Prologix adapter.
func FindPrologix() (string, error) {
	return Find(PrologixFilter)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// SysClassTTY is where AllUsbTtys looks for tty devices.
var SysClassTTY = "/sys/class/tty/"

// AllUsbTtys finds ttys on usb devices by following the symlinks under
// /sys/class/tty to their usb device directories. Linux only; elsewhere
// the directory is missing and an error is returned.
func AllUsbTtys() (Usbttys, error) {
	var devs Usbttys
	entries, err := os.ReadDir(SysClassTTY)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// /sys/class/tty/ttyUSB0 ->
		// /sys/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/ttyUSB0/tty/ttyUSB0
		path := filepath.Join(SysClassTTY, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Printf("error evaluating symlink %s; skipping: %s", path, err)
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Printf("usb but lacking device subdir?! %s %s", abs, err)
			continue
		}
		// device is the usb interface; the attributes live one level up
		// (two for ftdi, whose device link points at the ttyUSB node).
		info := filepath.Dir(dev)
		if _, err := os.Stat(filepath.Join(info, "idVendor")); err != nil {
			info = filepath.Dir(info)
		}
		ut, err := readUsbInfo(info)
		if err != nil {
			log.Printf("%s: %s", abs, err)
		}
		ut.Dev = e.Name()
		ut.Path = abs
		devs = append(devs, ut)
	}
	return devs, nil
}

// readUsbInfo reads product and vendor ids, and mfg/product/serial strings.
//
// returns last error encountered, ignoring os.ErrNotExist.
// errors do not prevent reading additional files or returning data collected.
func readUsbInfo(dev string) (Usbtty, error) {
	var (
		ut  Usbtty
		err error
	)
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"idProduct", &ut.IDp},
		{"idVendor", &ut.IDv},
		{"manufacturer", &ut.Mfg},
		{"product", &ut.Prod},
		{"serial", &ut.Serial},
	} {
		b, rerr := os.ReadFile(filepath.Join(dev, f.name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		*f.dst = strings.TrimSpace(string(b))
	}
	return ut, err
}
