package find

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"go.bug.st/serial"
)

// mDNS service types announced by LAN instruments.
const (
	ServiceLXI     = "_lxi._tcp"
	ServiceSCPIRaw = "_scpi-raw._tcp"
)

// ListOptions controls resource discovery.
type ListOptions struct {
	// MDNSTimeout bounds the LAN browse. Zero disables it.
	MDNSTimeout time.Duration

	// Serial and Browse replace the real enumerators, e.g. in tests.
	Serial func() ([]string, error)
	Browse func(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error
}

func (o ListOptions) serialPorts() ([]string, error) {
	if o.Serial != nil {
		return o.Serial()
	}
	return serial.GetPortsList()
}

func (o ListOptions) browse(ctx context.Context, service string, entries chan<- *zeroconf.ServiceEntry) error {
	if o.Browse != nil {
		return o.Browse(ctx, service, entries)
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, "local.", entries)
}

// ListResources returns the VISA resource strings of instruments this host
// can see: every serial port as ASRL, and LAN instruments announcing
// themselves over mDNS. Enumerator failures are logged, not returned,
// unless nothing could be enumerated at all.
func ListResources(ctx context.Context, opts ListOptions) ([]string, error) {
	seen := map[string]bool{}
	var failures int

	ports, err := opts.serialPorts()
	if err != nil {
		log.Printf("listing serial ports: %s", err)
		failures++
	}
	for _, p := range ports {
		seen[fmt.Sprintf("ASRL%s::INSTR", p)] = true
	}

	if opts.MDNSTimeout > 0 {
		for _, service := range []string{ServiceLXI, ServiceSCPIRaw} {
			found, err := browseService(ctx, opts, service)
			if err != nil {
				log.Printf("browsing %s: %s", service, err)
				failures++
			}
			for _, r := range found {
				seen[r] = true
			}
		}
	}

	if len(seen) == 0 && failures > 0 {
		return nil, fmt.Errorf("resource discovery failed")
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func browseService(ctx context.Context, opts ListOptions, service string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.MDNSTimeout)
	defer cancel()

	// The resolver closes entries once ctx ends; until then every
	// announcement must be received or its sender blocks.
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []string, 1)
	go func() {
		var found []string
		for entry := range entries {
			if r, ok := resourceFromEntry(service, entry); ok {
				found = append(found, r)
			}
		}
		done <- found
	}()

	if err := opts.browse(ctx, service, entries); err != nil {
		// The browse never started, so nothing else owns entries.
		close(entries)
		<-done
		return nil, err
	}
	return <-done, nil
}

// resourceFromEntry maps an mDNS announcement to a VISA resource string,
// preferring IPv4.
func resourceFromEntry(service string, entry *zeroconf.ServiceEntry) (string, bool) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return "", false
	}
	if service == ServiceSCPIRaw {
		return "TCPIP0::" + host + "::" + strconv.Itoa(entry.Port) + "::SOCKET", true
	}
	return "TCPIP0::" + host + "::inst0::INSTR", true
}
