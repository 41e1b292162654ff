// Package config holds the validated run configuration: defaults, YAML
// file loading and command-line overrides.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gotmc/vnacal/lib/stage"
	"github.com/gotmc/vnacal/lib/visa"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is everything one run needs.
type Config struct {
	Instrument Instrument `yaml:"instrument"`
	Sweep      Sweep      `yaml:"sweep"`
	Files      Files      `yaml:"files"`
	Discovery  Discovery  `yaml:"discovery"`

	// Deembed also loads both files into the channel 1 de-embedding slots.
	Deembed bool `yaml:"deembed"`
	Debug   bool `yaml:"debug"`
}

// Instrument describes the link to the analyzer.
type Instrument struct {
	Address      string        `yaml:"address"`
	Timeout      time.Duration `yaml:"timeout"`
	Attempts     int           `yaml:"attempts"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryMax     time.Duration `yaml:"retry_max"`
	OPCSync      bool          `yaml:"opc_sync"`
	SocketPort   int           `yaml:"socket_port"`
	BaudRate     int           `yaml:"baud_rate"`
	PrologixPort string        `yaml:"prologix_port"`
	AR488        bool          `yaml:"ar488"`
}

// Sweep holds the stimulus and receiver settings.
type Sweep struct {
	StartGHz      float64 `yaml:"start_ghz"`
	StopGHz       float64 `yaml:"stop_ghz"`
	Points        int     `yaml:"points"`
	IFBandwidthHz float64 `yaml:"if_bandwidth_hz"`
	IFSelectivity string  `yaml:"if_selectivity"`
	PowerDBm      float64 `yaml:"power_dbm"`
	AverageCount  int     `yaml:"average_count"`
	AverageMode   string  `yaml:"average_mode"`
	Averaging     bool    `yaml:"averaging"`
}

// Files names the generated calibration files and where they go.
type Files struct {
	LocalDir  string   `yaml:"local_dir"`
	RemoteDir string   `yaml:"remote_dir"`
	Names     []string `yaml:"names"`
	Impedance float64  `yaml:"impedance"`
}

// Discovery controls the informational resource listing.
type Discovery struct {
	Enabled     bool          `yaml:"enabled"`
	MDNSTimeout time.Duration `yaml:"mdns_timeout"`
}

// Default returns the stock configuration. Address is left empty and must
// be supplied.
func Default() Config {
	return Config{
		Instrument: Instrument{
			Timeout:      600 * time.Second,
			Attempts:     3,
			RetryInitial: 500 * time.Millisecond,
			RetryMax:     5 * time.Second,
			OPCSync:      true,
			SocketPort:   visa.DefaultSocketPort,
			BaudRate:     115200,
		},
		Sweep: Sweep{
			StartGHz:      0.5,
			StopGHz:       3.0,
			Points:        500,
			IFBandwidthHz: 10000,
			IFSelectivity: "HIGH",
			PowerDBm:      0,
			AverageCount:  3,
			AverageMode:   "RED",
			Averaging:     true,
		},
		Files: Files{
			LocalDir:  ".",
			RemoteDir: `C:\Users\Public\Documents\Rohde-Schwarz\Vna\Tests`,
			Names:     []string{"TestFile_1.s2p", "TestFile_2.s2p"},
			Impedance: 50,
		},
		Discovery: Discovery{
			Enabled:     true,
			MDNSTimeout: 2 * time.Second,
		},
	}
}

// Load overlays the YAML file at path onto base. Unknown keys are errors.
func Load(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	cfg := base
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// AddFlags binds command-line flags to c; the current values are the
// flag defaults.
func (c *Config) AddFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Instrument.Address, "addr", c.Instrument.Address, "VISA resource address of the analyzer, e.g. TCPIP0::169.254.90.230::inst0::INSTR")
	fs.DurationVar(&c.Instrument.Timeout, "timeout", c.Instrument.Timeout, "timeout for each instrument operation")
	fs.IntVar(&c.Instrument.Attempts, "attempts", c.Instrument.Attempts, "connection attempts before giving up")
	fs.BoolVar(&c.Instrument.OPCSync, "opc", c.Instrument.OPCSync, "wait for *OPC? after every write")
	fs.IntVar(&c.Instrument.SocketPort, "socket-port", c.Instrument.SocketPort, "raw SCPI port for TCPIP INSTR resources")
	fs.StringVar(&c.Instrument.PrologixPort, "prologix", c.Instrument.PrologixPort, "serial port of the Prologix adapter for GPIB resources (default: autodetect)")

	fs.Float64Var(&c.Sweep.StartGHz, "fstart", c.Sweep.StartGHz, "start frequency in GHz")
	fs.Float64Var(&c.Sweep.StopGHz, "fstop", c.Sweep.StopGHz, "stop frequency in GHz")
	fs.IntVar(&c.Sweep.Points, "points", c.Sweep.Points, "number of frequency points in a sweep")
	fs.Float64Var(&c.Sweep.IFBandwidthHz, "ifbw", c.Sweep.IFBandwidthHz, "IF bandwidth in Hz")
	fs.StringVar(&c.Sweep.IFSelectivity, "ifsel", c.Sweep.IFSelectivity, "IF selectivity: NORM, MED or HIGH")
	fs.Float64Var(&c.Sweep.PowerDBm, "power", c.Sweep.PowerDBm, "source power in dBm")
	fs.IntVar(&c.Sweep.AverageCount, "avg", c.Sweep.AverageCount, "number of sweeps averaged per trace")
	fs.StringVar(&c.Sweep.AverageMode, "avgmode", c.Sweep.AverageMode, "averaging mode: AUTO, FLAT, RED or MOV")
	fs.BoolVar(&c.Sweep.Averaging, "avgstate", c.Sweep.Averaging, "averaging on")

	fs.StringVar(&c.Files.LocalDir, "local", c.Files.LocalDir, "local folder for the generated .s2p files")
	fs.StringVar(&c.Files.RemoteDir, "remote", c.Files.RemoteDir, "folder on the analyzer the files are copied to")

	fs.BoolVar(&c.Discovery.Enabled, "discover", c.Discovery.Enabled, "list visible instruments before connecting")
	fs.BoolVar(&c.Deembed, "deembed", c.Deembed, "also load the files into the de-embedding slots (needs the de-embedding option)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log raw instrument traffic")
}

// Settings converts the sweep section for the stage builder.
func (c Config) Settings() stage.Settings {
	return stage.Settings(c.Sweep)
}

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	err error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0)
	for _, err := range multierr.Errors(e.err) {
		msgs = append(msgs, err.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error { return multierr.Errors(e.err) }

// Validate checks c before any I/O happens.
func (c Config) Validate() error {
	var err error
	check := func(ok bool, format string, a ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format, a...))
		}
	}

	if _, perr := visa.Parse(c.Instrument.Address); perr != nil {
		err = multierr.Append(err, perr)
	}
	in := c.Instrument
	check(in.Timeout > 0, "timeout must be positive, got %s", in.Timeout)
	check(in.Attempts >= 1, "attempts must be at least 1, got %d", in.Attempts)
	check(in.SocketPort > 0 && in.SocketPort <= 65535, "socket port %d out of range", in.SocketPort)

	s := c.Sweep
	check(s.Points >= 2, "points must be at least 2, got %d", s.Points)
	check(s.StartGHz > 0, "start frequency must be positive, got %g GHz", s.StartGHz)
	check(s.StartGHz < s.StopGHz, "start frequency %g GHz must be below stop frequency %g GHz", s.StartGHz, s.StopGHz)
	check(s.IFBandwidthHz > 0, "IF bandwidth must be positive, got %g Hz", s.IFBandwidthHz)
	_, ok := stage.Mnemonic(stage.Selectivities, s.IFSelectivity)
	check(ok, "unknown IF selectivity %q", s.IFSelectivity)
	_, ok = stage.Mnemonic(stage.AverageModes, s.AverageMode)
	check(ok, "unknown averaging mode %q", s.AverageMode)
	check(s.AverageCount >= 1, "average count must be at least 1, got %d", s.AverageCount)

	f := c.Files
	check(strings.TrimSpace(f.LocalDir) != "", "local folder is empty")
	check(strings.TrimSpace(f.RemoteDir) != "", "remote folder is empty")
	check(f.Impedance > 0, "reference impedance must be positive, got %g", f.Impedance)
	check(len(f.Names) == 2, "need exactly 2 file names, got %d", len(f.Names))
	seen := map[string]bool{}
	for _, n := range f.Names {
		check(n != "" && !strings.ContainsAny(n, `/\`), "invalid file name %q", n)
		check(!seen[strings.ToLower(n)], "duplicate file name %q", n)
		seen[strings.ToLower(n)] = true
	}

	if err != nil {
		return &ValidationError{err: err}
	}
	return nil
}
