// Package calsetup runs the whole analyzer preparation once: synthesize the
// calibration files, configure the sweep and push the files across.
package calsetup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotmc/vnacal/lib/cmdlog"
	"github.com/gotmc/vnacal/lib/config"
	"github.com/gotmc/vnacal/lib/connutil"
	"github.com/gotmc/vnacal/lib/find"
	"github.com/gotmc/vnacal/lib/stage"
	"github.com/gotmc/vnacal/lib/touchstone"
	"github.com/gotmc/vnacal/lib/visa"
	"go.uber.org/multierr"
)

// De-embedding network data commands for channel 1. FPOR is the standard
// port sequence: network port 1 towards the analyzer, port 2 towards the
// DUT.
var deembedPrefixes = [2]string{
	"CALC1:TRAN:VNET:SEND:DEEM1:PAR:DATA FPOR, ",
	"CALC1:TRAN:VNET:SEND:DEEM2:PAR:DATA FPOR, ",
}

// Report describes what a run did.
type Report struct {
	Resources   []string
	LocalPaths  []string
	RemotePaths []string
	Commands    int
}

type runner struct {
	out      io.Writer
	visaOpts *visa.Options
	listOpts *find.ListOptions
}

// Option customizes Run.
type Option func(*runner)

// WithOutput sets where the resource listing is printed (default stdout).
func WithOutput(w io.Writer) Option { return func(r *runner) { r.out = w } }

// WithTransport overrides the transport options derived from the config.
func WithTransport(o visa.Options) Option { return func(r *runner) { r.visaOpts = &o } }

// WithDiscovery overrides the resource discovery options.
func WithDiscovery(o find.ListOptions) Option { return func(r *runner) { r.listOpts = &o } }

// RemotePath joins an instrument folder and a file name with the folder's
// own separator; instrument folders are often Windows paths.
func RemotePath(dir, name string) string {
	sep := "/"
	if strings.Contains(dir, `\`) {
		sep = `\`
	}
	return strings.TrimRight(dir, `\/`) + sep + name
}

// Run validates cfg and performs every step once, in order. The first
// failure stops the run; instrument settings already applied stay applied.
func Run(ctx context.Context, cfg config.Config, opts ...Option) (*Report, error) {
	r := runner{out: os.Stdout}
	for _, opt := range opts {
		opt(&r)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stages, err := stage.Build(cfg.Settings())
	if err != nil {
		return nil, err
	}

	rep := &Report{}
	if cfg.Discovery.Enabled {
		rep.Resources = r.listResources(ctx, cfg)
	}

	if err := writeTables(cfg, rep); err != nil {
		return rep, err
	}

	vopts := connutil.Options(cfg)
	if r.visaOpts != nil {
		vopts = *r.visaOpts
	}
	ctrl, cleanup, err := connutil.Setup(ctx, cfg, vopts)
	if err != nil {
		return rep, err
	}
	err = configure(ctx, ctrl, stages, cfg, rep)
	return rep, multierr.Append(err, cleanup())
}

// listResources prints what the host can see to help the operator find the
// right address. Failures only get logged.
func (r *runner) listResources(ctx context.Context, cfg config.Config) []string {
	lopts := find.ListOptions{MDNSTimeout: cfg.Discovery.MDNSTimeout}
	if r.listOpts != nil {
		lopts = *r.listOpts
	}
	resources, err := find.ListResources(ctx, lopts)
	if err != nil {
		log.Printf("listing resources: %s", err)
		return nil
	}
	fmt.Fprintf(r.out, "%q\n", resources)
	return resources
}

func writeTables(cfg config.Config, rep *Report) error {
	first, err := touchstone.Synthesize(cfg.Sweep.StartGHz*1e9, cfg.Sweep.StopGHz*1e9, cfg.Sweep.Points)
	if err != nil {
		return err
	}
	first.Impedance = cfg.Files.Impedance
	tables := []*touchstone.Table{first, first.Clone()}

	for i, name := range cfg.Files.Names {
		local := filepath.Join(cfg.Files.LocalDir, name)
		if err := tables[i].WriteFile(local); err != nil {
			return fmt.Errorf("writing calibration file: %w", err)
		}
		log.Printf("wrote %s (%d points)", local, len(tables[i].Rows))
		rep.LocalPaths = append(rep.LocalPaths, local)
		rep.RemotePaths = append(rep.RemotePaths, RemotePath(cfg.Files.RemoteDir, name))
	}
	return nil
}

// Controller is the part of *vnacal.Controller a run uses.
type Controller interface {
	stage.Commander
	SendFile(localPath, remotePath string) error
	WriteBinBlockFromFile(prefix, path string) error
}

func configure(ctx context.Context, ctrl Controller, stages []stage.Stage, cfg config.Config, rep *Report) error {
	logged := cmdlog.Wrap(ctrl)
	for _, st := range stages {
		cmdlog.Stage(st.Name, len(st.Commands))
		n, err := stage.Apply(ctx, logged, []stage.Stage{st})
		rep.Commands += n
		if err != nil {
			return err
		}
	}

	for i, local := range rep.LocalPaths {
		if err := ctx.Err(); err != nil {
			return err
		}
		remote := rep.RemotePaths[i]
		var size int64
		if fi, err := os.Stat(local); err == nil {
			size = fi.Size()
		}
		if err := ctrl.SendFile(local, remote); err != nil {
			return fmt.Errorf("transferring %s to %s: %w", local, remote, err)
		}
		cmdlog.Transfer(local, remote, size)
	}

	if !cfg.Deembed {
		return nil
	}
	for i, local := range rep.LocalPaths {
		if err := ctrl.WriteBinBlockFromFile(deembedPrefixes[i], local); err != nil {
			return fmt.Errorf("loading %s for de-embedding: %w", local, err)
		}
		log.Printf("%s%s", cmdlog.CmdStyle.Render(deembedPrefixes[i]), filepath.Base(local))
	}
	return nil
}
