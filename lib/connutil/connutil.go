// Package connutil opens the configured instrument and hands back a ready
// SCPI controller.
package connutil

import (
	"context"
	"io"
	"log"

	"github.com/gotmc/vnacal"
	"github.com/gotmc/vnacal/lib/config"
	"github.com/gotmc/vnacal/lib/find"
	"github.com/gotmc/vnacal/lib/visa"
	"go.uber.org/multierr"
)

// Options maps the instrument section of cfg to transport options.
func Options(cfg config.Config) visa.Options {
	in := cfg.Instrument
	return visa.Options{
		Timeout:      in.Timeout,
		SocketPort:   in.SocketPort,
		BaudRate:     in.BaudRate,
		PrologixPort: in.PrologixPort,
		FindPrologix: find.FindPrologix,
		AR488:        in.AR488,
		Debug:        cfg.Debug,
	}
}

// Policy maps the retry settings of cfg.
func Policy(cfg config.Config) visa.RetryPolicy {
	return visa.RetryPolicy{
		Attempts:        cfg.Instrument.Attempts,
		InitialInterval: cfg.Instrument.RetryInitial,
		MaxInterval:     cfg.Instrument.RetryMax,
	}
}

// Setup connects to the instrument named in cfg, retrying transient
// failures, and wraps the link in a controller. cleanup closes the link;
// for GPIB it first returns the instrument to front panel control.
func Setup(ctx context.Context, cfg config.Config, opts visa.Options) (ctrl *vnacal.Controller, cleanup func() error, err error) {
	nocleanup := func() error { return nil }

	res, err := visa.Parse(cfg.Instrument.Address)
	if err != nil {
		return nil, nocleanup, err
	}
	log.Printf("connecting to %s (%s)", res, res.Kind)

	link, err := visa.Connect(ctx, res, opts, Policy(cfg))
	if err != nil {
		return nil, nocleanup, err
	}

	copts := []vnacal.ControllerOption{vnacal.WithTimeout(cfg.Instrument.Timeout)}
	if cfg.Instrument.OPCSync {
		copts = append(copts, vnacal.WithOPCSync())
	}
	if cfg.Debug {
		copts = append(copts, vnacal.WithDebug())
	}
	ctrl = vnacal.NewController(link, copts...)

	cleanup = func() error {
		var err error
		if f, ok := link.(interface{ ResetInputBuffer() error }); ok {
			// Discard any unread data on the serial port before closing.
			err = multierr.Append(err, f.ResetInputBuffer())
		}
		return multierr.Append(err, closeLink(link))
	}
	return ctrl, cleanup, nil
}

func closeLink(c io.Closer) error {
	if err := c.Close(); err != nil {
		log.Printf("error closing %T: %s", c, err)
		return err
	}
	return nil
}
