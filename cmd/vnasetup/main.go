// Copyright (c) 2022–2026 The vnacal developers. All rights reserved.
// Project site: https://github.com/gotmc/vnacal
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command vnasetup prepares a vector network analyzer for a measurement:
// it writes two reference .s2p files, configures the sweep and copies the
// files onto the instrument.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/gotmc/vnacal/lib/calsetup"
	"github.com/gotmc/vnacal/lib/config"
	"github.com/gotmc/vnacal/lib/find"
)

// ExitError carries the process exit code for a failed run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func main() {
	log.SetFlags(log.Lmicroseconds)

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		log.Print(err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath string
	list       bool
}

func newFlagSet(out io.Writer, cfg *config.Config, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("vnasetup", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", o.configPath, "YAML configuration file; flags override its values")
	fs.BoolVar(&o.list, "list", false, "list visible instruments and exit")
	cfg.AddFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: vnasetup [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	return fs
}

// parse builds the configuration: defaults, then the -config file, then
// the remaining flags.
func parse(out io.Writer, args []string) (config.Config, options, error) {
	var o options
	cfg := config.Default()
	if err := newFlagSet(io.Discard, &cfg, &o).Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			newFlagSet(out, &cfg, &o).Usage()
		}
		return cfg, o, err
	}
	if o.configPath == "" {
		return cfg, o, nil
	}

	cfg, err := config.Load(o.configPath, config.Default())
	if err != nil {
		return cfg, o, err
	}
	if err := newFlagSet(out, &cfg, &o).Parse(args); err != nil {
		return cfg, o, err
	}
	return cfg, o, nil
}

func run(out io.Writer, args []string) error {
	cfg, o, err := parse(out, args)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return nil
	case err != nil:
		return &ExitError{Code: 2, Err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if o.list {
		resources, err := find.ListResources(ctx, find.ListOptions{MDNSTimeout: cfg.Discovery.MDNSTimeout})
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		for _, r := range resources {
			fmt.Fprintln(out, r)
		}
		return nil
	}

	var verr *config.ValidationError
	rep, err := calsetup.Run(ctx, cfg, calsetup.WithOutput(out))
	switch {
	case errors.As(err, &verr):
		return &ExitError{Code: 2, Err: err}
	case err != nil:
		return &ExitError{Code: 1, Err: err}
	}
	log.Printf("done: %d commands sent, %d files transferred", rep.Commands, len(rep.RemotePaths))
	return nil
}
