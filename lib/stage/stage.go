// Package stage groups the analyzer configuration sequence into named,
// ordered stages of write-only SCPI commands.
package stage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Commander sends one SCPI command and reports only whether it could be
// delivered. *vnacal.Controller satisfies it.
type Commander interface {
	Command(format string, a ...any) error
}

// Stage is a named group of commands issued together.
type Stage struct {
	Name     string
	Commands []string
}

// Stage names, in issue order.
const (
	Reset          = "reset"
	Display        = "display"
	SweepMode      = "sweep mode"
	FrequencyRange = "frequency range"
	Bandwidth      = "bandwidth"
	Power          = "power"
	Averaging      = "averaging"
)

// Settings are the sweep parameters the stages are built from.
type Settings struct {
	StartGHz      float64
	StopGHz       float64
	Points        int
	IFBandwidthHz float64
	IFSelectivity string // NORM, MED or HIGH
	PowerDBm      float64
	AverageCount  int
	AverageMode   string // AUTO, FLAT, RED or MOV
	Averaging     bool
}

// Selectivities and AverageModes list the accepted short forms and the
// long forms they abbreviate.
var (
	Selectivities = map[string]string{"NORM": "NORMAL", "MED": "MEDIUM", "HIGH": "HIGH"}
	AverageModes  = map[string]string{"AUTO": "AUTO", "FLAT": "FLATTEN", "RED": "REDUCE", "MOV": "MOVING"}
)

// Mnemonic returns the SCPI short form of s if s is any spelling (short,
// long, any case) listed in forms, and false otherwise.
func Mnemonic(forms map[string]string, s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for short, long := range forms {
		if s == short || s == long {
			return short, true
		}
	}
	return "", false
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// Build returns the configuration stages for s. The sweep type and
// generation are set before the point count and frequency range, which
// depend on them.
func Build(s Settings) ([]Stage, error) {
	sel, ok := Mnemonic(Selectivities, s.IFSelectivity)
	if !ok {
		return nil, fmt.Errorf("unknown IF selectivity %q", s.IFSelectivity)
	}
	mode, ok := Mnemonic(AverageModes, s.AverageMode)
	if !ok {
		return nil, fmt.Errorf("unknown averaging mode %q", s.AverageMode)
	}
	return []Stage{
		{Reset, []string{"*RST"}},
		{Display, []string{
			":SYSTEM:DISPLAY:UPDATE ON",
			"SYST:DISP:BAR:HKEY ON",
		}},
		{SweepMode, []string{
			"SWE:TYPE LIN",
			"SWE:GEN STEP",
			"INIT:CONT:ALL ON",
		}},
		{FrequencyRange, []string{
			":FREQ:STAR " + num(s.StartGHz) + "GHZ",
			":FREQ:STOP " + num(s.StopGHz) + "GHZ",
			"SWE:POIN " + strconv.Itoa(s.Points),
		}},
		{Bandwidth, []string{
			"BAND " + num(s.IFBandwidthHz),
			"BAND:RES:SEL " + sel,
		}},
		{Power, []string{"SOUR:POW " + num(s.PowerDBm)}},
		{Averaging, []string{
			"AVER:COUN " + strconv.Itoa(s.AverageCount),
			"AVER:MODE " + mode,
			"AVER " + onOff(s.Averaging),
		}},
	}, nil
}

// Error reports the command that failed and the stage it belongs to.
type Error struct {
	Stage   string
	Command string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s: %q: %v", e.Stage, e.Command, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Apply issues every command of every stage in order and returns the
// number of commands sent. It stops at the first failure or when ctx is
// done; commands already sent are not undone.
func Apply(ctx context.Context, c Commander, stages []Stage) (int, error) {
	sent := 0
	for _, st := range stages {
		for _, cmd := range st.Commands {
			if err := ctx.Err(); err != nil {
				return sent, &Error{Stage: st.Name, Command: cmd, Err: err}
			}
			if err := c.Command("%s", cmd); err != nil {
				return sent, &Error{Stage: st.Name, Command: cmd, Err: err}
			}
			sent++
		}
	}
	return sent, nil
}

// Commands flattens stages into the issue order.
func Commands(stages []Stage) []string {
	var out []string
	for _, st := range stages {
		out = append(out, st.Commands...)
	}
	return out
}
