package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	cmds   []string
	failAt string
}

func (r *recorder) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	if cmd == r.failAt {
		return errors.New("timeout")
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

func defaults() Settings {
	return Settings{
		StartGHz:      0.5,
		StopGHz:       3.0,
		Points:        500,
		IFBandwidthHz: 10000,
		IFSelectivity: "HIGH",
		PowerDBm:      0,
		AverageCount:  3,
		AverageMode:   "RED",
		Averaging:     true,
	}
}

func TestBuild(t *testing.T) {
	stages, err := Build(defaults())
	require.NoError(t, err)
	require.Equal(t, []string{
		"*RST",
		":SYSTEM:DISPLAY:UPDATE ON",
		"SYST:DISP:BAR:HKEY ON",
		"SWE:TYPE LIN",
		"SWE:GEN STEP",
		"INIT:CONT:ALL ON",
		":FREQ:STAR 0.5GHZ",
		":FREQ:STOP 3GHZ",
		"SWE:POIN 500",
		"BAND 10000",
		"BAND:RES:SEL HIGH",
		"SOUR:POW 0",
		"AVER:COUN 3",
		"AVER:MODE RED",
		"AVER ON",
	}, Commands(stages))

	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
	}
	require.Equal(t, []string{Reset, Display, SweepMode, FrequencyRange, Bandwidth, Power, Averaging}, names)
}

func TestSweepModeBeforeFrequencyRange(t *testing.T) {
	stages, err := Build(defaults())
	require.NoError(t, err)
	cmds := Commands(stages)
	index := func(cmd string) int {
		for i, c := range cmds {
			if c == cmd {
				return i
			}
		}
		t.Fatalf("%q not issued", cmd)
		return -1
	}
	for _, mode := range []string{"SWE:TYPE LIN", "SWE:GEN STEP"} {
		for _, dep := range []string{"SWE:POIN 500", ":FREQ:STAR 0.5GHZ", ":FREQ:STOP 3GHZ"} {
			require.Less(t, index(mode), index(dep), "%s before %s", mode, dep)
		}
	}
}

func TestBuildLongForms(t *testing.T) {
	s := defaults()
	s.IFSelectivity = "normal"
	s.AverageMode = "Flatten"
	s.Averaging = false
	s.PowerDBm = -10.5
	stages, err := Build(s)
	require.NoError(t, err)
	cmds := Commands(stages)
	require.Contains(t, cmds, "BAND:RES:SEL NORM")
	require.Contains(t, cmds, "AVER:MODE FLAT")
	require.Contains(t, cmds, "AVER OFF")
	require.Contains(t, cmds, "SOUR:POW -10.5")
}

func TestBuildRejects(t *testing.T) {
	s := defaults()
	s.IFSelectivity = "LOW"
	_, err := Build(s)
	require.Error(t, err)

	s = defaults()
	s.AverageMode = "MEAN"
	_, err = Build(s)
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	stages, err := Build(defaults())
	require.NoError(t, err)

	var r recorder
	n, err := Apply(context.Background(), &r, stages)
	require.NoError(t, err)
	require.Equal(t, 15, n)
	require.Equal(t, Commands(stages), r.cmds)
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	stages, err := Build(defaults())
	require.NoError(t, err)

	r := recorder{failAt: "BAND 10000"}
	n, err := Apply(context.Background(), &r, stages)
	require.Error(t, err)
	require.Equal(t, 9, n)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	require.Equal(t, Bandwidth, serr.Stage)
	require.Equal(t, "BAND 10000", serr.Command)
}

func TestApplyCanceled(t *testing.T) {
	stages, err := Build(defaults())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var r recorder
	n, err := Apply(ctx, &r, stages)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
	require.Empty(t, r.cmds)
}
