// Copyright (c) 2022–2026 The vnacal developers. All rights reserved.
// Project site: https://github.com/gotmc/vnacal
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package vnacal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPrologixInit(t *testing.T) {
	link := newFakeLink("")
	_, err := NewPrologix(link, 20)
	require.NoError(t, err)
	want := strings.Join([]string{
		"++verbose 0", "++savecfg 0", "++addr 20", "++mode 1", "++auto 0",
		"++eoi 1", "++eos 0", "++read_tmo_ms 3000", "++eot_enable 0",
	}, "\n") + "\n"
	require.Equal(t, want, link.out.String())
}

func TestNewPrologixAR488Secondary(t *testing.T) {
	link := newFakeLink("")
	_, err := NewPrologix(link, 4, WithAR488(), WithSecondaryAddress(101))
	require.NoError(t, err)
	require.NotContains(t, link.out.String(), "savecfg")
	require.Contains(t, link.out.String(), "++addr 4 101\n")
}

func TestNewPrologixInvalidAddress(t *testing.T) {
	_, err := NewPrologix(newFakeLink(""), 31)
	require.Error(t, err)
	_, err = NewPrologix(newFakeLink(""), 4, WithSecondaryAddress(50))
	require.Error(t, err)
}

func TestPrologixEscapesAndReads(t *testing.T) {
	link := newFakeLink("1\n")
	p, err := NewPrologix(link, 20, WithAR488())
	require.NoError(t, err)
	link.out.Reset()

	c := NewController(p, WithOPCSync())
	require.NoError(t, c.WriteBinBlock("MMEM:DATA 'a',", []byte("+1\r\n")))
	want := "MMEM:DATA 'a',#14\x1b+1\x1b\r\x1b\n\n" + "*OPC?\n" + "++read eoi\n"
	require.Equal(t, want, link.out.String())
}

func TestPrologixClose(t *testing.T) {
	link := newFakeLink("")
	p, err := NewPrologix(link, 20, WithAR488())
	require.NoError(t, err)
	link.out.Reset()
	require.NoError(t, p.Close())
	require.Equal(t, "++loc\n", link.out.String())
}

func TestPrologixDoubleTerminatedResponses(t *testing.T) {
	link := newFakeLink("1\n\n1\n\n")
	p, err := NewPrologix(link, 20)
	require.NoError(t, err)

	c := NewController(p, WithOPCSync())
	require.NoError(t, c.Command("*RST"))
	require.NoError(t, c.Command("SWE:TYPE LIN"))
}

func TestPrologixResetInputBuffer(t *testing.T) {
	link := &flushLink{fakeLink: newFakeLink("")}
	p, err := NewPrologix(link, 20, WithAR488())
	require.NoError(t, err)
	require.NoError(t, p.ResetInputBuffer())
	require.Equal(t, 1, link.flushed)

	plain, err := NewPrologix(newFakeLink(""), 20, WithAR488())
	require.NoError(t, err)
	require.NoError(t, plain.ResetInputBuffer())
}

type flushLink struct {
	*fakeLink
	flushed int
}

func (f *flushLink) ResetInputBuffer() error {
	f.flushed++
	return nil
}

