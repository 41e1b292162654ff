// Package touchstone models two-port S-parameter tables and reads and
// writes them as Touchstone .s2p files in real/imaginary format.
package touchstone

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Row is one frequency point of a two-port S-parameter table.
type Row struct {
	FreqHz float64
	S11    complex128
	S21    complex128
	S12    complex128
	S22    complex128
}

// Columns returns the row as the nine file columns: frequency followed by
// the real and imaginary parts of S11, S21, S12 and S22.
func (r Row) Columns() [9]float64 {
	return [9]float64{
		r.FreqHz,
		real(r.S11), imag(r.S11),
		real(r.S21), imag(r.S21),
		real(r.S12), imag(r.S12),
		real(r.S22), imag(r.S22),
	}
}

func rowFromColumns(c [9]float64) Row {
	return Row{
		FreqHz: c[0],
		S11:    complex(c[1], c[2]),
		S21:    complex(c[3], c[4]),
		S12:    complex(c[5], c[6]),
		S22:    complex(c[7], c[8]),
	}
}

// DefaultImpedance is the reference impedance in ohms.
const DefaultImpedance = 50.0

// Table is an ordered two-port S-parameter table.
type Table struct {
	Impedance float64
	Rows      []Row
}

// Frequencies returns the frequency column in Hz.
func (t *Table) Frequencies() []float64 {
	f := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		f[i] = r.FreqHz
	}
	return f
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := &Table{Impedance: t.Impedance, Rows: make([]Row, len(t.Rows))}
	copy(c.Rows, t.Rows)
	return c
}

// Linspace returns n frequencies evenly spaced from start to stop
// inclusive.
func Linspace(start, stop float64, n int) ([]float64, error) {
	if n < 2 {
		return nil, fmt.Errorf("touchstone: need at least 2 points, got %d", n)
	}
	if !(start < stop) {
		return nil, fmt.Errorf("touchstone: start %g must be below stop %g", start, stop)
	}
	f := floats.Span(make([]float64, n), start, stop)
	f[n-1] = stop // pin the endpoint against rounding
	for i := 1; i < n; i++ {
		if !(f[i-1] < f[i]) {
			return nil, fmt.Errorf("touchstone: %g to %g is too narrow for %d distinct points", start, stop, n)
		}
	}
	return f, nil
}

// Synthesize builds a table of n points between startHz and stopHz with a
// constant response: full reflection (S11 = S22 = -1) and no transmission.
func Synthesize(startHz, stopHz float64, n int) (*Table, error) {
	freqs, err := Linspace(startHz, stopHz, n)
	if err != nil {
		return nil, err
	}
	t := &Table{Impedance: DefaultImpedance, Rows: make([]Row, n)}
	for i, f := range freqs {
		t.Rows[i] = Row{FreqHz: f, S11: -1, S22: -1}
	}
	return t, nil
}
