package touchstone

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Header returns the option line for t: frequency in Hz, S-parameters,
// real/imaginary format, reference resistance.
func (t *Table) Header() string {
	z := t.Impedance
	if z == 0 {
		z = DefaultImpedance
	}
	return fmt.Sprintf("# Hz S RI R %.2f", z)
}

// Write serializes t: the option line, then one tab-delimited row per
// frequency point.
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, t.Header())
	for _, r := range t.Rows {
		for i, v := range r.Columns() {
			if i > 0 {
				bw.WriteByte('\t')
			}
			bw.WriteString(strconv.FormatFloat(v, 'e', 18, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFile writes t to path, replacing any existing file.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// Read parses an .s2p file in Hz/S/RI format as written by Write. Comment
// lines starting with '!' and blank lines are ignored.
func Read(r io.Reader) (*Table, error) {
	t := &Table{}
	sc := bufio.NewScanner(r)
	line := 0
	sawOptions := false
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "!") {
			continue
		}
		if strings.HasPrefix(s, "#") {
			if sawOptions {
				return nil, fmt.Errorf("touchstone: line %d: second option line", line)
			}
			z, err := parseOptions(s)
			if err != nil {
				return nil, fmt.Errorf("touchstone: line %d: %w", line, err)
			}
			t.Impedance = z
			sawOptions = true
			continue
		}
		if !sawOptions {
			return nil, fmt.Errorf("touchstone: line %d: data before option line", line)
		}
		fields := strings.Fields(s)
		if len(fields) != 9 {
			return nil, fmt.Errorf("touchstone: line %d: want 9 columns, got %d", line, len(fields))
		}
		var cols [9]float64
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("touchstone: line %d: %w", line, err)
			}
			cols[i] = v
		}
		t.Rows = append(t.Rows, rowFromColumns(cols))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawOptions {
		return nil, fmt.Errorf("touchstone: missing option line")
	}
	return t, nil
}

// ReadFile parses the .s2p file at path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// parseOptions accepts only the option line this package writes and
// returns its reference resistance.
func parseOptions(s string) (float64, error) {
	f := strings.Fields(strings.ToUpper(strings.TrimPrefix(s, "#")))
	if len(f) != 5 || f[0] != "HZ" || f[1] != "S" || f[2] != "RI" || f[3] != "R" {
		return 0, fmt.Errorf("unsupported option line %q", s)
	}
	z, err := strconv.ParseFloat(f[4], 64)
	if err != nil {
		return 0, fmt.Errorf("reference resistance: %w", err)
	}
	return z, nil
}
