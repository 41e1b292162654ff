// Copyright (c) 2022–2026 The vnacal developers. All rights reserved.
// Project site: https://github.com/gotmc/vnacal
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package vnacal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
)

// maxBlockLen is the largest payload a definite-length block header can
// describe (nine length digits).
const maxBlockLen = 999999999

// EncodeBlock frames data as an IEEE 488.2 definite-length arbitrary block:
// '#', one digit giving the number of length digits, the length, then the
// data bytes.
func EncodeBlock(data []byte) ([]byte, error) {
	if len(data) > maxBlockLen {
		return nil, fmt.Errorf("block of %d bytes exceeds %d", len(data), maxBlockLen)
	}
	n := strconv.Itoa(len(data))
	var b bytes.Buffer
	b.Grow(2 + len(n) + len(data))
	fmt.Fprintf(&b, "#%d%s", len(n), n)
	b.Write(data)
	return b.Bytes(), nil
}

// DecodeBlock reads one definite-length arbitrary block from r and returns
// its payload.
func DecodeBlock(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != '#' {
		return nil, fmt.Errorf("invalid block header: want # got %q", hdr[0])
	}
	if hdr[1] < '1' || hdr[1] > '9' {
		return nil, fmt.Errorf("invalid block length digit count %q", hdr[1])
	}
	digits := make([]byte, hdr[1]-'0')
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("invalid block length %q: %w", digits, err)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteBinBlock sends prefix immediately followed by data framed as a
// binary block, e.g. prefix "MMEM:DATA 'C:\x.s2p'," for a file write.
func (c *Controller) WriteBinBlock(prefix string, data []byte) error {
	block, err := EncodeBlock(data)
	if err != nil {
		return err
	}
	msg := make([]byte, 0, len(prefix)+len(block)+1)
	msg = append(msg, prefix...)
	msg = append(msg, block...)
	msg = append(msg, c.term)
	if err := c.write(msg); err != nil {
		return fmt.Errorf("error writing block for %q: %w", prefix, err)
	}
	return c.sync()
}

// WriteBinBlockFromFile sends prefix followed by the contents of the local
// file at path framed as a binary block.
func (c *Controller) WriteBinBlockFromFile(prefix, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.WriteBinBlock(prefix, data)
}

// SendFile copies the local file at localPath to remotePath on the
// instrument's filesystem using MMEM:DATA. The instrument creates or
// overwrites remotePath; nothing is read back to confirm it.
func (c *Controller) SendFile(localPath, remotePath string) error {
	return c.WriteBinBlockFromFile(fmt.Sprintf("MMEM:DATA '%s',", remotePath), localPath)
}
