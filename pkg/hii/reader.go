// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"encoding/binary"
	"fmt"

	"github.com/linuxboot/uefisettings/pkg/guid"
)

// reader is a cursor over an immutable byte slice. It never copies the
// backing buffer and never outlives it; every read is bounds-checked and
// returns a ParseError-flavored error on underrun rather than panicking.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

// remaining returns the number of unread bytes.
func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// offset reports the current cursor position.
func (r *reader) offset() int {
	return r.off
}

// seek moves the cursor to an absolute offset within the buffer.
func (r *reader) seek(off int) error {
	if off < 0 || off > len(r.buf) {
		return fmt.Errorf("seek %d out of range [0,%d]", off, len(r.buf))
	}
	r.off = off
	return nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("short read: need %d bytes, have %d", n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// u24 reads a 3-byte little-endian integer, the width used by HII package
// lengths.
func (r *reader) u24() (uint32, error) {
	b, err := r.take(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

// guid reads a 16-byte mixed-endian GUID.
func (r *reader) guid() (*guid.GUID, error) {
	b, err := r.take(guid.Size)
	if err != nil {
		return nil, err
	}
	var g guid.GUID
	copy(g[:], b)
	return &g, nil
}

// cstring reads a NUL-terminated ASCII string, consuming the terminator.
func (r *reader) cstring() (string, error) {
	start := r.off
	for {
		b, err := r.u8()
		if err != nil {
			return "", fmt.Errorf("unterminated string starting at %d: %w", start, err)
		}
		if b == 0 {
			return string(r.buf[start : r.off-1]), nil
		}
	}
}
