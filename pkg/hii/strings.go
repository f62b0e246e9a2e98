// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// sibtTag is the one-byte tag prefixing each String Information Block
// inside a Strings package body (UEFI HII spec, EFI_HII_SIBT_*).
type sibtTag byte

const (
	sibtEnd             sibtTag = 0x00
	sibtStringSCSU      sibtTag = 0x10
	sibtStringSCSUFont  sibtTag = 0x11
	sibtStringsSCSU     sibtTag = 0x12
	sibtStringsSCSUFont sibtTag = 0x13
	sibtStringUCS2      sibtTag = 0x14
	sibtStringUCS2Font  sibtTag = 0x15
	sibtStringsUCS2     sibtTag = 0x16
	sibtStringsUCS2Font sibtTag = 0x17
	sibtDuplicate       sibtTag = 0x20
	sibtSkip2           sibtTag = 0x21
	sibtSkip1           sibtTag = 0x22
	sibtExt1            sibtTag = 0x30
	sibtExt2            sibtTag = 0x31
	sibtExt4            sibtTag = 0x32
	sibtFont            sibtTag = 0x40
)

var ucs2Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// StringPackage is the decoded form of a Strings package: a language tag
// plus a sparse string-id -> UTF-8 map. string-id 0 is reserved and never
// populated.
type StringPackage struct {
	Language string
	Strings  map[uint16]string
	// Partial is set when the block stream could not be fully decoded
	// (an unrecoverable tag was hit); Strings holds everything decoded
	// before that point.
	Partial bool
}

// decodeStringPackage parses a Strings package body: a NUL-terminated
// language tag followed by a stream of String Information Blocks.
//
// Per spec, unknown tags must never abort parsing outright: extension
// blocks (EXT1/EXT2/EXT4) are skipped by their declared length, and any
// other truly unrecognized tag stops block iteration but still yields
// everything decoded so far, with the package marked Partial.
func decodeStringPackage(data []byte) (*StringPackage, error) {
	r := newReader(data)
	lang, err := r.cstring()
	if err != nil {
		return nil, fmt.Errorf("string package language tag: %w", err)
	}

	sp := &StringPackage{Language: lang, Strings: make(map[uint16]string)}
	id := uint16(1)

	for r.remaining() > 0 {
		tagByte, err := r.u8()
		if err != nil {
			sp.Partial = true
			return sp, nil
		}
		tag := sibtTag(tagByte)

		switch tag {
		case sibtEnd:
			return sp, nil

		case sibtStringUCS2, sibtStringUCS2Font:
			if tag == sibtStringUCS2Font {
				if _, err := r.take(4); err != nil { // font id(2) + font size(2), approximate
					sp.Partial = true
					return sp, nil
				}
			}
			s, err := readUCS2String(r)
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			sp.Strings[id] = s
			id++

		case sibtStringSCSU, sibtStringSCSUFont:
			if tag == sibtStringSCSUFont {
				if _, err := r.take(4); err != nil {
					sp.Partial = true
					return sp, nil
				}
			}
			s, err := readSCSUString(r)
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			sp.Strings[id] = s
			id++

		case sibtStringsUCS2, sibtStringsUCS2Font:
			if tag == sibtStringsUCS2Font {
				if _, err := r.take(4); err != nil {
					sp.Partial = true
					return sp, nil
				}
			}
			count, err := r.u16()
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			for i := uint16(0); i < count; i++ {
				s, err := readUCS2String(r)
				if err != nil {
					sp.Partial = true
					return sp, nil
				}
				sp.Strings[id] = s
				id++
			}

		case sibtStringsSCSU, sibtStringsSCSUFont:
			if tag == sibtStringsSCSUFont {
				if _, err := r.take(4); err != nil {
					sp.Partial = true
					return sp, nil
				}
			}
			count, err := r.u16()
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			for i := uint16(0); i < count; i++ {
				s, err := readSCSUString(r)
				if err != nil {
					sp.Partial = true
					return sp, nil
				}
				sp.Strings[id] = s
				id++
			}

		case sibtDuplicate:
			dupID, err := r.u16()
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			// copies the string already assigned to dupID under the
			// current id, leaving a hole if dupID was never assigned
			if s, ok := sp.Strings[dupID]; ok {
				sp.Strings[id] = s
			}
			id++

		case sibtSkip1:
			n, err := r.u8()
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			id += uint16(n)

		case sibtSkip2:
			n, err := r.u16()
			if err != nil {
				sp.Partial = true
				return sp, nil
			}
			id += n

		case sibtExt1:
			length, err := r.u8()
			if err != nil || int(length) < 2 {
				sp.Partial = true
				return sp, nil
			}
			if _, err := r.take(int(length) - 2); err != nil {
				sp.Partial = true
				return sp, nil
			}

		case sibtExt2:
			length, err := r.u16()
			if err != nil || int(length) < 3 {
				sp.Partial = true
				return sp, nil
			}
			if _, err := r.take(int(length) - 3); err != nil {
				sp.Partial = true
				return sp, nil
			}

		case sibtExt4:
			length, err := r.u32()
			if err != nil || length < 5 {
				sp.Partial = true
				return sp, nil
			}
			if _, err := r.take(int(length) - 5); err != nil {
				sp.Partial = true
				return sp, nil
			}

		default:
			// Truly unrecognized tag (e.g. sibtFont, or a future
			// extension this parser doesn't know): its length isn't
			// recoverable without UEFI-spec-level knowledge of the
			// block shape, so stop here and report what we have.
			sp.Partial = true
			return sp, nil
		}
	}
	sp.Partial = true
	return sp, nil
}

// readUCS2String reads a NUL-terminated (0x0000) UCS-2LE string and
// transcodes it to UTF-8.
func readUCS2String(r *reader) (string, error) {
	start := r.offset()
	for {
		b, err := r.take(2)
		if err != nil {
			return "", err
		}
		if b[0] == 0 && b[1] == 0 {
			raw := r.buf[start : r.offset()-2]
			out, err := ucs2Decoder.Bytes(raw)
			if err != nil {
				return "", err
			}
			return string(out), nil
		}
	}
}

// readSCSUString reads a NUL-terminated SCSU-compressed string. Full SCSU
// decompression is out of scope (BIOS string packages observed in
// practice use UCS2); bytes are treated as Latin-1, which round-trips
// correctly for the common case of a pure-ASCII SCSU string.
func readSCSUString(r *reader) (string, error) {
	start := r.offset()
	for {
		b, err := r.u8()
		if err != nil {
			return "", err
		}
		if b == 0 {
			raw := r.buf[start : r.offset()-1]
			runes := make([]rune, len(raw))
			for i, c := range raw {
				runes[i] = rune(c)
			}
			return string(runes), nil
		}
	}
}
