// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/uefisettings/internal/ulog"
	bytesrange "github.com/linuxboot/uefisettings/pkg/bytes"
	"github.com/linuxboot/uefisettings/pkg/guid"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

var packageLog = ulog.Tagged("hii")

// PackageKind identifies the kind of an individual package inside a
// package-list.
type PackageKind byte

// Recognized package kinds (UEFI HII spec, Table "EFI_HII_PACKAGE_*").
const (
	PackageTypeGUID       PackageKind = 0x01
	PackageTypeForms      PackageKind = 0x02
	PackageTypeStrings    PackageKind = 0x04
	PackageTypeFonts      PackageKind = 0x05
	PackageTypeImages     PackageKind = 0x06
	PackageTypeSimpleFont PackageKind = 0x07
	PackageTypeDevicePath PackageKind = 0x08
	PackageTypeKeyboard   PackageKind = 0x09
	PackageTypeAnimations PackageKind = 0x0A
	PackageTypeEnd        PackageKind = 0xDF
)

func (k PackageKind) String() string {
	switch k {
	case PackageTypeGUID:
		return "Guid"
	case PackageTypeForms:
		return "Forms"
	case PackageTypeStrings:
		return "Strings"
	case PackageTypeFonts:
		return "Fonts"
	case PackageTypeImages:
		return "Images"
	case PackageTypeSimpleFont:
		return "SimpleFont"
	case PackageTypeDevicePath:
		return "DevicePath"
	case PackageTypeKeyboard:
		return "Keyboard"
	case PackageTypeAnimations:
		return "Animations"
	case PackageTypeEnd:
		return "End"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(k))
	}
}

// Package is a single entry inside a PackageList: a kind tag plus the raw
// bytes of its body (package header stripped).
type Package struct {
	Kind PackageKind
	Data []byte
}

// PackageList is a GUID-scoped, ordered sequence of Packages, the unit the
// HiiDB is built out of.
type PackageList struct {
	GUID     *guid.GUID
	Packages []Package
	// Span is this list's byte range within the raw HiiDB image it was
	// parsed from, used by DB.UncoveredRanges to track which parts of
	// the image no package-list claims.
	Span bytesrange.Range
}

// DB is a fully parsed HiiDB image: every package-list found in it. The
// lazily-built string and form caches are layered on top by Cache in
// db.go.
type DB struct {
	Lists []PackageList
}

// ParseDB walks a raw HiiDB image and splits it into package-lists and
// their packages. Per spec, parse errors within one package-list are
// localized: a malformed list is recorded as a warning in the returned
// multierror and parsing continues with the next list, rather than
// aborting the whole database.
func ParseDB(buf []byte) (*DB, error) {
	r := newReader(buf)
	var db DB
	var warnings *multierror.Error

	for r.remaining() >= guid.Size+4 {
		start := r.offset()
		list, end, err := parsePackageList(r)
		if err != nil {
			warnings = multierror.Append(warnings, err)
			// end is the list's declared end offset if its header was
			// read far enough to know one; resync there and keep
			// scanning so one malformed list doesn't discard every
			// well-formed list after it. end == 0 means the header
			// was unreadable or declared an unusable length, so there
			// is nowhere safe to resync to and the remaining buffer is
			// abandoned.
			if end > start {
				if serr := r.seek(end); serr != nil {
					break
				}
				continue
			}
			break
		}
		db.Lists = append(db.Lists, *list)
	}
	if len(db.Lists) == 0 && warnings.ErrorOrNil() != nil {
		return nil, settingserr.New(settingserr.ParseError, "hii.ParseDB", warnings)
	}

	if gaps := db.UncoveredRanges(buf); len(gaps) > 0 {
		packageLog.Warnf("hii.ParseDB: %d byte range(s) of the image claimed by no package-list: %s", len(gaps), gaps)
		if !isAllZero(gaps.Compile(buf)) {
			packageLog.Warnf("hii.ParseDB: unclaimed byte ranges contain non-zero data, possible truncated or unrecognized package-list")
		}
	}

	return &db, warnings.ErrorOrNil()
}

// UncoveredRanges reports the byte spans of buf that lie within the image
// but outside every parsed package-list's Span, the same kind of coverage
// bookkeeping firmware-layout tooling uses to find unaccounted regions of
// an image.
func (db *DB) UncoveredRanges(buf []byte) bytesrange.Ranges {
	var covered bytesrange.Ranges
	for _, list := range db.Lists {
		covered = append(covered, list.Span)
	}
	full := bytesrange.Range{Offset: 0, Length: uint64(len(buf))}
	return full.Exclude(covered...)
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// parsePackageList parses one package-list starting at r's current
// offset. On error it also returns the list's declared end offset when
// the header was read and its declared length covers at least the header
// and stays within the buffer (0 otherwise), so
// ParseDB can resync past a malformed list instead of abandoning the
// rest of the image.
func parsePackageList(r *reader) (*PackageList, int, error) {
	start := r.offset()
	g, err := r.guid()
	if err != nil {
		return nil, 0, fmt.Errorf("package-list header: %w", err)
	}
	length, err := r.u32()
	if err != nil {
		return nil, 0, fmt.Errorf("package-list length: %w", err)
	}
	if length < uint32(guid.Size+4) {
		return nil, 0, fmt.Errorf("package-list %s: length %d shorter than header", g, length)
	}
	end := start + int(length)
	span := bytesrange.Range{Offset: uint64(start), Length: uint64(length)}
	full := bytesrange.Ranges{{Offset: 0, Length: uint64(len(r.buf))}}
	if !full.IsIn(span.Offset) || !full.IsIn(span.Offset+span.Length-1) {
		return nil, 0, fmt.Errorf("package-list %s: length %d exceeds buffer", g, length)
	}

	list := PackageList{GUID: g, Span: span}
	for r.offset() < end {
		pkg, err := parsePackage(r, end)
		if err != nil {
			return nil, end, fmt.Errorf("package-list %s: %w", g, err)
		}
		if pkg.Kind == PackageTypeEnd {
			break
		}
		list.Packages = append(list.Packages, *pkg)
	}
	if err := r.seek(end); err != nil {
		return nil, end, err
	}
	return &list, end, nil
}

func parsePackage(r *reader, listEnd int) (*Package, error) {
	pkgLen, err := r.u24()
	if err != nil {
		return nil, fmt.Errorf("package length: %w", err)
	}
	kind, err := r.u8()
	if err != nil {
		return nil, fmt.Errorf("package kind: %w", err)
	}
	if pkgLen < 4 {
		return nil, fmt.Errorf("package kind %s: length %d shorter than header", PackageKind(kind), pkgLen)
	}
	bodyLen := int(pkgLen) - 4
	if r.offset()+bodyLen > listEnd {
		return nil, fmt.Errorf("package kind %s: body length %d exceeds list bounds", PackageKind(kind), bodyLen)
	}
	data, err := r.take(bodyLen)
	if err != nil {
		return nil, fmt.Errorf("package kind %s body: %w", PackageKind(kind), err)
	}
	return &Package{Kind: PackageKind(kind), Data: data}, nil
}
