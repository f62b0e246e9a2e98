// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/uefisettings/pkg/guid"
)

func TestParseDBContinuesPastOneBadPackageList(t *testing.T) {
	// First list declares itself 24 bytes (20-byte header + one 4-byte
	// package) but that package's own length field (2) is shorter than
	// a package header, so parsePackageList fails on it. The list's
	// declared length is still valid, so ParseDB must resync to its end
	// and go on to parse the second, well-formed, list rather than
	// abandoning the whole image.
	badGUID := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")
	goodGUID := guid.MustParse("11111111-2222-3333-4444-555555555555")

	var buf []byte
	buf = append(buf, badGUID[:]...)
	badLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(badLen, 24)
	buf = append(buf, badLen...)
	buf = append(buf, 2, 0, 0, byte(PackageTypeForms)) // pkgLen=2 (u24 LE), kind=Forms

	buf = append(buf, goodGUID[:]...)
	goodLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(goodLen, 20) // header only, zero packages
	buf = append(buf, goodLen...)

	db, err := ParseDB(buf)
	require.Error(t, err)
	require.NotNil(t, db)
	require.Len(t, db.Lists, 1)
	require.Equal(t, goodGUID, db.Lists[0].GUID)
}

func TestParseDBAllListsMalformedReturnsParseError(t *testing.T) {
	badGUID := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")
	var buf []byte
	buf = append(buf, badGUID[:]...)
	badLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(badLen, 24)
	buf = append(buf, badLen...)
	buf = append(buf, 2, 0, 0, byte(PackageTypeForms))

	db, err := ParseDB(buf)
	require.Error(t, err)
	require.Nil(t, db)
}
