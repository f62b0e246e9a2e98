// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	bytesrange "github.com/linuxboot/uefisettings/pkg/bytes"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

// DefaultEfivarsMount is the conventional mount point of the EFI variable
// filesystem on Linux.
const DefaultEfivarsMount = "/sys/firmware/efi/efivars"

// hiiDBVarName is the well-known EFI variable (name-GUID pair) under which
// OCP-style firmware publishes the physical address and length of the
// in-memory HiiDB image.
const hiiDBVarName = "HiiDB-1b838190-4625-4ead-abc9-cd5e6af18fe0"

// DefaultMemDevice is the character device exposing a read-only window
// into host physical memory.
const DefaultMemDevice = "/dev/mem"

// LocatorOptions configures where the HiiDB locator looks for its inputs.
// The zero value uses the conventional Linux paths.
type LocatorOptions struct {
	EfivarsMount string
	MemDevice    string
}

func (o LocatorOptions) efivarsMount() string {
	if o.EfivarsMount != "" {
		return o.EfivarsMount
	}
	return DefaultEfivarsMount
}

func (o LocatorOptions) memDevice() string {
	if o.MemDevice != "" {
		return o.MemDevice
	}
	return DefaultMemDevice
}

// Available reports whether the HiiDB EFI variable is present, which is
// the dispatcher's signal that the Hii backend can be tried at all.
func Available(opts LocatorOptions) bool {
	_, err := os.Stat(opts.efivarsMount() + "/" + hiiDBVarName)
	return err == nil
}

// ExtractDB locates the in-memory HiiDB image via the HiiDB EFI variable
// and copies it out of physical memory into an owned buffer.
//
// The EFI variable's value is (4-byte attribute flags, 4-byte pointer,
// 4-byte size), all little-endian (see original_source's extract.rs).
func ExtractDB(opts LocatorOptions) ([]byte, error) {
	varPath := opts.efivarsMount() + "/" + hiiDBVarName
	raw, err := os.ReadFile(varPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, settingserr.New(settingserr.BackendUnavailable, "hii.ExtractDB", err)
		}
		return nil, settingserr.New(settingserr.Permission, "hii.ExtractDB", err)
	}
	if len(raw) < 12 {
		return nil, settingserr.New(settingserr.ParseError, "hii.ExtractDB",
			fmt.Errorf("efivar %s too short: %d bytes", hiiDBVarName, len(raw)))
	}

	span := bytesrange.Range{
		Offset: uint64(binary.LittleEndian.Uint32(raw[4:8])),
		Length: uint64(binary.LittleEndian.Uint32(raw[8:12])),
	}

	mem, err := os.Open(opts.memDevice())
	if err != nil {
		return nil, settingserr.New(settingserr.Permission, "hii.ExtractDB", err)
	}
	defer mem.Close()

	buf := make([]byte, span.Length)
	n, err := mem.ReadAt(buf, int64(span.Offset))
	if err != nil && err != io.EOF {
		return nil, settingserr.New(settingserr.Permission, "hii.ExtractDB", err)
	}
	if n != int(span.Length) {
		return nil, settingserr.New(settingserr.Permission, "hii.ExtractDB",
			fmt.Errorf("short read from %s at span %s: got %d of %d bytes", opts.memDevice(), span, n, span.Length))
	}
	return buf, nil
}
