// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package identity reads the host's DMI identity strings, the way the
// "identify" CLI operation reports what machine it's running on
// alongside which settings backends are usable (spec §5.10).
package identity

import (
	"os"
	"strings"
)

// DefaultDMIRoot is where the kernel publishes SMBIOS/DMI fields as
// plaintext files.
const DefaultDMIRoot = "/sys/class/dmi/id"

// Machine carries the DMI fields relevant to identifying firmware/BMC
// vendor and model. Any field whose backing file is missing or
// unreadable is left as the empty string rather than erroring: not
// every board publishes every field, and this data is advisory.
type Machine struct {
	BIOSVendor     string
	BIOSVersion    string
	BIOSRelease    string
	BIOSDate       string
	ProductName    string
	ProductFamily  string
	ProductVersion string
}

// Read gathers DMI identity fields from root (normally DefaultDMIRoot).
func Read(root string) Machine {
	read := func(file string) string {
		return readFileContents(root + "/" + file)
	}
	return Machine{
		BIOSVendor:     read("bios_vendor"),
		BIOSVersion:    read("bios_version"),
		BIOSRelease:    read("bios_release"),
		BIOSDate:       read("bios_date"),
		ProductName:    read("product_name"),
		ProductFamily:  read("product_family"),
		ProductVersion: read("product_version"),
	}
}

// readFileContents mirrors original_source/exports.rs's
// read_file_contents: a missing or unreadable file yields "", not an
// error, since absence of a DMI field is normal on many boards.
func readFileContents(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
