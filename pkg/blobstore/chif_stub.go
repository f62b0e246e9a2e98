// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !cgo || !linux

package blobstore

// Open reports the iLO backend as unavailable on builds without cgo (or
// on non-Linux hosts): there is no portable way to dlopen a vendor .so
// without it, and /dev/hpilo only exists on Linux anyway. This keeps the
// rest of the module buildable and keeps the dispatcher's "iLO absent"
// path exercised even where cgo is disabled.
func Open() (Chif, error) {
	return nil, newUnavailableErr("blobstore.Open", nil)
}
