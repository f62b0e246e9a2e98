// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blobstore implements the BlobStore2 transport to an HPE iLO
// baseboard management controller: packet framing and sequence-number
// matching over a vendor shared library's ChifXxx C ABI, plus the
// key-value blob operations (put/get/delete, fragmented reads/writes)
// used as the payload channel for Redfish HTTP requests (spec §4.6).
package blobstore

import (
	"fmt"

	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

// Namespace is the only blob namespace this module's caller ever uses;
// per spec, entries under it expire roughly an hour after creation.
const Namespace = "volatile"

// Chif is the Go equivalent of the vendor ilorest_chif.so C ABI (named
// for the CHIF - "Channel Interface" - functions HPE's library exports).
// Exactly one real implementation exists, resolving these via dlopen at
// runtime (chif_cgo.go); everything above this interface is pure Go and
// exercised independently of the vendor library through a fake in tests.
type Chif interface {
	// Ping checks BMC connectivity.
	Ping() error
	// SetRecvTimeout bounds how long PacketExchange waits, in
	// milliseconds.
	SetRecvTimeout(ms uint32) error
	// PacketExchange submits a fully-built request packet and returns
	// the raw response buffer (sized MaxBufferSize()).
	PacketExchange(request []byte) ([]byte, error)

	MaxBufferSize() uint32
	ReadRequestSize() uint32
	ResponseHeaderBlobSize() uint32
	MaxReadSize() uint32
	MaxWriteSize() uint32
	WriteRequestSize() uint32
	RestResponseFixedSize() uint32
	ImmediateRequestSize() uint32
	BlobRequestSize() uint32
	FinalizeRequestSize() uint32
	CreateRequestSize() uint32
	InfoRequestSize() uint32
	ReadResponseSize() uint32
	DeleteRequestSize() uint32

	// PrepareImmediateRequest builds a request packet header for a
	// single-packet REST request whose body is appended by the caller.
	PrepareImmediateRequest(bodyAndHeaderSize uint32, responseKey, namespace string) []byte
	// PrepareBlobRequest builds a request packet referring to a
	// previously-written request blob, for payloads too large to send
	// in a single packet.
	PrepareBlobRequest(requestKey, responseKey, namespace string) []byte
	PrepareNewBlobEntry(requestKey, namespace string) []byte
	PrepareWriteFragment(writeBlockOffset, count uint32, requestKey, namespace string) []byte
	PrepareReadFragment(readBlockOffset, count uint32, responseKey, namespace string) []byte
	FinalizeBlobWrite(requestKey, namespace string) []byte
	GetKeyInfo(key, namespace string) []byte
	PrepareDeleteBlob(key, namespace string) []byte

	// Close releases the vendor library handle. Not reentrant: must not
	// be called from multiple goroutines concurrently (spec §5, "Shared
	// resources").
	Close() error
}

// errVendorLibUnavailable is the cause reported by the non-cgo build's
// Open. The cgo build reports its more specific lookup, dlopen or dlsym
// failure as the cause instead; both are wrapped as the same
// BackendUnavailable condition for the dispatcher.
var errVendorLibUnavailable = fmt.Errorf("ilorest_chif.so vendor library not available")

// PossibleLibLocations are the directories searched for ilorest_chif.so,
// ported from original_source/chif.rs's find_lib_location.
var PossibleLibLocations = []string{
	"/usr/lib64",
	"/usr/local/lib64",
	"/usr/lib",
	"/usr/local/lib",
}

// newUnavailableErr wraps errVendorLibUnavailable (or a more specific
// cause) as a settingserr.Error of kind BackendUnavailable.
func newUnavailableErr(op string, cause error) error {
	if cause == nil {
		cause = errVendorLibUnavailable
	}
	return settingserr.New(settingserr.BackendUnavailable, op, cause)
}

// settingserrTransport wraps a non-zero CHIF status code as a
// TransportError, per spec §7 ("TransportError: BlobStore exchange
// failed — non-zero status, sequence mismatch, or timeout").
func settingserrTransport(op string, status uint32, call string) error {
	return settingserr.New(settingserr.TransportError, op,
		fmt.Errorf("%s returned unexpected status code %d", call, status))
}
