// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build cgo && linux

package blobstore

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

typedef void     (*chif_void_fn)(void);
typedef unsigned int (*chif_create_fn)(void**);
typedef unsigned int (*chif_handle_fn)(void*);
typedef unsigned int (*chif_timeout_fn)(void*, unsigned int);
typedef unsigned int (*chif_exchange_fn)(void*, const unsigned char*, unsigned char*, unsigned int);
typedef unsigned int (*chif_u32_fn)(void);
typedef unsigned char* (*chif_immediate_fn)(unsigned int, const char*, const char*);
typedef unsigned char* (*chif_blobdesc_fn)(const char*, const char*, const char*);
typedef unsigned char* (*chif_key_fn)(const char*, const char*);
typedef unsigned char* (*chif_fragment_fn)(unsigned int, unsigned int, const char*, const char*);

static void call_void(void *fn) { ((chif_void_fn)fn)(); }
static unsigned int call_create(void *fn, void **handle) { return ((chif_create_fn)fn)(handle); }
static unsigned int call_handle(void *fn, void *handle) { return ((chif_handle_fn)fn)(handle); }
static unsigned int call_timeout(void *fn, void *handle, unsigned int ms) { return ((chif_timeout_fn)fn)(handle, ms); }
static unsigned int call_exchange(void *fn, void *handle, const unsigned char *req, unsigned char *resp, unsigned int size) {
	return ((chif_exchange_fn)fn)(handle, req, resp, size);
}
static unsigned int call_u32(void *fn) { return ((chif_u32_fn)fn)(); }
static unsigned char* call_immediate(void *fn, unsigned int size, const char *rkey, const char *ns) {
	return ((chif_immediate_fn)fn)(size, rkey, ns);
}
static unsigned char* call_blobdesc(void *fn, const char *reqkey, const char *rkey, const char *ns) {
	return ((chif_blobdesc_fn)fn)(reqkey, rkey, ns);
}
static unsigned char* call_key(void *fn, const char *key, const char *ns) {
	return ((chif_key_fn)fn)(key, ns);
}
static unsigned char* call_fragment(void *fn, unsigned int off, unsigned int count, const char *key, const char *ns) {
	return ((chif_fragment_fn)fn)(off, count, key, ns);
}
*/
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"
)

// vendorLibName is the well-known filename of HPE's closed-source
// BlobStore2/CHIF client, searched for under PossibleLibLocations.
const vendorLibName = "ilorest_chif.so"

// findLib locates ilorest_chif.so, ported from
// original_source/chif.rs's find_lib_location.
func findLib() (string, error) {
	for _, dir := range PossibleLibLocations {
		path := filepath.Join(dir, vendorLibName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found under %v", vendorLibName, PossibleLibLocations)
}

// cgoChif dlopen()s ilorest_chif.so and resolves every exported symbol
// this module needs, mirroring original_source/chif.rs's IloRestChif
// (built with the Rust libloading crate; dlopen/dlsym via cgo is the Go
// equivalent since no pack example carries a pure-Go dlopen library).
type cgoChif struct {
	handle unsafe.Pointer // dlopen handle for the .so itself
	conn   unsafe.Pointer // BMC connection handle from ChifCreate

	fnClose          unsafe.Pointer
	fnPing           unsafe.Pointer
	fnSetRecvTimeout unsafe.Pointer
	fnExchange       unsafe.Pointer

	fnMaxBufferSize          unsafe.Pointer
	fnReadRequestSize        unsafe.Pointer
	fnResponseHeaderBlobSize unsafe.Pointer
	fnMaxReadSize            unsafe.Pointer
	fnMaxWriteSize           unsafe.Pointer
	fnWriteRequestSize       unsafe.Pointer
	fnRestResponseFixedSize  unsafe.Pointer
	fnImmediateRequestSize   unsafe.Pointer
	fnBlobRequestSize        unsafe.Pointer
	fnFinalizeRequestSize    unsafe.Pointer
	fnCreateRequestSize      unsafe.Pointer
	fnInfoRequestSize        unsafe.Pointer
	fnReadResponseSize       unsafe.Pointer
	fnDeleteRequestSize      unsafe.Pointer

	fnRestImmediate        unsafe.Pointer
	fnRestImmediateBlob    unsafe.Pointer
	fnCreateBlobEntry      unsafe.Pointer
	fnWriteFragment        unsafe.Pointer
	fnReadFragment         unsafe.Pointer
	fnFinalizeBlob         unsafe.Pointer
	fnGetKeyInfo           unsafe.Pointer
	fnDeleteBlob           unsafe.Pointer
}

// Open loads ilorest_chif.so, initializes it, and creates a new
// connection handle to the iLO BMC, mirroring IloRestChif::new.
func Open() (Chif, error) {
	path, err := findLib()
	if err != nil {
		return nil, newUnavailableErr("blobstore.Open", err)
	}

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	handle := C.dlopen(cpath, C.RTLD_NOW)
	if handle == nil {
		return nil, newUnavailableErr("blobstore.Open", fmt.Errorf("dlopen %s: %s", path, C.GoString(C.dlerror())))
	}

	c := &cgoChif{handle: handle}
	sym := func(name string) (unsafe.Pointer, error) {
		cname := C.CString(name)
		defer C.free(unsafe.Pointer(cname))
		p := C.dlsym(handle, cname)
		if p == nil {
			return nil, fmt.Errorf("symbol %s not found in %s", name, vendorLibName)
		}
		return p, nil
	}

	fnInitialize, err := sym("ChifInitialize")
	if err != nil {
		return nil, newUnavailableErr("blobstore.Open", err)
	}
	fnCreate, err := sym("ChifCreate")
	if err != nil {
		return nil, newUnavailableErr("blobstore.Open", err)
	}

	names := map[string]*unsafe.Pointer{
		"ChifClose":                     &c.fnClose,
		"ChifPing":                      &c.fnPing,
		"ChifSetRecvTimeout":            &c.fnSetRecvTimeout,
		"ChifPacketExchange":            &c.fnExchange,
		"get_max_buffer_size":           &c.fnMaxBufferSize,
		"size_of_readRequest":           &c.fnReadRequestSize,
		"size_of_responseHeaderBlob":    &c.fnResponseHeaderBlobSize,
		"max_read_size":                &c.fnMaxReadSize,
		"max_write_size":                &c.fnMaxWriteSize,
		"size_of_writeRequest":          &c.fnWriteRequestSize,
		"size_of_restResponseFixed":     &c.fnRestResponseFixedSize,
		"size_of_restImmediateRequest":  &c.fnImmediateRequestSize,
		"size_of_restBlobRequest":       &c.fnBlobRequestSize,
		"size_of_finalizeRequest":       &c.fnFinalizeRequestSize,
		"size_of_createRequest":         &c.fnCreateRequestSize,
		"size_of_infoRequest":           &c.fnInfoRequestSize,
		"size_of_readResponse":          &c.fnReadResponseSize,
		"size_of_deleteRequest":         &c.fnDeleteRequestSize,
		"rest_immediate":                &c.fnRestImmediate,
		"rest_immediate_blobdesc":       &c.fnRestImmediateBlob,
		"create_not_blobentry":          &c.fnCreateBlobEntry,
		"write_fragment":                &c.fnWriteFragment,
		"read_fragment":                 &c.fnReadFragment,
		"finalize_blob":                 &c.fnFinalizeBlob,
		"get_info":                      &c.fnGetKeyInfo,
		"delete_blob":                   &c.fnDeleteBlob,
	}
	for name, slot := range names {
		p, err := sym(name)
		if err != nil {
			C.dlclose(handle)
			return nil, newUnavailableErr("blobstore.Open", err)
		}
		*slot = p
	}

	C.call_void(fnInitialize)
	var conn unsafe.Pointer
	status := C.call_create(fnCreate, (*unsafe.Pointer)(unsafe.Pointer(&conn)))
	if uint32(status) != 0 {
		C.dlclose(handle)
		return nil, settingserrTransport("blobstore.Open", uint32(status), "ChifCreate")
	}
	c.conn = conn
	return c, nil
}

func (c *cgoChif) Ping() error {
	status := C.call_handle(c.fnPing, c.conn)
	if uint32(status) != 0 {
		return settingserrTransport("blobstore.Ping", uint32(status), "ChifPing")
	}
	return nil
}

func (c *cgoChif) SetRecvTimeout(ms uint32) error {
	status := C.call_timeout(c.fnSetRecvTimeout, c.conn, C.uint(ms))
	if uint32(status) != 0 {
		return settingserrTransport("blobstore.SetRecvTimeout", uint32(status), "ChifSetRecvTimeout")
	}
	return nil
}

func (c *cgoChif) PacketExchange(request []byte) ([]byte, error) {
	bufSize := c.MaxBufferSize()
	resp := make([]byte, bufSize)
	var reqPtr *C.uchar
	if len(request) > 0 {
		reqPtr = (*C.uchar)(unsafe.Pointer(&request[0]))
	}
	status := C.call_exchange(c.fnExchange, c.conn, reqPtr, (*C.uchar)(unsafe.Pointer(&resp[0])), C.uint(bufSize))
	if uint32(status) != 0 {
		return nil, settingserrTransport("blobstore.PacketExchange", uint32(status), "ChifPacketExchange")
	}
	return resp, nil
}

func (c *cgoChif) MaxBufferSize() uint32          { return uint32(C.call_u32(c.fnMaxBufferSize)) }
func (c *cgoChif) ReadRequestSize() uint32        { return uint32(C.call_u32(c.fnReadRequestSize)) }
func (c *cgoChif) ResponseHeaderBlobSize() uint32  { return uint32(C.call_u32(c.fnResponseHeaderBlobSize)) }
func (c *cgoChif) MaxReadSize() uint32             { return uint32(C.call_u32(c.fnMaxReadSize)) }
func (c *cgoChif) MaxWriteSize() uint32            { return uint32(C.call_u32(c.fnMaxWriteSize)) }
func (c *cgoChif) WriteRequestSize() uint32        { return uint32(C.call_u32(c.fnWriteRequestSize)) }
func (c *cgoChif) RestResponseFixedSize() uint32   { return uint32(C.call_u32(c.fnRestResponseFixedSize)) }
func (c *cgoChif) ImmediateRequestSize() uint32    { return uint32(C.call_u32(c.fnImmediateRequestSize)) }
func (c *cgoChif) BlobRequestSize() uint32         { return uint32(C.call_u32(c.fnBlobRequestSize)) }
func (c *cgoChif) FinalizeRequestSize() uint32     { return uint32(C.call_u32(c.fnFinalizeRequestSize)) }
func (c *cgoChif) CreateRequestSize() uint32       { return uint32(C.call_u32(c.fnCreateRequestSize)) }
func (c *cgoChif) InfoRequestSize() uint32         { return uint32(C.call_u32(c.fnInfoRequestSize)) }
func (c *cgoChif) ReadResponseSize() uint32        { return uint32(C.call_u32(c.fnReadResponseSize)) }
func (c *cgoChif) DeleteRequestSize() uint32       { return uint32(C.call_u32(c.fnDeleteRequestSize)) }

func cBytes(p *C.uchar, n uint32) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(p), C.int(n))
}

func (c *cgoChif) PrepareImmediateRequest(bodyAndHeaderSize uint32, responseKey, namespace string) []byte {
	rkey, ns := C.CString(responseKey), C.CString(namespace)
	defer C.free(unsafe.Pointer(rkey))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_immediate(c.fnRestImmediate, C.uint(bodyAndHeaderSize), rkey, ns)
	return cBytes(p, c.ImmediateRequestSize())
}

func (c *cgoChif) PrepareBlobRequest(requestKey, responseKey, namespace string) []byte {
	reqKey, rkey, ns := C.CString(requestKey), C.CString(responseKey), C.CString(namespace)
	defer C.free(unsafe.Pointer(reqKey))
	defer C.free(unsafe.Pointer(rkey))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_blobdesc(c.fnRestImmediateBlob, reqKey, rkey, ns)
	return cBytes(p, c.BlobRequestSize())
}

func (c *cgoChif) PrepareNewBlobEntry(requestKey, namespace string) []byte {
	k, ns := C.CString(requestKey), C.CString(namespace)
	defer C.free(unsafe.Pointer(k))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_key(c.fnCreateBlobEntry, k, ns)
	return cBytes(p, c.CreateRequestSize())
}

func (c *cgoChif) PrepareWriteFragment(writeBlockOffset, count uint32, requestKey, namespace string) []byte {
	k, ns := C.CString(requestKey), C.CString(namespace)
	defer C.free(unsafe.Pointer(k))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_fragment(c.fnWriteFragment, C.uint(writeBlockOffset), C.uint(count), k, ns)
	return cBytes(p, c.WriteRequestSize())
}

func (c *cgoChif) PrepareReadFragment(readBlockOffset, count uint32, responseKey, namespace string) []byte {
	k, ns := C.CString(responseKey), C.CString(namespace)
	defer C.free(unsafe.Pointer(k))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_fragment(c.fnReadFragment, C.uint(readBlockOffset), C.uint(count), k, ns)
	return cBytes(p, c.ReadRequestSize())
}

func (c *cgoChif) FinalizeBlobWrite(requestKey, namespace string) []byte {
	k, ns := C.CString(requestKey), C.CString(namespace)
	defer C.free(unsafe.Pointer(k))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_key(c.fnFinalizeBlob, k, ns)
	return cBytes(p, c.FinalizeRequestSize())
}

func (c *cgoChif) GetKeyInfo(key, namespace string) []byte {
	k, ns := C.CString(key), C.CString(namespace)
	defer C.free(unsafe.Pointer(k))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_key(c.fnGetKeyInfo, k, ns)
	return cBytes(p, c.InfoRequestSize())
}

func (c *cgoChif) PrepareDeleteBlob(key, namespace string) []byte {
	k, ns := C.CString(key), C.CString(namespace)
	defer C.free(unsafe.Pointer(k))
	defer C.free(unsafe.Pointer(ns))
	p := C.call_key(c.fnDeleteBlob, k, ns)
	return cBytes(p, c.DeleteRequestSize())
}

func (c *cgoChif) Close() error {
	status := C.call_handle(c.fnClose, c.conn)
	C.dlclose(c.handle)
	if uint32(status) != 0 {
		return settingserrTransport("blobstore.Close", uint32(status), "ChifClose")
	}
	return nil
}
