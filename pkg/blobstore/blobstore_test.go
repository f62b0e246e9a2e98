// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blobstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChif is an in-memory stand-in for the vendor ilorest_chif.so,
// exercising Transport's packet framing and fragmentation logic without
// cgo or real BMC hardware. It keeps its own little key-value store to
// back blob create/write/read/delete, and a "handler" that plays the
// part of the BMC's own REST processing for immediate/blob requests.
const fakeHeaderLen = 56
const fakeKeyFieldLen = 16

const (
	tagImmediate = 1
	tagBlob      = 2
	tagNewBlob   = 3
	tagWriteFrag = 4
	tagReadFrag  = 5
	tagFinalize  = 6
	tagGetInfo   = 7
	tagDelete    = 8
)

type fakeChif struct {
	seq   uint16
	blobs map[string][]byte

	// handler simulates the BMC turning a REST request body into a
	// response body.
	handler func(body []byte) []byte
	// fragmentThreshold forces the response down the fragmented
	// (key-value-store) path once its body exceeds this many bytes.
	fragmentThreshold int

	deletedKeys   []string
	errCode       uint32 // injected into every response's error-code field, for exchange() contract tests
	seqCorruption uint16 // added to every echoed sequence number, for exchange() contract tests
}

func newFakeChif(handler func([]byte) []byte) *fakeChif {
	return &fakeChif{
		blobs:             map[string][]byte{},
		handler:           handler,
		fragmentThreshold: 1 << 20,
	}
}

func (f *fakeChif) Ping() error                    { return nil }
func (f *fakeChif) SetRecvTimeout(ms uint32) error { return nil }
func (f *fakeChif) Close() error                   { return nil }
func (f *fakeChif) MaxBufferSize() uint32          { return 256 }
func (f *fakeChif) ReadRequestSize() uint32        { return fakeHeaderLen }
func (f *fakeChif) ResponseHeaderBlobSize() uint32 { return 12 }
func (f *fakeChif) MaxReadSize() uint32            { return 96 }
func (f *fakeChif) MaxWriteSize() uint32           { return 96 }
func (f *fakeChif) WriteRequestSize() uint32       { return fakeHeaderLen }
func (f *fakeChif) RestResponseFixedSize() uint32  { return 20 }
func (f *fakeChif) ImmediateRequestSize() uint32   { return fakeHeaderLen }
func (f *fakeChif) BlobRequestSize() uint32        { return fakeHeaderLen }
func (f *fakeChif) FinalizeRequestSize() uint32    { return fakeHeaderLen }
func (f *fakeChif) CreateRequestSize() uint32      { return fakeHeaderLen }
func (f *fakeChif) InfoRequestSize() uint32        { return fakeHeaderLen }
func (f *fakeChif) ReadResponseSize() uint32       { return 16 }
func (f *fakeChif) DeleteRequestSize() uint32      { return fakeHeaderLen }

func packKey(s string) []byte {
	if len(s) > fakeKeyFieldLen {
		panic("fake key field too short for key " + s)
	}
	buf := make([]byte, fakeKeyFieldLen)
	copy(buf, s)
	return buf
}

func unpackKey(buf []byte) string {
	return string(bytes.TrimRight(buf, "\x00"))
}

func (f *fakeChif) header(tag, param1, param2 uint32, key1, key2 string) []byte {
	f.seq++
	buf := make([]byte, fakeHeaderLen)
	binary.LittleEndian.PutUint16(buf[2:4], f.seq)
	binary.LittleEndian.PutUint32(buf[12:16], tag)
	binary.LittleEndian.PutUint32(buf[16:20], param1)
	binary.LittleEndian.PutUint32(buf[20:24], param2)
	copy(buf[24:24+fakeKeyFieldLen], packKey(key1))
	copy(buf[24+fakeKeyFieldLen:24+2*fakeKeyFieldLen], packKey(key2))
	return buf
}

func (f *fakeChif) PrepareImmediateRequest(bodyAndHeaderSize uint32, responseKey, namespace string) []byte {
	return f.header(tagImmediate, bodyAndHeaderSize, 0, responseKey, "")
}

func (f *fakeChif) PrepareBlobRequest(requestKey, responseKey, namespace string) []byte {
	return f.header(tagBlob, 0, 0, requestKey, responseKey)
}

func (f *fakeChif) PrepareNewBlobEntry(requestKey, namespace string) []byte {
	return f.header(tagNewBlob, 0, 0, requestKey, "")
}

func (f *fakeChif) PrepareWriteFragment(writeBlockOffset, count uint32, requestKey, namespace string) []byte {
	return f.header(tagWriteFrag, writeBlockOffset, count, requestKey, "")
}

func (f *fakeChif) PrepareReadFragment(readBlockOffset, count uint32, responseKey, namespace string) []byte {
	return f.header(tagReadFrag, readBlockOffset, count, responseKey, "")
}

func (f *fakeChif) FinalizeBlobWrite(requestKey, namespace string) []byte {
	return f.header(tagFinalize, 0, 0, requestKey, "")
}

func (f *fakeChif) GetKeyInfo(key, namespace string) []byte {
	return f.header(tagGetInfo, 0, 0, key, "")
}

func (f *fakeChif) PrepareDeleteBlob(key, namespace string) []byte {
	return f.header(tagDelete, 0, 0, key, "")
}

func ackResponse(seq uint16, errCode uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[2:4], seq)
	binary.LittleEndian.PutUint32(buf[8:12], errCode)
	return buf
}

// restResponse builds the 20-byte IloFixedResponse-shaped header plus,
// for an immediate-mode reply, the body right after it.
func restResponse(seq uint16, errCode uint32, fragmented bool, body []byte) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint16(buf[2:4], seq)
	binary.LittleEndian.PutUint32(buf[8:12], errCode)
	if fragmented {
		binary.LittleEndian.PutUint32(buf[12:16], uint32(receiveModeFragmented))
		return buf
	}
	binary.LittleEndian.PutUint32(buf[12:16], uint32(receiveModeImmediate))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(body)))
	return append(buf, body...)
}

func (f *fakeChif) respondToRest(seq uint16, responseKey string, body []byte) []byte {
	respBody := f.handler(body)
	if len(respBody) <= f.fragmentThreshold {
		return restResponse(seq, f.errCode, false, respBody)
	}
	f.blobs[responseKey] = respBody
	return restResponse(seq, f.errCode, true, nil)
}

func (f *fakeChif) PacketExchange(request []byte) ([]byte, error) {
	if len(request) < fakeHeaderLen {
		return nil, fmt.Errorf("fake packet shorter than header")
	}
	seq := binary.LittleEndian.Uint16(request[2:4]) + f.seqCorruption
	tag := binary.LittleEndian.Uint32(request[12:16])
	param1 := binary.LittleEndian.Uint32(request[16:20])
	param2 := binary.LittleEndian.Uint32(request[20:24])
	key1 := unpackKey(request[24 : 24+fakeKeyFieldLen])
	key2 := unpackKey(request[24+fakeKeyFieldLen : 24+2*fakeKeyFieldLen])

	switch tag {
	case tagImmediate:
		body := request[fakeHeaderLen:]
		return f.respondToRest(seq, key1, body), nil
	case tagBlob:
		return f.respondToRest(seq, key2, f.blobs[key1]), nil
	case tagNewBlob:
		f.blobs[key1] = []byte{}
		return ackResponse(seq, f.errCode), nil
	case tagWriteFrag:
		body := request[fakeHeaderLen:]
		need := int(param1) + len(body)
		if cur := f.blobs[key1]; len(cur) < need {
			grown := make([]byte, need)
			copy(grown, cur)
			f.blobs[key1] = grown
		}
		copy(f.blobs[key1][param1:], body)
		return ackResponse(seq, f.errCode), nil
	case tagReadFrag:
		data := f.blobs[key1]
		end := param1 + param2
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		var chunk []byte
		if param1 < end {
			chunk = data[param1:end]
		}
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint16(buf[2:4], seq)
		binary.LittleEndian.PutUint32(buf[8:12], f.errCode)
		binary.LittleEndian.PutUint32(buf[12:16], uint32(len(chunk)))
		return append(buf, chunk...), nil
	case tagFinalize:
		return ackResponse(seq, f.errCode), nil
	case tagGetInfo:
		buf := make([]byte, 16)
		binary.LittleEndian.PutUint16(buf[2:4], seq)
		binary.LittleEndian.PutUint32(buf[8:12], f.errCode)
		binary.LittleEndian.PutUint32(buf[12:16], uint32(len(f.blobs[key1])))
		return buf, nil
	case tagDelete:
		f.deletedKeys = append(f.deletedKeys, key1)
		delete(f.blobs, key1)
		return ackResponse(seq, f.errCode), nil
	default:
		return nil, fmt.Errorf("fake: unknown tag %d", tag)
	}
}

func TestMakeRequestImmediatePath(t *testing.T) {
	chif := newFakeChif(func(body []byte) []byte {
		assert.Equal(t, "GET /redfish/v1/ HTTP/1.1", string(body))
		return []byte("HTTP/1.1 200 OK\r\n\r\n{}")
	})
	transport := NewTransport(chif)

	resp, err := transport.MakeRequest([]byte("GET /redfish/v1/ HTTP/1.1"))
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\n{}", string(resp))
}

func TestMakeRequestFragmentedResponsePath(t *testing.T) {
	want := bytes.Repeat([]byte("x"), 200)
	chif := newFakeChif(func(body []byte) []byte { return want })
	chif.fragmentThreshold = 8 // force the small immediate reply down the key-value path
	transport := NewTransport(chif)

	resp, err := transport.MakeRequest([]byte("GET /redfish/v1/Bios HTTP/1.1"))
	require.NoError(t, err)
	assert.Equal(t, want, resp)
	assert.Len(t, chif.deletedKeys, 1, "response blob should be cleaned up after a fragmented read")
}

func TestMakeRequestLargeRequestUsesBlobPath(t *testing.T) {
	bigRequest := bytes.Repeat([]byte("A"), 300)
	var seenByHandler []byte
	chif := newFakeChif(func(body []byte) []byte {
		seenByHandler = append([]byte{}, body...)
		return []byte("ok")
	})
	transport := NewTransport(chif)

	resp, err := transport.MakeRequest(bigRequest)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp))
	assert.Equal(t, bigRequest, seenByHandler, "the BMC side should see the full reassembled request body")
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	chif := newFakeChif(func(body []byte) []byte { return nil })
	transport := NewTransport(chif)

	value := bytes.Repeat([]byte("hello-blobstore-"), 10)
	require.NoError(t, transport.Put("mykey", value))

	got, err := transport.Get("mykey")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, transport.Delete("mykey"))
	assert.Contains(t, chif.deletedKeys, "mykey")
}

func TestExchangeRejectsSequenceMismatch(t *testing.T) {
	chif := newFakeChif(func(body []byte) []byte { return nil })
	transport := NewTransport(chif)

	request := chif.header(tagGetInfo, 0, 0, "k", "")
	chif.seqCorruption = 1

	_, err := transport.exchange(request)
	assert.ErrorContains(t, err, "sequence number mismatch")
}

func TestExchangeRejectsNonzeroErrorCodeOtherThanNotModified(t *testing.T) {
	chif := newFakeChif(func(body []byte) []byte { return nil })
	chif.errCode = 7
	transport := NewTransport(chif)

	request := chif.header(tagGetInfo, 0, 0, "k", "")
	_, err := transport.exchange(request)
	assert.ErrorContains(t, err, "error code 7")
}

func TestExchangeToleratesNotModified(t *testing.T) {
	chif := newFakeChif(func(body []byte) []byte { return nil })
	chif.errCode = blobStoreNotModified
	transport := NewTransport(chif)

	request := chif.header(tagGetInfo, 0, 0, "k", "")
	_, err := transport.exchange(request)
	assert.NoError(t, err)
}
