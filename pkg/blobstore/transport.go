// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blobstore

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/linuxboot/uefisettings/internal/ulog"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

var transportLog = ulog.Tagged("blobstore")

// receiveMode distinguishes how a REST response's body was delivered,
// from byte offset 12 of the fixed REST-response header, the 4 bytes
// right after the common sequence/error-code packet prefix described in
// spec §6 (error code at bytes 8-11, receive mode at 12-15, data length
// at 16-19).
type receiveMode uint32

const (
	receiveModeImmediate  receiveMode = 0
	receiveModeFragmented receiveMode = 1
)

// BlobStore2 error codes ilorest_chif.so's packet_exchange reports at
// response bytes 8-11. Only these two are not fatal to exchange(); per
// original_source/blobstore.rs, 20 ("NotModified") is returned on some
// requests that legitimately did nothing and must not be treated as a
// transport failure.
const (
	blobStoreSuccess     = 0
	blobStoreNotModified = 20
)

const alphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomKey generates a fresh random alphanumeric blob-store key, per
// spec §4.6 ("Keys are freshly generated random alphanumerics per
// request/response pair so that concurrent invocations do not
// collide").
func randomKey(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphanumericAlphabet[int(b)%len(alphanumericAlphabet)]
	}
	return string(out), nil
}

// Transport drives a Chif handle to exchange packets and compose the
// higher-level blob put/get/delete operations out of them, mirroring
// original_source/blobstore.rs's Transport.
type Transport struct {
	chif Chif
}

// NewTransport wraps an already-opened Chif handle.
func NewTransport(chif Chif) *Transport {
	return &Transport{chif: chif}
}

// sequenceNumber reads the 16-bit little-endian sequence number at byte
// offset 2 of a packet, per spec §6's BlobStore2 packet wire format.
func sequenceNumber(packet []byte) (uint16, error) {
	if len(packet) < 4 {
		return 0, fmt.Errorf("packet shorter than 4 bytes")
	}
	return binary.LittleEndian.Uint16(packet[2:4]), nil
}

// exchange submits a request packet and enforces the packet-exchange
// contract from spec §4.6: the response's sequence number (bytes 2-3)
// must match the request's, and its error code (bytes 8-11) must be
// zero. The sequence number itself is assigned by the vendor library
// when it builds the request template, not by this code, so this only
// reads and compares it.
func (t *Transport) exchange(request []byte) ([]byte, error) {
	wantSeq, err := sequenceNumber(request)
	if err != nil {
		return nil, settingserr.New(settingserr.TransportError, "blobstore.exchange", err)
	}

	resp, err := t.chif.PacketExchange(request)
	if err != nil {
		return nil, err
	}
	if len(resp) < 12 {
		return nil, settingserr.New(settingserr.TransportError, "blobstore.exchange",
			fmt.Errorf("response shorter than the 12-byte packet header"))
	}
	gotSeq := binary.LittleEndian.Uint16(resp[2:4])
	if gotSeq != wantSeq {
		return nil, settingserr.New(settingserr.TransportError, "blobstore.exchange",
			fmt.Errorf("sequence number mismatch: sent %d, got %d", wantSeq, gotSeq))
	}
	errCode := binary.LittleEndian.Uint32(resp[8:12])
	if errCode != blobStoreSuccess && errCode != blobStoreNotModified {
		return nil, settingserr.New(settingserr.TransportError, "blobstore.exchange",
			fmt.Errorf("ilorest_chif returned error code %d", errCode))
	}
	return resp, nil
}

// MakeRequest sends an already-serialized HTTP/1.1 request over
// BlobStore2 and returns the raw HTTP response bytes (status line,
// headers, and body concatenated), choosing the single-packet or
// fragmented blob path based on size, exactly as
// original_source/blobstore.rs's Transport::make_request does.
func (t *Transport) MakeRequest(request []byte) ([]byte, error) {
	responseKey, err := randomKey(10)
	if err != nil {
		return nil, settingserr.New(settingserr.TransportError, "blobstore.MakeRequest", err)
	}

	var restResp []byte
	if uint32(len(request)) < t.chif.MaxWriteSize()+t.chif.ImmediateRequestSize() {
		transportLog.Warnf("blobstore: sending request as a single packet (%d bytes)", len(request))
		header := t.chif.PrepareImmediateRequest(uint32(len(request)), responseKey, Namespace)
		packet := append(append([]byte{}, header...), request...)
		restResp, err = t.exchange(packet)
		if err != nil {
			return nil, err
		}
	} else {
		requestKey, err := randomKey(10)
		if err != nil {
			return nil, settingserr.New(settingserr.TransportError, "blobstore.MakeRequest", err)
		}
		if err := t.createBlobEntry(requestKey); err != nil {
			return nil, err
		}
		if err := t.writeMultiPacket(request, requestKey); err != nil {
			return nil, err
		}
		if err := t.finalizeWrite(requestKey); err != nil {
			return nil, err
		}
		header := t.chif.PrepareBlobRequest(requestKey, responseKey, Namespace)
		restResp, err = t.exchange(header)
		if err != nil {
			return nil, err
		}
	}

	if len(restResp) < 20 {
		return nil, settingserr.New(settingserr.TransportError, "blobstore.MakeRequest",
			fmt.Errorf("fixed REST response shorter than expected"))
	}
	mode := receiveMode(binary.LittleEndian.Uint32(restResp[12:16]))
	dataLen := binary.LittleEndian.Uint32(restResp[16:20])

	switch mode {
	case receiveModeFragmented:
		size, err := t.blobSize(responseKey)
		if err != nil {
			return nil, err
		}
		data, err := t.readMultiPacket(size, responseKey)
		if err != nil {
			return nil, err
		}
		// HPE's own CLI deletes only the response blob, not the request
		// blob, even though both live in the volatile namespace.
		if err := t.deleteBlob(responseKey); err != nil {
			transportLog.Warnf("blobstore: could not delete response blob %s: %v", responseKey, err)
		}
		return data, nil
	case receiveModeImmediate:
		fixedSize := t.chif.RestResponseFixedSize()
		start := int(fixedSize)
		end := start + int(dataLen)
		if end > len(restResp) {
			return nil, settingserr.New(settingserr.TransportError, "blobstore.MakeRequest",
				fmt.Errorf("declared data length %d exceeds response size", dataLen))
		}
		return restResp[start:end], nil
	default:
		return nil, settingserr.New(settingserr.TransportError, "blobstore.MakeRequest",
			fmt.Errorf("invalid receive mode %d in REST response", mode))
	}
}

func (t *Transport) createBlobEntry(key string) error {
	_, err := t.exchange(t.chif.PrepareNewBlobEntry(key, Namespace))
	return err
}

func (t *Transport) finalizeWrite(key string) error {
	_, err := t.exchange(t.chif.FinalizeBlobWrite(key, Namespace))
	return err
}

func (t *Transport) deleteBlob(key string) error {
	_, err := t.exchange(t.chif.PrepareDeleteBlob(key, Namespace))
	return err
}

func (t *Transport) blobSize(key string) (uint32, error) {
	resp, err := t.exchange(t.chif.GetKeyInfo(key, Namespace))
	if err != nil {
		return 0, err
	}
	headerSize := int(t.chif.ResponseHeaderBlobSize())
	if headerSize+4 > len(resp) {
		return 0, settingserr.New(settingserr.TransportError, "blobstore.blobSize",
			fmt.Errorf("info response too short to carry a size field"))
	}
	return binary.LittleEndian.Uint32(resp[headerSize : headerSize+4]), nil
}

// writeMultiPacket writes data to a previously-created blob entry in
// fragments whose packets (WriteRequestSize() header plus data) are at
// most MaxWriteSize() bytes.
func (t *Transport) writeMultiPacket(data []byte, key string) error {
	maxWrite := t.chif.MaxWriteSize()
	writeHeader := t.chif.WriteRequestSize()
	dataLen := uint32(len(data))
	var written uint32

	for written < dataLen {
		count := maxWrite - writeHeader
		if remaining := dataLen - written; count > remaining {
			count = remaining
		}
		header := t.chif.PrepareWriteFragment(written, count, key, Namespace)
		packet := append(append([]byte{}, header...), data[written:written+count]...)
		if _, err := t.exchange(packet); err != nil {
			return fmt.Errorf("write fragment at offset %d: %w", written, err)
		}
		written += count
	}
	return nil
}

// readMultiPacket reads dataLength bytes from a blob-store key in
// MaxReadSize()-bounded fragments, per original_source/blobstore.rs's
// read_multi_packet (including its "add 4 to the header size" quirk,
// inherited unexplained from HPE's own python-ilorest-library).
func (t *Transport) readMultiPacket(dataLength uint32, key string) ([]byte, error) {
	maxRead := t.chif.MaxReadSize()
	readHeader := t.chif.ReadRequestSize()
	headerBlobSize := t.chif.ResponseHeaderBlobSize()
	readRespSize := t.chif.ReadResponseSize()

	var read uint32
	var out []byte

	for read < dataLength {
		count := maxRead - readHeader
		if remaining := dataLength - read; count > remaining {
			count = remaining
		}
		header := t.chif.PrepareReadFragment(read, count, key, Namespace)
		fragment, err := t.exchange(header)
		if err != nil {
			return nil, fmt.Errorf("read fragment at offset %d: %w", read, err)
		}
		if uint32(len(fragment)) < readRespSize {
			fragment = append(fragment, make([]byte, readRespSize-uint32(len(fragment)))...)
		}
		if int(headerBlobSize)+4 > len(fragment) {
			return nil, settingserr.New(settingserr.TransportError, "blobstore.readMultiPacket",
				fmt.Errorf("fragment too short to carry its own length field"))
		}
		fragLen := binary.LittleEndian.Uint32(fragment[headerBlobSize : headerBlobSize+4])
		newReadStart := headerBlobSize + 4
		if int(newReadStart+fragLen) > len(fragment) {
			return nil, settingserr.New(settingserr.TransportError, "blobstore.readMultiPacket",
				fmt.Errorf("fragment declares %d bytes past its own length", fragLen))
		}
		out = append(out, fragment[newReadStart:newReadStart+fragLen]...)
		read += fragLen
	}
	return out, nil
}

// Put writes value under key in the volatile namespace (exported for
// completeness and testing; the Redfish adapter drives requests through
// MakeRequest instead, which handles request/response key pairing
// itself).
func (t *Transport) Put(key string, value []byte) error {
	if err := t.createBlobEntry(key); err != nil {
		return err
	}
	if err := t.writeMultiPacket(value, key); err != nil {
		return err
	}
	return t.finalizeWrite(key)
}

// Get reads the full value stored under key.
func (t *Transport) Get(key string) ([]byte, error) {
	size, err := t.blobSize(key)
	if err != nil {
		return nil, err
	}
	return t.readMultiPacket(size, key)
}

// Delete removes key from the volatile namespace.
//
// MakeRequest's own cleanup of a fragmented response blob sends the same
// delete exchange; there a failure is logged, not propagated.
func (t *Transport) Delete(key string) error {
	return t.deleteBlob(key)
}
