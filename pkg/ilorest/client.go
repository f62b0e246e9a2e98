// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ilorest speaks HPE's Redfish-over-BlobStore2 protocol to an
// iLO baseboard management controller: it serializes bare HTTP/1.1
// requests, ships them through pkg/blobstore, and parses the resulting
// status line/body back out, the way HPE's own ilorest CLI does
// against /dev/hpilo (spec §4.7).
package ilorest

import (
	"bytes"
	"fmt"

	"github.com/linuxboot/uefisettings/internal/ulog"
	"github.com/linuxboot/uefisettings/pkg/blobstore"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

var clientLog = ulog.Tagged("ilorest")

// maxRequestAttempts bounds the retry loop around a single BlobStore2
// exchange, ported from original_source/rest.rs's
// MAX_ALLOWED_REQUEST_ATTEMPTS. HPE's own CLI retries far more
// liberally across several layers; a single bounded loop here captures
// the same resilience against a flaky BMC channel without the
// complexity.
const maxRequestAttempts = 10

// recvTimeoutMillis matches the timeout original_source/rest.rs sets on
// every fresh connection before issuing a request.
const recvTimeoutMillis = 60000

// Client issues Redfish HTTP requests to the BMC's Redfish API over
// BlobStore2. HPE's own CLI opens a fresh vendor-library connection per
// request rather than reusing one across a process lifetime, and this
// mirrors that rather than risk undocumented state living across calls.
type Client struct {
	open func() (blobstore.Chif, error)
}

// NewClient builds a Client that opens a fresh Chif connection (via
// blobstore.Open, i.e. dlopen of ilorest_chif.so) for every request.
func NewClient() *Client {
	return &Client{open: blobstore.Open}
}

// newClientWithOpener is used by tests to substitute a fake Chif opener.
func newClientWithOpener(open func() (blobstore.Chif, error)) *Client {
	return &Client{open: open}
}

// defaultHeaders mirrors original_source/rest.rs's RestClient::default_headers.
func defaultHeaders() map[string]string {
	return map[string]string{
		"Host":            "",
		"Accept-Encoding": "identity",
		"Content-Type":    "application/json; charset=utf-8",
		"Accept":          "*/*",
		"Connection":      "Keep-Alive",
	}
}

// Get issues a GET request and returns the raw response body.
func (c *Client) Get(endpoint string) ([]byte, error) {
	return c.exec("GET", endpoint, "")
}

// Patch issues a PATCH request with the given JSON body and returns the
// raw response body.
func (c *Client) Patch(endpoint, body string) ([]byte, error) {
	return c.exec("PATCH", endpoint, body)
}

// exec opens a connection, pings it, and drives generateRequest +
// Transport.MakeRequest through up to maxRequestAttempts tries, exactly
// as original_source/rest.rs's RestClient::exec does.
func (c *Client) exec(method, endpoint, body string) ([]byte, error) {
	chif, err := c.open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := chif.Close(); cerr != nil {
			clientLog.Warnf("ilorest: error closing chif handle: %v", cerr)
		}
	}()

	if err := chif.Ping(); err != nil {
		return nil, settingserr.New(settingserr.TransportError, "ilorest.exec", fmt.Errorf("ping: %w", err))
	}
	if err := chif.SetRecvTimeout(recvTimeoutMillis); err != nil {
		return nil, settingserr.New(settingserr.TransportError, "ilorest.exec", fmt.Errorf("set recv timeout: %w", err))
	}

	request := generateRequest(method, endpoint, body, defaultHeaders())
	transport := blobstore.NewTransport(chif)

	var lastErr error
	for attempt := 0; attempt < maxRequestAttempts; attempt++ {
		resp, err := transport.MakeRequest(request)
		if err == nil {
			status, body, perr := parseHTTPResponse(resp)
			if perr != nil {
				return nil, perr
			}
			if status != 200 {
				return nil, settingserr.New(settingserr.TransportError, "ilorest.exec",
					fmt.Errorf("unexpected HTTP status %d from %s %s", status, method, endpoint))
			}
			return body, nil
		}
		lastErr = err
		clientLog.Warnf("ilorest: request attempt %d/%d failed: %v", attempt+1, maxRequestAttempts, err)
	}
	return nil, settingserr.New(settingserr.TransportError, "ilorest.exec",
		fmt.Errorf("exhausted %d attempts: %w", maxRequestAttempts, lastErr))
}

// generateRequest builds a raw HTTP/1.1 request, matching
// original_source/rest.rs's generate_request_bytes. The vendor library
// expects the request NUL-terminated, which is reproduced here rather
// than left to the caller.
func generateRequest(method, endpoint, body string, headers map[string]string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", method, endpoint)
	for k, v := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")
	buf.WriteString(body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// parseHTTPResponse splits a raw HTTP response into its status code and
// body, trimming the body at the first NUL byte: ilo4 in particular is
// known to return a body followed by garbage bytes past an embedded NUL
// (spec §4.7, ported from original_source/requests.rs's
// remove_null_bytes, generalized here to also parse the leading status
// line the caller needs before JSON-decoding the body).
func parseHTTPResponse(raw []byte) (int, []byte, error) {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(raw, sep)
	if idx < 0 {
		return 0, nil, settingserr.New(settingserr.TransportError, "ilorest.parseHTTPResponse",
			fmt.Errorf("response has no header/body separator"))
	}
	statusLineEnd := bytes.Index(raw, []byte("\r\n"))
	if statusLineEnd < 0 || statusLineEnd > idx {
		return 0, nil, settingserr.New(settingserr.TransportError, "ilorest.parseHTTPResponse",
			fmt.Errorf("response has no status line"))
	}
	var httpVersion string
	var status int
	if _, err := fmt.Sscanf(string(raw[:statusLineEnd]), "%s %d", &httpVersion, &status); err != nil {
		return 0, nil, settingserr.New(settingserr.TransportError, "ilorest.parseHTTPResponse",
			fmt.Errorf("malformed status line %q: %w", raw[:statusLineEnd], err))
	}

	body := raw[idx+len(sep):]
	if nul := bytes.IndexByte(body, 0); nul >= 0 {
		body = body[:nul]
	}
	return status, body, nil
}
