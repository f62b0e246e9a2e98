// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ilorest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequestIsNulTerminated(t *testing.T) {
	req := generateRequest("GET", "/redfish/v1/", "", defaultHeaders())
	require.NotEmpty(t, req)
	assert.Equal(t, byte(0), req[len(req)-1])
	assert.True(t, strings.HasPrefix(string(req), "GET /redfish/v1/ HTTP/1.1\r\n"))
}

func TestGenerateRequestIncludesBody(t *testing.T) {
	req := generateRequest("PATCH", "/redfish/v1/systems/1/bios/settings/", `{"x":"y"}`, defaultHeaders())
	s := string(req)
	assert.Contains(t, s, "\r\n\r\n{\"x\":\"y\"}")
}

func TestParseHTTPResponseOK(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"a\":1}")
	status, body, err := parseHTTPResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"a":1}`, string(body))
}

func TestParseHTTPResponseTrimsTrailingNulGarbage(t *testing.T) {
	raw := append([]byte("HTTP/1.1 200 OK\r\n\r\n{\"a\":1}"), 0, 'g', 'a', 'r', 'b', 'a', 'g', 'e')
	status, body, err := parseHTTPResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"a":1}`, string(body))
}

func TestParseHTTPResponseMissingSeparator(t *testing.T) {
	_, _, err := parseHTTPResponse([]byte("not an http response"))
	require.Error(t, err)
}
