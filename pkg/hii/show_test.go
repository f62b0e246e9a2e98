// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/uefisettings/pkg/guid"
)

func TestShowIFRRendersFormSetAndQuestion(t *testing.T) {
	fsGUID := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")

	var ifrBuf []byte
	formSetBody := append(append([]byte{}, fsGUID[:]...), 1, 0, 0, 0) // title string-id 1
	ifrBuf = append(ifrBuf, ifrOp(OpFormSet, formSetBody, true)...)

	checkboxBody := make([]byte, 11)                    // QuestionHeader
	binary.LittleEndian.PutUint16(checkboxBody[0:2], 2) // prompt string-id "TPM State"
	ifrBuf = append(ifrBuf, ifrOp(OpCheckBox, checkboxBody, false)...)

	ifrBuf = append(ifrBuf, ifrOp(OpEnd, nil, false)...) // closes FormSet

	stringsBody := buildStringsPackageBody("en-US", []string{"Setup Menu", "TPM State"})

	list := PackageList{
		GUID: fsGUID,
		Packages: []Package{
			{Kind: PackageTypeForms, Data: ifrBuf},
			{Kind: PackageTypeStrings, Data: stringsBody},
		},
	}
	cache := NewCache(&DB{Lists: []PackageList{list}})

	out, err := ShowIFR(cache)
	require.NoError(t, err)
	assert.Contains(t, out, "Packagelist "+fsGUID.String())
	assert.Contains(t, out, "FormSet")
	assert.Contains(t, out, "Setup Menu")
	assert.Contains(t, out, "CheckBox")
	assert.Contains(t, out, "TPM State")
}

func TestShowIFREmptyDBProducesNoQuestionLines(t *testing.T) {
	cache := NewCache(&DB{})
	out, err := ShowIFR(cache)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}
