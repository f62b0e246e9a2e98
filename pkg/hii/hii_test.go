// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/linuxboot/uefisettings/pkg/guid"
	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

// ucs2Bytes encodes s as UCS-2LE followed by a 2-byte NUL terminator.
func ucs2Bytes(s string) []byte {
	out := make([]byte, 0, len(s)*2+2)
	for _, r := range s {
		out = append(out, byte(r), 0)
	}
	return append(out, 0, 0)
}

func buildStringsPackageBody(lang string, strs []string) []byte {
	buf := append([]byte(lang), 0)
	for _, s := range strs {
		buf = append(buf, byte(sibtStringUCS2))
		buf = append(buf, ucs2Bytes(s)...)
	}
	buf = append(buf, byte(sibtEnd))
	return buf
}

func TestDecodeStringPackageBasic(t *testing.T) {
	// S2: single STRING_UCS2 block, string-id 1 == "TPM State".
	body := buildStringsPackageBody("en-US", []string{"TPM State"})
	sp, err := decodeStringPackage(body)
	require.NoError(t, err)
	require.Equal(t, "en-US", sp.Language)
	require.Equal(t, "TPM State", sp.Strings[1])
	require.False(t, sp.Partial)
}

func TestDecodeStringPackageSkipAndDuplicate(t *testing.T) {
	buf := append([]byte("en-US"), 0)
	buf = append(buf, byte(sibtStringUCS2))
	buf = append(buf, ucs2Bytes("Disabled")...) // id 1
	buf = append(buf, byte(sibtSkip1), 2)        // ids 2,3 skipped -> next is 4
	buf = append(buf, byte(sibtStringUCS2))
	buf = append(buf, ucs2Bytes("Enabled")...) // id 4
	dup := make([]byte, 2)
	binary.LittleEndian.PutUint16(dup, 1)
	buf = append(buf, byte(sibtDuplicate))
	buf = append(buf, dup...) // id 5 duplicates id 1
	buf = append(buf, byte(sibtEnd))

	sp, err := decodeStringPackage(buf)
	require.NoError(t, err)
	require.Equal(t, "Disabled", sp.Strings[1])
	require.Equal(t, "Enabled", sp.Strings[4])
	require.Equal(t, "Disabled", sp.Strings[5])
	// invariant 1: every emitted id is > 0.
	for id := range sp.Strings {
		require.Greater(t, id, uint16(0))
	}
}

func TestDecodeStringPackageUnknownTagMarksPartialNotFatal(t *testing.T) {
	buf := append([]byte("en-US"), 0)
	buf = append(buf, byte(sibtStringUCS2))
	buf = append(buf, ucs2Bytes("Before")...)
	buf = append(buf, byte(sibtFont)) // unrecognized-by-this-decoder tag
	buf = append(buf, 0xFF, 0xFF)

	sp, err := decodeStringPackage(buf)
	require.NoError(t, err)
	require.True(t, sp.Partial)
	require.Equal(t, "Before", sp.Strings[1])
}

func TestDecodeStringPackageExtensionBlocksSkippedByLength(t *testing.T) {
	buf := append([]byte("en-US"), 0)
	buf = append(buf, byte(sibtExt1), 5, 0xAA, 0xBB, 0xCC)
	buf = append(buf, byte(sibtStringUCS2))
	buf = append(buf, ucs2Bytes("After")...)
	buf = append(buf, byte(sibtEnd))

	sp, err := decodeStringPackage(buf)
	require.NoError(t, err)
	require.False(t, sp.Partial)
	require.Equal(t, "After", sp.Strings[1])
}

// ifrOp encodes the 2-byte opcode+header for a given body length and
// scope flag, followed by the body itself.
func ifrOp(op OpCode, body []byte, scope bool) []byte {
	length := byte(len(body) + 2)
	hdr := length
	if scope {
		hdr |= scopeFlag
	}
	return append([]byte{byte(op), hdr}, body...)
}

func TestParseFormsScopeBalance(t *testing.T) {
	g := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")
	formSetBody := make([]byte, 0, 20)
	formSetBody = append(formSetBody, g[:]...)
	formSetBody = append(formSetBody, 0, 0, 0, 0) // title, help

	var buf []byte
	buf = append(buf, ifrOp(OpFormSet, formSetBody, true)...)
	buf = append(buf, ifrOp(OpEnd, nil, false)...)

	root, err := ParseForms(buf)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.Equal(t, OpFormSet, root.Children[0].Op)
	require.Empty(t, root.Children[0].Children)
}

func TestParseFormsUnknownOpcodeIsOpaqueLeaf(t *testing.T) {
	// invariant 7: unknown opcode of any length parses without error.
	buf := ifrOp(OpCode(0x77), []byte{1, 2, 3, 4, 5}, false)
	root, err := ParseForms(buf)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	require.Nil(t, root.Children[0].Data)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, root.Children[0].Raw)
}

func TestParseFormsScopeUnderflow(t *testing.T) {
	buf := ifrOp(OpEnd, nil, false)
	_, err := ParseForms(buf)
	require.Error(t, err)
}

func TestParseFormsUnclosedScope(t *testing.T) {
	g := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")
	body := append(append([]byte{}, g[:]...), 0, 0, 0, 0)
	buf := ifrOp(OpFormSet, body, true)
	_, err := ParseForms(buf)
	require.Error(t, err)
}

func TestFindQuestionsOneOf(t *testing.T) {
	// S3: Question "TPM State" with options {0: Disabled, 1: Enabled}.
	fsGUID := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")
	vsGUID := guid.MustParse("11111111-2222-3333-4444-555555555555")

	var ifrBuf []byte
	formSetBody := append(append([]byte{}, fsGUID[:]...), 0, 0, 0, 0)
	ifrBuf = append(ifrBuf, ifrOp(OpFormSet, formSetBody, true)...)

	vsBody := append([]byte{}, vsGUID[:]...)
	idBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(idBytes, 1)
	vsBody = append(vsBody, idBytes...)
	sizeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(sizeBytes, 64)
	vsBody = append(vsBody, sizeBytes...)
	vsBody = append(vsBody, []byte("Setup")...)
	vsBody = append(vsBody, 0)
	ifrBuf = append(ifrBuf, ifrOp(OpVarStore, vsBody, false)...)

	// 11-byte QuestionHeader, same layout as in buildCheckBoxFormSet.
	oneOfBody := make([]byte, 11)
	binary.LittleEndian.PutUint16(oneOfBody[0:2], 1)     // prompt string-id
	binary.LittleEndian.PutUint16(oneOfBody[6:8], 1)     // VarStoreID
	binary.LittleEndian.PutUint16(oneOfBody[8:10], 0x20) // VarOffset
	oneOfBody = append(oneOfBody, 0x00)                  // width flags -> 1 byte
	ifrBuf = append(ifrBuf, ifrOp(OpOneOf, oneOfBody, true)...)

	opt0 := make([]byte, 4)
	binary.LittleEndian.PutUint16(opt0[0:2], 2) // text string-id "Disabled"
	opt0[3] = 0                                 // type UINT8
	opt0 = append(opt0, 0)
	ifrBuf = append(ifrBuf, ifrOp(OpOneOfOption, opt0, false)...)

	opt1 := make([]byte, 4)
	binary.LittleEndian.PutUint16(opt1[0:2], 3) // text string-id "Enabled"
	opt1[3] = 0
	opt1 = append(opt1, 1)
	ifrBuf = append(ifrBuf, ifrOp(OpOneOfOption, opt1, false)...)

	ifrBuf = append(ifrBuf, ifrOp(OpEnd, nil, false)...) // closes OneOf
	ifrBuf = append(ifrBuf, ifrOp(OpEnd, nil, false)...) // closes FormSet

	stringsBody := buildStringsPackageBody("en-US", []string{"TPM State", "Disabled", "Enabled"})

	list := PackageList{
		GUID: fsGUID,
		Packages: []Package{
			{Kind: PackageTypeForms, Data: ifrBuf},
			{Kind: PackageTypeStrings, Data: stringsBody},
		},
	}
	cache := NewCache(&DB{Lists: []PackageList{list}})

	matches := FindQuestions(cache, []string{"TPM State"})
	require.Len(t, matches, 1)
	rq := matches[0]
	require.Equal(t, KindOneOf, rq.Kind)
	require.Equal(t, "Setup", rq.VarStoreName)
	require.Equal(t, uint16(0x20), rq.Location.Offset)
	require.Len(t, rq.Options, 2)
	require.Equal(t, "Disabled", rq.Options[0].Text)
	require.Equal(t, "Enabled", rq.Options[1].Text)
}

// buildCheckBoxFormSet builds one package-list containing a form-set,
// variable-store, and a single CheckBox question bound to it at the
// given offset, plus a strings package naming the question "TPM State".
func buildCheckBoxFormSet(fsGUID, vsGUID *guid.GUID, varStoreID uint16, offset uint16) PackageList {
	var ifrBuf []byte
	formSetBody := append(append([]byte{}, fsGUID[:]...), 0, 0, 0, 0)
	ifrBuf = append(ifrBuf, ifrOp(OpFormSet, formSetBody, true)...)

	vsBody := append([]byte{}, vsGUID[:]...)
	idBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(idBytes, varStoreID)
	vsBody = append(vsBody, idBytes...)
	sizeBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(sizeBytes, 64)
	vsBody = append(vsBody, sizeBytes...)
	vsBody = append(vsBody, []byte("Setup")...)
	vsBody = append(vsBody, 0)
	ifrBuf = append(ifrBuf, ifrOp(OpVarStore, vsBody, false)...)

	// QuestionHeader layout: Prompt(2) Help(2) QuestionID(2) VarStoreID(2)
	// VarOffset(2) Flags(1) == 11 bytes.
	cbBody := make([]byte, 11)
	binary.LittleEndian.PutUint16(cbBody[0:2], 1) // prompt string-id "TPM State"
	binary.LittleEndian.PutUint16(cbBody[6:8], varStoreID)
	binary.LittleEndian.PutUint16(cbBody[8:10], offset)
	ifrBuf = append(ifrBuf, ifrOp(OpCheckBox, cbBody, false)...)
	ifrBuf = append(ifrBuf, ifrOp(OpEnd, nil, false)...) // closes FormSet

	stringsBody := buildStringsPackageBody("en-US", []string{"TPM State"})

	return PackageList{
		GUID: fsGUID,
		Packages: []Package{
			{Kind: PackageTypeForms, Data: ifrBuf},
			{Kind: PackageTypeStrings, Data: stringsBody},
		},
	}
}

func TestSetAmbiguousWhenTwoFormSetsDeclareSameQuestionAtDifferentOffsets(t *testing.T) {
	// S5: two form-sets both declare "TPM State" at different offsets
	// of the same variable-store -> Set returns Ambiguous and performs
	// no write to their shared backing file.
	fsGUID1 := guid.MustParse("01234567-89AB-CDEF-0123-456789ABCDEF")
	fsGUID2 := guid.MustParse("76543210-BA98-FEDC-3210-FEDCBA987654")
	vsGUID := guid.MustParse("11111111-2222-3333-4444-555555555555")

	list1 := buildCheckBoxFormSet(fsGUID1, vsGUID, 1, 0)
	list2 := buildCheckBoxFormSet(fsGUID2, vsGUID, 1, 5)
	cache := NewCache(&DB{Lists: []PackageList{list1, list2}})

	dir := t.TempDir()
	path := filepath.Join(dir, "Setup-"+strings.ToLower(vsGUID.String()))
	original := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x00, 0x11}
	require.NoError(t, os.WriteFile(path, original, 0o644))
	opts := LocatorOptions{EfivarsMount: dir}

	err := setInCache(cache, opts, []string{"TPM State"}, []string{"Enabled"})
	require.Error(t, err)
	var sErr *settingserr.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, settingserr.Ambiguous, sErr.Kind)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, after)
}

func TestReadWriteRoundTrip(t *testing.T) {
	// invariant 4: read then write the same value is a no-op on the
	// backing file, attribute prefix included.
	dir := t.TempDir()
	g := guid.MustParse("11111111-2222-3333-4444-555555555555")
	path := filepath.Join(dir, "Setup-"+strings.ToLower(g.String()))
	original := []byte{0x07, 0x00, 0x00, 0x00, 0xAA, 0xBB, 0xCC, 0xDD}
	require.NoError(t, os.WriteFile(path, original, 0o644))

	opts := LocatorOptions{EfivarsMount: dir}
	raw, err := ReadAnswerBytes(opts, "Setup", g, 0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0xAA), raw)

	err = WriteAnswerBytes(opts, "Setup", g, 0, 1, raw)
	require.NoError(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, original, after)
}
