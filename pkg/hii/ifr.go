// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"fmt"

	"github.com/linuxboot/uefisettings/pkg/guid"
)

// OpCode is the one-byte IFR opcode tag (UEFI HII spec, EFI_IFR_*_OP).
type OpCode byte

// Recognized IFR opcodes. This is not an exhaustive transcription of the
// UEFI spec's expression-opcode set (0x15 And .. 0x64 Match2 cover boolean
// and arithmetic expressions that this engine never evaluates, per
// DisableIf/SuppressIf/GrayOutIf being parsed-not-evaluated) — those are
// accepted by the parser and kept as opaque leaves rather than given
// named constants and dedicated parsing.
const (
	OpForm          OpCode = 0x01
	OpSubtitle      OpCode = 0x02
	OpText          OpCode = 0x03
	OpImage         OpCode = 0x04
	OpOneOf         OpCode = 0x05
	OpCheckBox      OpCode = 0x06
	OpNumeric       OpCode = 0x07
	OpPassword      OpCode = 0x08
	OpOneOfOption   OpCode = 0x09
	OpSuppressIf    OpCode = 0x0A
	OpLocked        OpCode = 0x0B
	OpAction        OpCode = 0x0C
	OpResetButton   OpCode = 0x0D
	OpFormSet       OpCode = 0x0E
	OpRef           OpCode = 0x0F
	OpDate          OpCode = 0x1A
	OpTime          OpCode = 0x1B
	OpString        OpCode = 0x1C
	OpDisableIf     OpCode = 0x1E
	OpGrayOutIf     OpCode = 0x19
	OpOrderedList   OpCode = 0x23
	OpVarStore      OpCode = 0x24
	OpVarStoreName  OpCode = 0x25
	OpVarStoreEfi   OpCode = 0x26
	OpEnd           OpCode = 0x29
	OpQuestionRef1  OpCode = 0x40
	OpEqIdVal       OpCode = 0x12
	OpEqIdValList   OpCode = 0x14
	OpDefault       OpCode = 0x5B
	OpDefaultStore  OpCode = 0x5C
	OpGuid          OpCode = 0x5F
)

var opCodeNames = map[OpCode]string{
	OpForm: "Form", OpSubtitle: "Subtitle", OpText: "Text", OpImage: "Image",
	OpOneOf: "OneOf", OpCheckBox: "CheckBox", OpNumeric: "Numeric",
	OpPassword: "Password", OpOneOfOption: "OneOfOption", OpSuppressIf: "SuppressIf",
	OpLocked: "Locked", OpAction: "Action", OpResetButton: "ResetButton",
	OpFormSet: "FormSet", OpRef: "Ref", OpDate: "Date", OpTime: "Time",
	OpString: "String", OpDisableIf: "DisableIf", OpGrayOutIf: "GrayOutIf",
	OpOrderedList: "OrderedList", OpVarStore: "VarStore", OpVarStoreName: "VarStoreNameValue",
	OpVarStoreEfi: "VarStoreEfi", OpEnd: "End", OpQuestionRef1: "QuestionRef1",
	OpEqIdVal: "EqIdVal", OpEqIdValList: "EqIdValList", OpDefault: "Default",
	OpDefaultStore: "DefaultStore", OpGuid: "Guid",
}

func (o OpCode) String() string {
	if n, ok := opCodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(0x%02x)", byte(o))
}

const scopeFlag = 0x80

// scopeOpens reports whether an opcode opens a new nesting scope, which
// by construction of the wire format is exactly when its header byte has
// the scope bit set.
func scopeOpens(headerByte byte) bool {
	return headerByte&scopeFlag != 0
}

// Node is one opcode in the parsed IFR forest: its tag, its raw body
// bytes, any question/form-level structured data decoded from that body,
// and its position in the scope tree.
type Node struct {
	Op       OpCode
	Raw      []byte
	Data     interface{}
	Parent   *Node
	Children []*Node
}

// Parsed data types, one per question/structural opcode the engine acts
// on; everything else is left as a Node with Data == nil (an opaque leaf,
// per spec ("Unknown opcodes are accepted and retained as raw leaves so
// nesting is not corrupted")).

// FormSetData is EFI_IFR_FORM_SET_OP's body.
type FormSetData struct {
	GUID       *guid.GUID
	Title      uint16
	Help       uint16
	ClassGUIDs []*guid.GUID
}

// FormData is EFI_IFR_FORM_OP's body.
type FormData struct {
	FormID uint16
	Title  uint16
}

// QuestionHeader is the common prefix of every question-bearing opcode.
type QuestionHeader struct {
	Prompt      uint16
	Help        uint16
	QuestionID  uint16
	VarStoreID  uint16
	VarOffset   uint16
	Flags       byte
}

// OneOfData is EFI_IFR_ONE_OF_OP's body; Options is populated by
// OneOfOption children as the tree is built.
type OneOfData struct {
	QuestionHeader
	Width   byte
	Options []OptionData
}

// OptionData is EFI_IFR_ONE_OF_OPTION_OP's body.
type OptionData struct {
	Text  uint16
	Value uint64
	Flags byte
}

// CheckBoxData is EFI_IFR_CHECKBOX_OP's body.
type CheckBoxData struct {
	QuestionHeader
}

// NumericData is EFI_IFR_NUMERIC_OP's body.
type NumericData struct {
	QuestionHeader
	Width byte
	Min   uint64
	Max   uint64
	Step  uint64
}

// VarStoreData is EFI_IFR_VARSTORE_OP's body: a buffer-storage
// declaration named in efivarfs as "<Name>-<GUID>".
type VarStoreData struct {
	GUID       *guid.GUID
	Size       uint16
	VarStoreID uint16
	Name       string
}

// VarStoreEfiData is EFI_IFR_VARSTORE_EFI_OP's body.
type VarStoreEfiData struct {
	GUID       *guid.GUID
	Attributes uint32
	Size       uint16
	VarStoreID uint16
}

// DefaultStoreData is EFI_IFR_DEFAULTSTORE_OP's body.
type DefaultStoreData struct {
	DefaultID uint16
	NameID    uint16
}

// DefaultData is EFI_IFR_DEFAULT_OP's body.
type DefaultData struct {
	DefaultID uint16
	Type      byte
	Value     uint64
}

// SubtitleData is EFI_IFR_SUBTITLE_OP's body.
type SubtitleData struct {
	Prompt uint16
}

// TextData is EFI_IFR_TEXT_OP's body.
type TextData struct {
	Prompt uint16
	Help   uint16
	Text   uint16
}

// ParseForms parses an IFR opcode stream into a forest rooted at a
// synthetic root node (mirroring the DUMMY_OPCODE technique used by the
// original implementation so every real opcode has a parent to attach
// to). End opcodes close the innermost open scope and are not added to
// the tree. The explicit stack depth equals open-scope opcodes seen minus
// End opcodes; invariant #2 (stack empty at end) is enforced by returning
// an error if the stack isn't back to just the root when the stream is
// exhausted.
func ParseForms(data []byte) (*Node, error) {
	root := &Node{Op: 0xFF}
	stack := []*Node{root}
	r := newReader(data)

	for r.remaining() > 0 {
		opByte, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("ifr: opcode tag: %w", err)
		}
		hdr, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("ifr: opcode header: %w", err)
		}
		length := int(hdr & 0x7F)
		if length < 2 {
			return nil, fmt.Errorf("ifr: opcode 0x%02x length %d < 2", opByte, length)
		}
		body, err := r.take(length - 2)
		if err != nil {
			return nil, fmt.Errorf("ifr: opcode 0x%02x body: %w", opByte, err)
		}

		op := OpCode(opByte)
		if op == OpEnd {
			if len(stack) == 1 {
				return nil, fmt.Errorf("ifr: scope underflow at offset %d", r.offset())
			}
			stack = stack[:len(stack)-1]
			continue
		}

		node := &Node{Op: op, Raw: body}
		node.Data = parseOpcodeData(op, body)

		parent := stack[len(stack)-1]
		node.Parent = parent
		parent.Children = append(parent.Children, node)

		if scopeOpens(hdr) {
			stack = append(stack, node)
		}

		if od, ok := node.Data.(OptionData); ok && parent.Op == OpOneOf {
			if oneOf, ok := parent.Data.(*OneOfData); ok {
				oneOf.Options = append(oneOf.Options, od)
			}
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("ifr: %d scope(s) left open at end of stream", len(stack)-1)
	}
	return root, nil
}

func parseOpcodeData(op OpCode, body []byte) interface{} {
	r := newReader(body)
	switch op {
	case OpFormSet:
		if len(body) < 18 {
			return nil
		}
		g, _ := r.guid()
		title, _ := r.u16()
		help, _ := r.u16()
		d := &FormSetData{GUID: g, Title: title, Help: help}
		for r.remaining() >= guid.Size {
			cg, err := r.guid()
			if err != nil {
				break
			}
			d.ClassGUIDs = append(d.ClassGUIDs, cg)
		}
		return d

	case OpForm:
		if len(body) < 4 {
			return nil
		}
		id, _ := r.u16()
		title, _ := r.u16()
		return &FormData{FormID: id, Title: title}

	case OpSubtitle:
		if len(body) < 2 {
			return nil
		}
		p, _ := r.u16()
		return &SubtitleData{Prompt: p}

	case OpText:
		var d TextData
		if len(body) >= 2 {
			d.Prompt, _ = r.u16()
		}
		if len(body) >= 4 {
			d.Help, _ = r.u16()
		}
		if len(body) >= 6 {
			d.Text, _ = r.u16()
		}
		return &d

	case OpOneOf:
		qh, ok := readQuestionHeader(r, len(body))
		if !ok {
			return nil
		}
		width := byte(1)
		if b, err := r.u8(); err == nil {
			width = b & 0x03
			if width == 0 {
				width = 1
			} else {
				width = 1 << width
			}
		}
		return &OneOfData{QuestionHeader: qh, Width: width}

	case OpCheckBox:
		qh, ok := readQuestionHeader(r, len(body))
		if !ok {
			return nil
		}
		return &CheckBoxData{QuestionHeader: qh}

	case OpNumeric:
		qh, ok := readQuestionHeader(r, len(body))
		if !ok {
			return nil
		}
		d := &NumericData{QuestionHeader: qh, Width: 1}
		if flagsB, err := r.u8(); err == nil {
			switch flagsB & 0x03 {
			case 0:
				d.Width = 1
			case 1:
				d.Width = 2
			case 2:
				d.Width = 4
			case 3:
				d.Width = 8
			}
		}
		switch d.Width {
		case 1:
			if v, err := r.u8(); err == nil {
				d.Min = uint64(v)
			}
			if v, err := r.u8(); err == nil {
				d.Max = uint64(v)
			}
			if v, err := r.u8(); err == nil {
				d.Step = uint64(v)
			}
		case 2:
			if v, err := r.u16(); err == nil {
				d.Min = uint64(v)
			}
			if v, err := r.u16(); err == nil {
				d.Max = uint64(v)
			}
			if v, err := r.u16(); err == nil {
				d.Step = uint64(v)
			}
		case 4:
			if v, err := r.u32(); err == nil {
				d.Min = uint64(v)
			}
			if v, err := r.u32(); err == nil {
				d.Max = uint64(v)
			}
			if v, err := r.u32(); err == nil {
				d.Step = uint64(v)
			}
		case 8:
			if v, err := r.u64(); err == nil {
				d.Min = v
			}
			if v, err := r.u64(); err == nil {
				d.Max = v
			}
			if v, err := r.u64(); err == nil {
				d.Step = v
			}
		}
		return d

	case OpOneOfOption:
		if len(body) < 4 {
			return nil
		}
		text, _ := r.u16()
		flags, _ := r.u8()
		typeByte, _ := r.u8()
		var value uint64
		switch typeByte {
		case 0: // UINT8
			if v, err := r.u8(); err == nil {
				value = uint64(v)
			}
		case 1: // UINT16
			if v, err := r.u16(); err == nil {
				value = uint64(v)
			}
		case 2: // UINT32
			if v, err := r.u32(); err == nil {
				value = uint64(v)
			}
		case 3: // UINT64
			if v, err := r.u64(); err == nil {
				value = v
			}
		}
		return OptionData{Text: text, Value: value, Flags: flags}

	case OpVarStore:
		if len(body) < 18 {
			return nil
		}
		g, _ := r.guid()
		varStoreID, _ := r.u16()
		size, _ := r.u16()
		name, _ := r.cstring()
		return &VarStoreData{GUID: g, VarStoreID: varStoreID, Size: size, Name: name}

	case OpVarStoreEfi:
		if len(body) < 22 {
			return nil
		}
		varStoreID, _ := r.u16()
		g, _ := r.guid()
		attrs, _ := r.u32()
		size, _ := r.u16()
		return &VarStoreEfiData{VarStoreID: varStoreID, GUID: g, Attributes: attrs, Size: size}

	case OpDefaultStore:
		if len(body) < 4 {
			return nil
		}
		nameID, _ := r.u16()
		defaultID, _ := r.u16()
		return &DefaultStoreData{DefaultID: defaultID, NameID: nameID}

	case OpDefault:
		if len(body) < 3 {
			return nil
		}
		defaultID, _ := r.u16()
		typeByte, _ := r.u8()
		var value uint64
		switch typeByte {
		case 0:
			if v, err := r.u8(); err == nil {
				value = uint64(v)
			}
		case 1:
			if v, err := r.u16(); err == nil {
				value = uint64(v)
			}
		case 2:
			if v, err := r.u32(); err == nil {
				value = uint64(v)
			}
		case 3:
			if v, err := r.u64(); err == nil {
				value = v
			}
		}
		return &DefaultData{DefaultID: defaultID, Type: typeByte, Value: value}

	default:
		return nil
	}
}

// readQuestionHeader parses EFI_IFR_QUESTION_HEADER, common to
// OneOf/CheckBox/Numeric/Password/OrderedList/Action/String/Date/Time.
func readQuestionHeader(r *reader, bodyLen int) (QuestionHeader, bool) {
	var qh QuestionHeader
	if bodyLen < 11 {
		return qh, false
	}
	prompt, err := r.u16()
	if err != nil {
		return qh, false
	}
	help, err := r.u16()
	if err != nil {
		return qh, false
	}
	qid, err := r.u16()
	if err != nil {
		return qh, false
	}
	vsid, err := r.u16()
	if err != nil {
		return qh, false
	}
	off, err := r.u16()
	if err != nil {
		return qh, false
	}
	flags, err := r.u8()
	if err != nil {
		return qh, false
	}
	return QuestionHeader{
		Prompt: prompt, Help: help, QuestionID: qid,
		VarStoreID: vsid, VarOffset: off, Flags: flags,
	}, true
}
