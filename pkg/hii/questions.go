// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hii

import (
	"strings"

	"github.com/linuxboot/uefisettings/pkg/guid"
)

// QuestionKind classifies what shape of answer a resolved question has.
type QuestionKind int

// Recognized question kinds.
const (
	KindOneOf QuestionKind = iota
	KindCheckBox
	KindNumeric
)

// Option is one OneOf choice, string text resolved.
type Option struct {
	Value uint64
	Text  string
}

// Location identifies where in firmware storage a question's answer
// lives; two matches with different Locations are what makes a set
// request Ambiguous (spec §7, Scenario S5). VarStoreGUID is included
// alongside VarStoreID because the numeric ID is only unique within a
// single form-set's scope — two form-sets are free to both declare
// VarStoreID 1 for unrelated stores, and without the GUID those would
// incorrectly collapse into a single "location" for ambiguity purposes.
type Location struct {
	VarStoreID   uint16
	VarStoreGUID guid.GUID
	Offset       uint16
}

// ResolvedQuestion is everything the engine needs to read or write a
// matched question's answer.
type ResolvedQuestion struct {
	Prompt       string
	FormSetGUID  *guid.GUID
	VarStoreName string
	VarStoreGUID *guid.GUID
	Location     Location
	Width        byte
	Kind         QuestionKind
	Options      []Option
	Min, Max     uint64
}

type varStoreInfo struct {
	name string
	guid *guid.GUID
}

// FindQuestions walks every package-list's form trees looking for
// question nodes whose prompt, trimmed, equals a variation
// case-sensitively. Variations are tried in order and the first one that
// matches any question wins; for it, one ResolvedQuestion per matching
// node is returned in package-list/tree order, so the caller (the
// question engine's get/set entry points) can detect ambiguity across
// *distinct* storage locations, per spec's tie-break rules.
func FindQuestions(c *Cache, variations []string) []ResolvedQuestion {
	for _, v := range variations {
		var out []ResolvedQuestion
		norm := []string{strings.TrimSpace(v)}
		for listIdx, list := range c.DB.Lists {
			roots, err := c.Forms(listIdx)
			if err != nil && roots == nil {
				continue
			}
			for _, root := range roots {
				walkFormTree(c, listIdx, list.GUID, root, nil, norm, &out)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func walkFormTree(c *Cache, listIdx int, formSetGUID *guid.GUID, node *Node, stores map[uint16]varStoreInfo, norm []string, out *[]ResolvedQuestion) {
	switch d := node.Data.(type) {
	case *FormSetData:
		formSetGUID = d.GUID
		stores = map[uint16]varStoreInfo{}
	case *VarStoreData:
		stores[d.VarStoreID] = varStoreInfo{name: d.Name, guid: d.GUID}
	case *VarStoreEfiData:
		// VarStoreEfi carries no human-readable Name field in the wire
		// format; this engine synthesizes one from the GUID so the same
		// "<Name>-<Guid>" efivarfs addressing scheme still applies.
		stores[d.VarStoreID] = varStoreInfo{name: d.GUID.String(), guid: d.GUID}
	case *OneOfData:
		if matchesAny(c.lookupString(listIdx, d.Prompt), norm) {
			vs, hasStore := stores[d.VarStoreID]
			rq := ResolvedQuestion{
				Prompt:      c.lookupString(listIdx, d.Prompt),
				FormSetGUID: formSetGUID,
				Location:    Location{VarStoreID: d.VarStoreID, VarStoreGUID: locationGUID(vs), Offset: d.VarOffset},
				Width:       d.Width,
				Kind:        KindOneOf,
			}
			if hasStore {
				rq.VarStoreName = vs.name
				rq.VarStoreGUID = vs.guid
			}
			for _, opt := range d.Options {
				rq.Options = append(rq.Options, Option{Value: opt.Value, Text: c.lookupString(listIdx, opt.Text)})
			}
			*out = append(*out, rq)
		}
	case *CheckBoxData:
		if matchesAny(c.lookupString(listIdx, d.Prompt), norm) {
			vs, hasStore := stores[d.VarStoreID]
			rq := ResolvedQuestion{
				Prompt:      c.lookupString(listIdx, d.Prompt),
				FormSetGUID: formSetGUID,
				Location:    Location{VarStoreID: d.VarStoreID, VarStoreGUID: locationGUID(vs), Offset: d.VarOffset},
				Width:       1,
				Kind:        KindCheckBox,
				Options:     []Option{{Value: 0, Text: "Disabled"}, {Value: 1, Text: "Enabled"}},
			}
			if hasStore {
				rq.VarStoreName = vs.name
				rq.VarStoreGUID = vs.guid
			}
			*out = append(*out, rq)
		}
	case *NumericData:
		if matchesAny(c.lookupString(listIdx, d.Prompt), norm) {
			vs, hasStore := stores[d.VarStoreID]
			rq := ResolvedQuestion{
				Prompt:      c.lookupString(listIdx, d.Prompt),
				FormSetGUID: formSetGUID,
				Location:    Location{VarStoreID: d.VarStoreID, VarStoreGUID: locationGUID(vs), Offset: d.VarOffset},
				Width:       d.Width,
				Kind:        KindNumeric,
				Min:         d.Min,
				Max:         d.Max,
			}
			if hasStore {
				rq.VarStoreName = vs.name
				rq.VarStoreGUID = vs.guid
			}
			*out = append(*out, rq)
		}
	}

	for _, child := range node.Children {
		walkFormTree(c, listIdx, formSetGUID, child, stores, norm, out)
	}
}

// locationGUID dereferences a resolved var-store's GUID for use as part
// of a Location map key; an unresolved var-store (hasStore false from
// the caller, or a nil GUID) contributes the zero GUID, which is fine
// since Location.VarStoreID already narrows those cases separately.
func locationGUID(vs varStoreInfo) guid.GUID {
	if vs.guid == nil {
		return guid.GUID{}
	}
	return *vs.guid
}

func matchesAny(s string, norm []string) bool {
	if s == "" {
		return false
	}
	ts := strings.TrimSpace(s)
	for _, n := range norm {
		if ts == n {
			return true
		}
	}
	return false
}

// DistinctLocations returns the distinct storage locations across a set
// of matches, in first-seen order — their count is what spec's Ambiguous check (§7,
// Scenario S5) keys off, since the same question can legitimately appear
// more than once (e.g. duplicated across form-sets that share a
// VarStore) without that counting as ambiguity.
func DistinctLocations(matches []ResolvedQuestion) []Location {
	seen := map[Location]bool{}
	var locs []Location
	for _, m := range matches {
		if !seen[m.Location] {
			seen[m.Location] = true
			locs = append(locs, m.Location)
		}
	}
	return locs
}
