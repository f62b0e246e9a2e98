// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hii implements the HiiDB path: locating and copying the
// in-memory UEFI Human Interface Infrastructure database, decoding its
// string and IFR form packages, and resolving/reading/writing the
// questions found there against efivarfs-backed variable stores.
package hii

import (
	"fmt"
	"strconv"

	"github.com/linuxboot/uefisettings/pkg/settingserr"
)

// Answer is a fully resolved question together with its current value.
type Answer struct {
	ResolvedQuestion
	RawValue uint64
	Text     string
}

// Load extracts and parses the HiiDB image, returning a Cache ready for
// FindQuestions. Each invocation reconstructs this from scratch per
// spec's stated lifecycle (no persistent cache across commands).
func Load(opts LocatorOptions) (*Cache, error) {
	buf, err := ExtractDB(opts)
	if err != nil {
		return nil, err
	}
	db, err := ParseDB(buf)
	if err != nil {
		return nil, err
	}
	return NewCache(db), nil
}

// Get resolves every question matching any of variations and reads its
// current answer. Per spec §4.8, all matches are returned (not just the
// first) so a caller sees evidence of partial success across locations;
// only Set enforces single-location ambiguity.
func Get(opts LocatorOptions, variations []string) ([]Answer, error) {
	cache, err := Load(opts)
	if err != nil {
		return nil, err
	}
	matches := FindQuestions(cache, variations)
	if len(matches) == 0 {
		return nil, settingserr.New(settingserr.NotFound, "hii.Get",
			fmt.Errorf("no question matched %v", variations))
	}

	answers := make([]Answer, 0, len(matches))
	for _, rq := range matches {
		if rq.VarStoreName == "" || rq.VarStoreGUID == nil {
			continue
		}
		raw, err := ReadAnswerBytes(opts, rq.VarStoreName, rq.VarStoreGUID, rq.Location.Offset, rq.Width)
		if err != nil {
			return nil, err
		}
		answers = append(answers, Answer{ResolvedQuestion: rq, RawValue: raw, Text: formatAnswer(rq, raw)})
	}
	if len(answers) == 0 {
		return nil, settingserr.New(settingserr.NotFound, "hii.Get",
			fmt.Errorf("%v matched but no variable-store binding was resolvable", variations))
	}
	return answers, nil
}

func formatAnswer(rq ResolvedQuestion, raw uint64) string {
	switch rq.Kind {
	case KindOneOf:
		for _, opt := range rq.Options {
			if opt.Value == raw {
				return opt.Text
			}
		}
		return strconv.FormatUint(raw, 10)
	case KindCheckBox:
		if raw != 0 {
			return "Enabled"
		}
		return "Disabled"
	default:
		return strconv.FormatUint(raw, 10)
	}
}

// Resolve resolves every question matching variations without reading
// their current value — used by Set to check for ambiguity before
// committing to a write.
func Resolve(opts LocatorOptions, variations []string) ([]ResolvedQuestion, error) {
	cache, err := Load(opts)
	if err != nil {
		return nil, err
	}
	return resolveInCache(cache, variations)
}

func resolveInCache(cache *Cache, variations []string) ([]ResolvedQuestion, error) {
	matches := FindQuestions(cache, variations)
	if len(matches) == 0 {
		return nil, settingserr.New(settingserr.NotFound, "hii.Resolve",
			fmt.Errorf("no question matched %v", variations))
	}
	return matches, nil
}

// ValueForAnswer maps a requested answer string to the question's
// backing numeric value: for OneOf/CheckBox it matches against Options'
// text (candidates is tried in order, letting the caller pass spelling
// variations), for Numeric it parses the string as an integer bounded by
// [Min,Max].
func ValueForAnswer(rq ResolvedQuestion, candidates []string) (uint64, error) {
	switch rq.Kind {
	case KindOneOf, KindCheckBox:
		for _, cand := range candidates {
			for _, opt := range rq.Options {
				if opt.Text == cand {
					return opt.Value, nil
				}
			}
		}
		return 0, settingserr.New(settingserr.InvalidAnswer, "hii.ValueForAnswer",
			fmt.Errorf("%v is not one of the question's options", candidates))
	case KindNumeric:
		for _, cand := range candidates {
			v, err := strconv.ParseUint(cand, 10, 64)
			if err != nil {
				continue
			}
			if v < rq.Min || v > rq.Max {
				return 0, settingserr.New(settingserr.InvalidAnswer, "hii.ValueForAnswer",
					fmt.Errorf("%d outside of [%d,%d]", v, rq.Min, rq.Max))
			}
			return v, nil
		}
		return 0, settingserr.New(settingserr.InvalidAnswer, "hii.ValueForAnswer",
			fmt.Errorf("%v is not a valid numeric answer", candidates))
	default:
		return 0, settingserr.New(settingserr.Unsupported, "hii.ValueForAnswer", fmt.Errorf("unsupported question kind"))
	}
}

// Set resolves variations, requires exactly one distinct storage
// location among the matches (Ambiguous otherwise, with zero writes),
// then writes value to it and verifies the read-back.
func Set(opts LocatorOptions, variations []string, candidates []string) error {
	cache, err := Load(opts)
	if err != nil {
		return err
	}
	return setInCache(cache, opts, variations, candidates)
}

// setInCache is Set's resolution and write logic against an
// already-loaded Cache, split out so the Ambiguous branch (spec §7,
// Scenario S5) can be exercised without a real HiiDB image.
func setInCache(cache *Cache, opts LocatorOptions, variations []string, candidates []string) error {
	matches, err := resolveInCache(cache, variations)
	if err != nil {
		return err
	}
	locs := DistinctLocations(matches)
	if len(locs) > 1 {
		return settingserr.New(settingserr.Ambiguous, "hii.Set",
			fmt.Errorf("%d distinct locations matched %v: %v", len(locs), variations, locs))
	}

	rq := matches[0]
	if rq.VarStoreName == "" || rq.VarStoreGUID == nil {
		return settingserr.New(settingserr.Unsupported, "hii.Set",
			fmt.Errorf("%s has no resolvable variable-store binding", rq.Prompt))
	}
	value, err := ValueForAnswer(rq, candidates)
	if err != nil {
		return err
	}
	return WriteAnswerBytes(opts, rq.VarStoreName, rq.VarStoreGUID, rq.Location.Offset, rq.Width, value)
}
