// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spellings implements the canonical-name translation table
// described by spec §4.5: a single internal spelling for a setting
// ("TPM State") maps to the several platform-specific variants a HiiDB
// prompt or an iLO Redfish attribute may actually use ("TpmState",
// "Tpm State [ALL]", ...), along with per-answer replacement lists in
// each direction.
package spellings

import "strings"

// HiiMapping holds the HII-side variant spellings for one canonical
// question: the ordered list of prompt strings to try (first match
// wins, per spec's question-engine tie-break rule) and, per canonical
// answer, the ordered list of raw answer strings to try against the
// question's options.
type HiiMapping struct {
	QuestionVariations []string
	AnswerReplacements map[string][]string
}

// IloMapping holds the iLO-side variant spelling for one canonical
// question: the single Redfish attribute name iLO exposes it under, and
// per canonical answer the single raw value iLO expects.
type IloMapping struct {
	Question           string
	AnswerReplacements map[string]string
}

// Mapping is one canonical question's full spelling entry; either side
// may be nil if that backend doesn't expose the setting at all.
type Mapping struct {
	Hii *HiiMapping
	Ilo *IloMapping
}

// Table is canonical question name -> Mapping. The zero value (an empty
// Table) is valid and behaves as if nothing is translated.
type Table map[string]Mapping

// Default is the built-in translation table, grounded on
// original_source/translation.rs's spellings_db — a small set of
// settings known to vary across OCP/HPE platforms. Real deployments are
// expected to carry a much larger table generated from vendor
// documentation; this is a representative seed, not an exhaustive
// database, and callers may merge additional entries with Merge.
var Default = Table{
	"TPM State": {
		Hii: &HiiMapping{
			QuestionVariations: []string{"TPM State", "TPM Enable", "Tpm Security"},
			AnswerReplacements: map[string][]string{
				"Enabled":  {"Enabled", "Enable"},
				"Disabled": {"Disabled", "Disable"},
			},
		},
		Ilo: &IloMapping{
			Question: "TpmState",
			AnswerReplacements: map[string]string{
				"Enabled":  "PresentEnabled",
				"Disabled": "PresentDisabled",
			},
		},
	},
	"Hyper-Threading": {
		Hii: &HiiMapping{
			QuestionVariations: []string{"Hyper-Threading", "Hyper Threading [ALL]", "Enable LP"},
			AnswerReplacements: map[string][]string{
				"Enabled":  {"Enabled", "Enable"},
				"Disabled": {"Disabled", "Disable"},
			},
		},
		Ilo: &IloMapping{
			Question: "ProcHyperthreading",
			AnswerReplacements: map[string]string{
				"Enabled":  "Enabled",
				"Disabled": "Disabled",
			},
		},
	},
	"Secure Boot": {
		Hii: &HiiMapping{
			QuestionVariations: []string{"Secure Boot", "Attempt Secure Boot"},
			AnswerReplacements: map[string][]string{
				"Enabled":  {"Enabled", "Enable"},
				"Disabled": {"Disabled", "Disable"},
			},
		},
		Ilo: &IloMapping{
			Question: "SecureBootStatus",
		},
	},
}

// Merge returns a new Table containing every entry of base, overwritten
// by every entry of overrides — used to layer a site-specific spellings
// file on top of Default without mutating it.
func Merge(base, overrides Table) Table {
	out := make(Table, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// HiiVariations returns the prompt strings to try against HiiDB forms for
// canonical, in declaration order; when canonical has no entry (or no
// Hii side), the canonical name itself is the sole variation (spec: "If
// any part isn't in the translation database, it doesn't fail, it just
// returns the original value").
func (t Table) HiiVariations(canonical string) []string {
	m, ok := t[canonical]
	if !ok || m.Hii == nil || len(m.Hii.QuestionVariations) == 0 {
		return []string{canonical}
	}
	return m.Hii.QuestionVariations
}

// HiiAnswerCandidates returns the raw answer strings to try, in order,
// for a canonical answer against a HII question's options. The
// canonical answer itself is always tried last as a fallback so an
// untranslated answer still has a chance to match directly.
func (t Table) HiiAnswerCandidates(canonical, answer string) []string {
	m, ok := t[canonical]
	if !ok || m.Hii == nil || m.Hii.AnswerReplacements == nil {
		return []string{answer}
	}
	for key, variants := range m.Hii.AnswerReplacements {
		if strings.EqualFold(key, answer) {
			out := make([]string, 0, len(variants)+1)
			out = append(out, variants...)
			out = append(out, answer)
			return out
		}
	}
	return []string{answer}
}

// IloQuestion returns the Redfish attribute name for canonical, or
// canonical itself if untranslated.
func (t Table) IloQuestion(canonical string) string {
	m, ok := t[canonical]
	if !ok || m.Ilo == nil || m.Ilo.Question == "" {
		return canonical
	}
	return m.Ilo.Question
}

// IloAnswer returns the raw Redfish attribute value for a canonical
// answer, or answer itself if untranslated.
func (t Table) IloAnswer(canonical, answer string) string {
	m, ok := t[canonical]
	if !ok || m.Ilo == nil || m.Ilo.AnswerReplacements == nil {
		return answer
	}
	for key, value := range m.Ilo.AnswerReplacements {
		if strings.EqualFold(key, answer) {
			return value
		}
	}
	return answer
}

// Backend distinguishes which side of a Mapping a reverse lookup runs
// against.
type Backend int

// Recognized backends.
const (
	BackendHii Backend = iota
	BackendIlo
)

// TranslateResponse reverses a raw answer back to its canonical spelling
// for display, so a caller who set "Enabled" sees "Enabled" echoed back
// even though the firmware's own option text was "Enable". If question
// has no entry, or the raw value isn't one of its known replacements,
// the raw value is returned unchanged.
func (t Table) TranslateResponse(canonical, raw string, backend Backend) string {
	m, ok := t[canonical]
	if !ok {
		return raw
	}
	switch backend {
	case BackendHii:
		if m.Hii == nil {
			return raw
		}
		for key, variants := range m.Hii.AnswerReplacements {
			for _, v := range variants {
				if strings.EqualFold(v, raw) {
					return key
				}
			}
		}
	case BackendIlo:
		if m.Ilo == nil {
			return raw
		}
		for key, variant := range m.Ilo.AnswerReplacements {
			if strings.EqualFold(variant, raw) {
				return key
			}
		}
	}
	return raw
}

// IsTranslated reports whether canonical has an entry on the given
// backend's side at all, so a response can note whether a question name
// came through the table or was used verbatim.
func (t Table) IsTranslated(canonical string, backend Backend) bool {
	m, ok := t[canonical]
	if !ok {
		return false
	}
	switch backend {
	case BackendHii:
		return m.Hii != nil && len(m.Hii.QuestionVariations) > 0
	case BackendIlo:
		return m.Ilo != nil && m.Ilo.Question != ""
	}
	return false
}
