// Copyright 2023 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spellings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHiiVariationsUntranslatedFallsBackToCanonical(t *testing.T) {
	tbl := Table{}
	require.Equal(t, []string{"Some Unknown Setting"}, tbl.HiiVariations("Some Unknown Setting"))
}

func TestHiiVariationsTranslated(t *testing.T) {
	variations := Default.HiiVariations("TPM State")
	assert.Contains(t, variations, "TPM State")
	assert.Contains(t, variations, "TPM Enable")
}

func TestHiiAnswerCandidatesTriesReplacementsThenCanonical(t *testing.T) {
	candidates := Default.HiiAnswerCandidates("TPM State", "Enabled")
	require.Equal(t, []string{"Enabled", "Enable", "Enabled"}, candidates)
}

func TestIloQuestionAndAnswerTranslation(t *testing.T) {
	require.Equal(t, "TpmState", Default.IloQuestion("TPM State"))
	require.Equal(t, "PresentEnabled", Default.IloAnswer("TPM State", "Enabled"))
	require.Equal(t, "Unknown", Default.IloQuestion("Unknown"))
	require.Equal(t, "Value", Default.IloAnswer("Unknown", "Value"))
}

// TestForwardThenReverseIsIdentity exercises invariant 5 from spec §8:
// for any spellings entry, forward-then-reverse answer translation is
// the identity on the canonical set.
func TestForwardThenReverseIsIdentity(t *testing.T) {
	for canonical, mapping := range Default {
		if mapping.Hii != nil {
			for canonicalAnswer := range mapping.Hii.AnswerReplacements {
				candidates := Default.HiiAnswerCandidates(canonical, canonicalAnswer)
				require.NotEmpty(t, candidates)
				raw := candidates[0]
				got := Default.TranslateResponse(canonical, raw, BackendHii)
				assert.Equal(t, canonicalAnswer, got, "hii round trip for %s/%s", canonical, canonicalAnswer)
			}
		}
		if mapping.Ilo != nil {
			for canonicalAnswer := range mapping.Ilo.AnswerReplacements {
				raw := Default.IloAnswer(canonical, canonicalAnswer)
				got := Default.TranslateResponse(canonical, raw, BackendIlo)
				assert.Equal(t, canonicalAnswer, got, "ilo round trip for %s/%s", canonical, canonicalAnswer)
			}
		}
	}
}

func TestIsTranslated(t *testing.T) {
	assert.True(t, Default.IsTranslated("TPM State", BackendHii))
	assert.True(t, Default.IsTranslated("TPM State", BackendIlo))
	assert.False(t, Default.IsTranslated("Nonexistent Setting", BackendHii))
}

func TestMergeOverridesWinOverBase(t *testing.T) {
	base := Table{"X": {Hii: &HiiMapping{QuestionVariations: []string{"X"}}}}
	override := Table{"X": {Hii: &HiiMapping{QuestionVariations: []string{"X2"}}}}
	merged := Merge(base, override)
	require.Equal(t, []string{"X2"}, merged.HiiVariations("X"))
}
