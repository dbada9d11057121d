// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// validate normalizes and validates a form, returning the violations (if any).
func validate(t *testing.T, form GenerateTextForm) ([]ChatTurn, ValidationErrors) {
	t.Helper()
	form.Normalize()
	history, err := form.Validate(0)
	if err == nil {
		return history, nil
	}
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %T", err)
	return nil, verrs
}

// TestValidate_PromptLengthBoundaries verifies 1 and 5000 pass, 0 and 5001 fail.
func TestValidate_PromptLengthBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		prompt  string
		wantMsg string
	}{
		{"single char", "a", ""},
		{"max length", strings.Repeat("a", MaxPromptChars), ""},
		{"max length multibyte", strings.Repeat("é", MaxPromptChars), ""},
		{"empty", "", MsgPromptEmpty},
		{"whitespace only", "   \n\t", MsgPromptEmpty},
		{"too long", strings.Repeat("a", MaxPromptChars+1), MsgPromptTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, verrs := validate(t, GenerateTextForm{Prompt: strPtr(tt.prompt)})
			if tt.wantMsg == "" {
				assert.Empty(t, verrs)
				return
			}
			require.Len(t, verrs, 1)
			assert.Equal(t, "prompt", verrs[0].Field)
			assert.Equal(t, tt.wantMsg, verrs[0].Message)
		})
	}
}

// TestValidate_TrimmedBeforeLengthCheck verifies surrounding whitespace does not count.
func TestValidate_TrimmedBeforeLengthCheck(t *testing.T) {
	form := GenerateTextForm{Prompt: strPtr("  " + strings.Repeat("a", MaxPromptChars) + "  ")}

	_, verrs := validate(t, form)

	assert.Empty(t, verrs)
}

// TestValidate_MissingPrompt verifies an absent prompt is reported as not a string.
func TestValidate_MissingPrompt(t *testing.T) {
	_, verrs := validate(t, GenerateTextForm{})

	require.Len(t, verrs, 1)
	assert.Equal(t, "prompt", verrs[0].Field)
	assert.Equal(t, "string", verrs[0].Rule)
	assert.Equal(t, MsgPromptNotString, verrs[0].Message)
}

// TestValidate_Personality verifies the closed enum.
func TestValidate_Personality(t *testing.T) {
	for _, p := range []string{"default", "pirate", "shakespeare", "sarcastic"} {
		_, verrs := validate(t, GenerateTextForm{Prompt: strPtr("hi"), Personality: strPtr(p)})
		assert.Empty(t, verrs, "%s should be accepted", p)
	}

	for _, p := range []string{"robot", "PIRATE", "none"} {
		_, verrs := validate(t, GenerateTextForm{Prompt: strPtr("hi"), Personality: strPtr(p)})
		require.Len(t, verrs, 1, "%s should be rejected", p)
		assert.Equal(t, "personality", verrs[0].Field)
		assert.Equal(t, MsgPersonality, verrs[0].Message)
	}
}

// TestValidate_PersonalityNotTrimmed verifies padded values are rejected while
// an empty value still means no personality.
func TestValidate_PersonalityNotTrimmed(t *testing.T) {
	for _, p := range []string{" pirate ", "pirate ", "\tsarcastic", "  "} {
		_, verrs := validate(t, GenerateTextForm{Prompt: strPtr("hi"), Personality: strPtr(p)})
		require.Len(t, verrs, 1, "%q should be rejected", p)
		assert.Equal(t, "personality", verrs[0].Field)
	}

	form := GenerateTextForm{Prompt: strPtr("hi"), Personality: strPtr("")}
	_, verrs := validate(t, form)
	assert.Empty(t, verrs)
	assert.Equal(t, PersonalityNone, form.PersonalityValue())
}

// TestValidate_HistoryNotJSON verifies malformed JSON is rejected.
func TestValidate_HistoryNotJSON(t *testing.T) {
	_, verrs := validate(t, GenerateTextForm{Prompt: strPtr("hi"), History: strPtr("[{")})

	require.Len(t, verrs, 1)
	assert.Equal(t, "history", verrs[0].Field)
	assert.Equal(t, MsgHistoryNotJSON, verrs[0].Message)
}

// TestValidate_HistoryWrongShape verifies valid JSON that is not a turn array is rejected.
func TestValidate_HistoryWrongShape(t *testing.T) {
	for _, raw := range []string{`{"role":"user"}`, `[{"role":"system","parts":[{"text":"x"}]}]`, `[{"role":"user","parts":[]}]`} {
		_, verrs := validate(t, GenerateTextForm{Prompt: strPtr("hi"), History: strPtr(raw)})
		require.Len(t, verrs, 1, raw)
		assert.Equal(t, "shape", verrs[0].Rule, raw)
		assert.Equal(t, MsgHistoryShape, verrs[0].Message, raw)
	}
}

// TestValidate_HistoryTooLong verifies the history bound.
func TestValidate_HistoryTooLong(t *testing.T) {
	form := GenerateTextForm{
		Prompt:  strPtr("hi"),
		History: strPtr(`[{"role":"user","parts":[{"text":"a"}]},{"role":"model","parts":[{"text":"b"}]},{"role":"user","parts":[{"text":"c"}]}]`),
	}
	form.Normalize()

	_, err := form.Validate(2)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "History cannot exceed 2 turns.", verrs[0].Message)
}

// TestValidate_DecodesHistory verifies a valid history is returned decoded.
func TestValidate_DecodesHistory(t *testing.T) {
	history, verrs := validate(t, GenerateTextForm{
		Prompt:  strPtr("hi"),
		History: strPtr(`[{"role":"user","parts":[{"text":"a"}]},{"role":"model","parts":[{"text":"b"}]}]`),
	})

	require.Empty(t, verrs)
	require.Len(t, history, 2)
	assert.Equal(t, RoleModel, history[1].Role)
	assert.Equal(t, "b", history[1].Parts[0].Text)
}

// TestValidate_EmptyHistoryArray verifies "[]" is valid and yields no turns.
func TestValidate_EmptyHistoryArray(t *testing.T) {
	history, verrs := validate(t, GenerateTextForm{Prompt: strPtr("hi"), History: strPtr("[]")})

	assert.Empty(t, verrs)
	assert.Empty(t, history)
}

// TestValidate_ReportsEveryViolation verifies all failing fields are listed together.
func TestValidate_ReportsEveryViolation(t *testing.T) {
	_, verrs := validate(t, GenerateTextForm{
		Prompt:      strPtr(""),
		History:     strPtr("not json"),
		Personality: strPtr("robot"),
	})

	assert.ElementsMatch(t, []string{"prompt", "history", "personality"}, verrs.Fields())
	assert.Contains(t, verrs.Error(), MsgPromptEmpty)
	assert.Contains(t, verrs.Error(), MsgPersonality)
}

// TestGenerationRequest_Parts verifies prompt then inline media ordering.
func TestGenerationRequest_Parts(t *testing.T) {
	req := GenerationRequest{
		Prompt: "What do you see?",
		Image:  &Attachment{MimeType: "image/png", Data: []byte{1}},
	}

	parts := req.Parts()

	require.Len(t, parts, 2)
	assert.Equal(t, "What do you see?", parts[0].Text)
	assert.True(t, parts[1].IsMedia())
	assert.Equal(t, "image/png", parts[1].InlineData.MimeType)
}

// TestGenerationRequest_SeededHistory verifies the personality is applied.
func TestGenerationRequest_SeededHistory(t *testing.T) {
	req := GenerationRequest{Prompt: "Tell a joke", Personality: PersonalityPirate}

	seeded := req.SeededHistory()

	require.Len(t, seeded, 2)
	assert.Equal(t, PersonalityPirate.Preset(), seeded)
}
