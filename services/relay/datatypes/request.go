// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxPromptChars is the maximum prompt length in characters, after trimming.
	MaxPromptChars = 5000

	// DefaultMaxHistoryTurns bounds the client-supplied history.
	DefaultMaxHistoryTurns = 100

	// DefaultMaxImageBytes bounds a single attachment held in memory.
	DefaultMaxImageBytes int64 = 10 << 20
)

// =============================================================================
// Validation Messages
// =============================================================================

const (
	MsgPromptNotString   = "The prompt must be a string."
	MsgPromptEmpty       = "The prompt cannot be empty."
	MsgPromptTooLong     = "The prompt cannot exceed 5000 characters."
	MsgHistoryNotJSON    = "History must be a valid JSON string."
	MsgHistoryShape      = "History must be an array of turns with role user or model and at least one valid part."
	MsgPersonality       = "Invalid personality."
	MsgImageTooMany      = "Only one image may be attached."
	MsgImageTooLarge     = "The image is too large."
	MsgImageUnexpected   = "Unexpected file field; only image is accepted."
	MsgImageUnreadable   = "The image could not be read."
	MsgBodyUnparseable   = "The request body could not be parsed."
	MsgBodyTooLarge      = "The request body is too large."
	msgHistoryTooLongFmt = "History cannot exceed %d turns."
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// formValidate is the validator instance for GenerateTextForm.
var formValidate *validator.Validate

func init() {
	formValidate = validator.New(validator.WithRequiredStructEnabled())

	_ = formValidate.RegisterValidation("personality", validatePersonality)
}

// validatePersonality accepts exactly the values ParsePersonality accepts.
func validatePersonality(fl validator.FieldLevel) bool {
	_, ok := ParsePersonality(fl.Field().String())
	return ok
}

// =============================================================================
// Validation Errors
// =============================================================================

// FieldError describes one violated rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationErrors lists every violated rule of a request.
type ValidationErrors []FieldError

// Error joins the messages.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, " ")
}

// Fields returns the distinct field names, in order of first appearance.
func (v ValidationErrors) Fields() []string {
	seen := make(map[string]bool, len(v))
	var fields []string
	for _, fe := range v {
		if !seen[fe.Field] {
			seen[fe.Field] = true
			fields = append(fields, fe.Field)
		}
	}
	return fields
}

// =============================================================================
// Request Form
// =============================================================================

// GenerateTextForm holds the text fields of POST /api/gerar-texto.
//
// # Description
//
// Pointers distinguish an absent field from an empty one: a missing
// prompt is reported as "must be a string", an empty one as "cannot be
// empty". The struct binds from multipart, urlencoded, and JSON bodies.
//
// # Fields
//
//   - Prompt: Required. Trimmed, then 1 to MaxPromptChars characters.
//   - History: Optional JSON-encoded array of ChatTurn.
//   - Personality: Optional, one of Personalities().
type GenerateTextForm struct {
	Prompt      *string `form:"prompt" json:"prompt" validate:"required,min=1,max=5000"`
	History     *string `form:"history" json:"history" validate:"omitempty,json"`
	Personality *string `form:"personality" json:"personality" validate:"omitempty,personality"`
}

// Normalize trims the prompt in place. Personality is matched verbatim.
func (f *GenerateTextForm) Normalize() {
	if f.Prompt != nil {
		trimmed := strings.TrimSpace(*f.Prompt)
		f.Prompt = &trimmed
	}
}

// Validate checks every field and returns all violations at once.
//
// # Description
//
// Runs the declarative rules first. When history is valid JSON it is
// also decoded and checked for shape and length, so a single response
// can report prompt, history, and personality problems together.
//
// # Inputs
//
//   - maxHistoryTurns: History length bound. Values <= 0 use DefaultMaxHistoryTurns.
//
// # Outputs
//
//   - []ChatTurn: The decoded history (nil when absent or invalid).
//   - error: ValidationErrors when any rule failed, otherwise nil.
//
// # Assumptions
//
//   - Normalize has been called.
func (f *GenerateTextForm) Validate(maxHistoryTurns int) ([]ChatTurn, error) {
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = DefaultMaxHistoryTurns
	}

	var violations ValidationErrors

	if err := formValidate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		for _, fe := range verrs {
			violations = append(violations, f.describe(fe))
		}
	}

	var history []ChatTurn
	if f.History != nil && *f.History != "" && !violations.has("history") {
		decoded, fe := decodeHistory(*f.History, maxHistoryTurns)
		if fe != nil {
			violations = append(violations, *fe)
		} else {
			history = decoded
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return history, nil
}

// PersonalityValue returns the parsed personality. Call after Validate.
func (f *GenerateTextForm) PersonalityValue() Personality {
	if f.Personality == nil {
		return PersonalityNone
	}
	p, _ := ParsePersonality(*f.Personality)
	return p
}

// PromptValue returns the trimmed prompt, or "" when absent.
func (f *GenerateTextForm) PromptValue() string {
	if f.Prompt == nil {
		return ""
	}
	return *f.Prompt
}

// describe maps a validator failure to the client-facing FieldError.
func (f *GenerateTextForm) describe(fe validator.FieldError) FieldError {
	out := FieldError{Field: strings.ToLower(fe.Field()), Rule: fe.Tag()}

	switch out.Field {
	case "prompt":
		switch fe.Tag() {
		case "required":
			if f.Prompt == nil {
				out.Rule = "string"
				out.Message = MsgPromptNotString
			} else {
				out.Message = MsgPromptEmpty
			}
		case "min":
			out.Message = MsgPromptEmpty
		default:
			out.Message = MsgPromptTooLong
		}
	case "history":
		out.Message = MsgHistoryNotJSON
	case "personality":
		out.Message = MsgPersonality
	default:
		out.Message = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
	return out
}

func (v ValidationErrors) has(field string) bool {
	for _, fe := range v {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// decodeHistory parses raw into turns and enforces shape and length.
func decodeHistory(raw string, maxTurns int) ([]ChatTurn, *FieldError) {
	var turns []ChatTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, &FieldError{Field: "history", Rule: "shape", Message: MsgHistoryShape}
	}
	if len(turns) > maxTurns {
		return nil, &FieldError{
			Field:   "history",
			Rule:    "max",
			Message: fmt.Sprintf(msgHistoryTooLongFmt, maxTurns),
		}
	}
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return nil, &FieldError{Field: "history", Rule: "shape", Message: MsgHistoryShape}
		}
	}
	return turns, nil
}

// =============================================================================
// Generation Request
// =============================================================================

// Attachment is an uploaded file held in memory.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// GenerationRequest is a validated request ready for the provider.
type GenerationRequest struct {
	RequestID   string
	Prompt      string
	History     []ChatTurn
	Personality Personality
	Image       *Attachment
}

// Parts builds the parts of the new user turn: the prompt text, then the
// image as inline media when present.
func (r GenerationRequest) Parts() []ContentPart {
	parts := []ContentPart{TextPart(r.Prompt)}
	if r.Image != nil {
		parts = append(parts, MediaPart(r.Image.MimeType, r.Image.Data))
	}
	return parts
}

// SeededHistory returns the personality preset followed by the client history.
func (r GenerationRequest) SeededHistory() []ChatTurn {
	return MergePersonality(r.Personality, r.History)
}
