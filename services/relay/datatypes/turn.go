// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the request-scoped data structures of the relay.
//
// Conversation turns use the same JSON shape the browser client stores
// locally and sends back as the history field:
//
//	[{"role":"user","parts":[{"text":"Hi"}]},
//	 {"role":"model","parts":[{"text":"Hello!"}]}]
//
// Nothing in this package outlives a single request.
package datatypes

import (
	"encoding/base64"
	"fmt"
)

// Role identifies the author of a ChatTurn.
type Role string

const (
	// RoleUser marks a turn written by the end user.
	RoleUser Role = "user"

	// RoleModel marks a turn produced by the provider.
	RoleModel Role = "model"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// InlineMedia is binary content carried inside a turn, base64-encoded.
type InlineMedia struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Bytes decodes Data.
func (m InlineMedia) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Data)
}

// ContentPart is one element of a turn: either Text or InlineData.
//
// Exactly one of the two is set on a valid part. Use TextPart and
// MediaPart to build parts so the invariant holds by construction.
type ContentPart struct {
	Text       string       `json:"text,omitempty"`
	InlineData *InlineMedia `json:"inlineData,omitempty"`
}

// TextPart returns a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Text: text}
}

// MediaPart returns an inline media ContentPart, base64-encoding data.
func MediaPart(mimeType string, data []byte) ContentPart {
	return ContentPart{InlineData: &InlineMedia{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

// IsMedia reports whether the part carries inline media.
func (p ContentPart) IsMedia() bool {
	return p.InlineData != nil
}

// validate checks the one-of invariant and the base64 payload.
func (p ContentPart) validate() error {
	switch {
	case p.InlineData != nil && p.Text != "":
		return fmt.Errorf("part has both text and inline data")
	case p.InlineData != nil:
		if p.InlineData.MimeType == "" {
			return fmt.Errorf("inline data has no mimeType")
		}
		if _, err := p.InlineData.Bytes(); err != nil {
			return fmt.Errorf("inline data is not valid base64: %w", err)
		}
		return nil
	case p.Text == "":
		return fmt.Errorf("part has neither text nor inline data")
	default:
		return nil
	}
}

// ChatTurn is one message of a conversation. Turns are appended to a
// history and never modified afterwards.
type ChatTurn struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// NewTurn builds a turn from parts.
func NewTurn(role Role, parts ...ContentPart) ChatTurn {
	return ChatTurn{Role: role, Parts: parts}
}

// HasMedia reports whether any part of the turn carries inline media.
func (t ChatTurn) HasMedia() bool {
	for _, p := range t.Parts {
		if p.IsMedia() {
			return true
		}
	}
	return false
}

// Validate checks the role and every part of the turn.
func (t ChatTurn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("role %q is not user or model", t.Role)
	}
	if len(t.Parts) == 0 {
		return fmt.Errorf("turn has no parts")
	}
	for i, p := range t.Parts {
		if err := p.validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}
