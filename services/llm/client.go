// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// ChatRequest is one provider call: a seeded history plus the new user turn.
type ChatRequest struct {
	History []datatypes.ChatTurn
	Parts   []datatypes.ContentPart
}

// HasMedia reports whether the new turn carries an attachment.
func (r ChatRequest) HasMedia() bool {
	for _, p := range r.Parts {
		if p.IsMedia() {
			return true
		}
	}
	return false
}

// Usage is the token accounting reported by the provider, when available.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// FragmentStream is a single-consumer, pull-based sequence of text fragments.
//
// Next blocks until the provider yields the next fragment and returns
// io.EOF once the reply is complete. Errors are classified with
// pkg/apperrors. Close releases the provider session and is safe to call
// more than once.
type FragmentStream interface {
	Next() (string, error)
	Model() string
	Usage() Usage
	Close()
}

// Generator is the provider client adapter.
//
// Implementations are created once per process and shared by all
// requests; they must be safe for concurrent use. Ready reports whether
// the adapter can accept calls (credential present, client open).
type Generator interface {
	Ready() error
	StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error)
	Close() error
}

// ModelPolicy chooses the provider model for a request.
type ModelPolicy struct {
	// Default is used for text-only turns.
	Default string

	// Vision is used when the new turn carries media. Empty means Default.
	Vision string
}

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash-latest"

// Select returns the model for a turn with or without media.
func (p ModelPolicy) Select(hasMedia bool) string {
	if hasMedia && p.Vision != "" {
		return p.Vision
	}
	if p.Default != "" {
		return p.Default
	}
	return DefaultModel
}
