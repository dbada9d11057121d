// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// =============================================================================
// Interface Definition
// =============================================================================

// TextStreamWriter writes a model reply to the client as a chunked
// text/plain body.
//
// # Description
//
// The writer commits the 200 status and streaming headers lazily, on the
// first fragment or an explicit Start. Until then the response is
// untouched and the handler can still answer with a JSON error. Each
// fragment is written verbatim and flushed immediately; no framing,
// delimiters, or trailing newline are added.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter
type TextStreamWriter interface {
	// WriteFragment commits the response if needed, writes fragment, and
	// flushes. Empty fragments are ignored.
	WriteFragment(fragment string) error

	// Start commits the status and headers without writing a body byte.
	// Used for replies that complete with no text.
	Start()

	// Started reports whether the status line has been committed.
	Started() bool

	// Fragments returns the number of fragments written.
	Fragments() int
}

// =============================================================================
// Struct Definition
// =============================================================================

// textStreamWriter implements TextStreamWriter over an http.ResponseWriter.
type textStreamWriter struct {
	writer    http.ResponseWriter
	flusher   http.Flusher
	started   bool
	fragments int
	mu        sync.Mutex
}

// =============================================================================
// Constructor
// =============================================================================

// NewTextStreamWriter creates a TextStreamWriter.
//
// # Outputs
//
//   - TextStreamWriter: Ready for writing.
//   - error: Non-nil if w does not implement http.Flusher.
func NewTextStreamWriter(w http.ResponseWriter) (TextStreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &textStreamWriter{writer: w, flusher: flusher}, nil
}

// SetTextStreamHeaders sets the headers of a streamed text reply.
//
// X-Accel-Buffering disables nginx buffering so fragments reach the
// client as they are flushed.
func SetTextStreamHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Del("Content-Length")
}

// =============================================================================
// Methods
// =============================================================================

func (w *textStreamWriter) WriteFragment(fragment string) error {
	if fragment == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.startLocked()
	if _, err := io.WriteString(w.writer, fragment); err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	w.flusher.Flush()
	w.fragments++
	return nil
}

func (w *textStreamWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.startLocked()
}

func (w *textStreamWriter) startLocked() {
	if w.started {
		return
	}
	SetTextStreamHeaders(w.writer)
	w.writer.WriteHeader(http.StatusOK)
	w.flusher.Flush()
	w.started = true
}

func (w *textStreamWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *textStreamWriter) Fragments() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fragments
}

// Compile-time interface check.
var _ TextStreamWriter = (*textStreamWriter)(nil)
