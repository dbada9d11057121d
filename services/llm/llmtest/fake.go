// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llmtest provides an in-memory llm.Generator for tests.
package llmtest

import (
	"context"
	"io"
	"sync"

	"github.com/AleutianAI/AleutianRelay/services/llm"
)

// Generator is a scripted llm.Generator.
//
// # Description
//
// Each StreamChat call yields Fragments in order. When StreamErr is set
// it is returned by Next after the first FailAfter fragments (0 means
// before any fragment). StartErr fails StreamChat itself and ReadyErr
// fails Ready. The last request and the chosen model are recorded.
type Generator struct {
	Fragments []string
	StreamErr error
	FailAfter int
	StartErr  error
	ReadyErr  error
	Models    llm.ModelPolicy
	Usage     llm.Usage

	// Gate, when non-nil, is received from before every fragment after
	// the first, letting tests pause the stream mid-reply.
	Gate chan struct{}

	mu        sync.Mutex
	calls     int
	lastReq   llm.ChatRequest
	lastModel string
	closed    bool
	streams   []*Stream
}

// Ready returns ReadyErr.
func (g *Generator) Ready() error { return g.ReadyErr }

// StreamChat records req and returns a scripted stream.
func (g *Generator) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.FragmentStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	g.lastReq = req
	g.lastModel = g.Models.Select(req.HasMedia())

	if g.StartErr != nil {
		return nil, g.StartErr
	}

	s := &Stream{
		ctx:       ctx,
		fragments: append([]string(nil), g.Fragments...),
		err:       g.StreamErr,
		failAfter: g.FailAfter,
		model:     g.lastModel,
		usage:     g.Usage,
		gate:      g.Gate,
	}
	g.streams = append(g.streams, s)
	return s, nil
}

// Close marks the generator closed.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// Calls returns how many times StreamChat was called.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastRequest returns the most recent request passed to StreamChat.
func (g *Generator) LastRequest() llm.ChatRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

// LastModel returns the model chosen for the most recent request.
func (g *Generator) LastModel() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastModel
}

// Closed reports whether Close was called.
func (g *Generator) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Streams returns every stream handed out so far.
func (g *Generator) Streams() []*Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Stream(nil), g.streams...)
}

// Stream is the llm.FragmentStream returned by Generator.
type Stream struct {
	ctx       context.Context
	fragments []string
	err       error
	failAfter int
	model     string
	usage     llm.Usage
	gate      chan struct{}

	mu     sync.Mutex
	pos    int
	closed bool
}

// Next yields the next scripted fragment, the scripted error, or io.EOF.
func (s *Stream) Next() (string, error) {
	s.mu.Lock()
	pos, closed := s.pos, s.closed
	s.mu.Unlock()

	if closed {
		return "", io.EOF
	}
	if s.err != nil && pos >= s.failAfter {
		return "", s.err
	}
	if pos >= len(s.fragments) {
		return "", io.EOF
	}
	if pos > 0 && s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos++
	return s.fragments[pos], nil
}

// Model returns the model chosen for this stream.
func (s *Stream) Model() string { return s.model }

// Usage returns the scripted usage.
func (s *Stream) Usage() llm.Usage { return s.usage }

// Close marks the stream closed.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var (
	_ llm.Generator      = (*Generator)(nil)
	_ llm.FragmentStream = (*Stream)(nil)
)
