// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GeminiConfig configures NewGeminiGenerator.
type GeminiConfig struct {
	APIKey string
	Models ModelPolicy

	// ClientOptions are appended after the API key, e.g. a custom
	// endpoint and HTTP client for a local server in tests.
	ClientOptions []option.ClientOption
}

// GeminiGenerator streams chat replies from the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	models ModelPolicy

	mu     sync.RWMutex
	closed bool
}

// NewGeminiGenerator opens the process-wide Gemini client.
// A blank API key fails with a configuration error before any request is served.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.Configuration(msgMissingCredential, ErrMissingCredential)
	}

	opts := append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, cfg.ClientOptions...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperrors.Configuration("failed to create Gemini client", err)
	}

	slog.Info("Initializing Gemini client",
		"model", cfg.Models.Select(false),
		"vision_model", cfg.Models.Select(true),
	)

	return &GeminiGenerator{client: client, models: cfg.Models}, nil
}

// Ready reports whether the client is open.
func (g *GeminiGenerator) Ready() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil || g.closed {
		return apperrors.Configuration("Gemini client is not initialized", nil)
	}
	return nil
}

// StreamChat starts a chat session seeded with req.History and sends
// req.Parts as the new user turn. Provider failures are never returned
// here; they surface from the first Next, before any fragment has been
// written, so the caller can still answer with an error body.
func (g *GeminiGenerator) StreamChat(ctx context.Context, req ChatRequest) (FragmentStream, error) {
	if err := g.Ready(); err != nil {
		return nil, err
	}

	history, err := toGenaiHistory(req.History)
	if err != nil {
		return nil, apperrors.Validation("history contains invalid content", err)
	}
	parts, err := toGenaiParts(req.Parts)
	if err != nil {
		return nil, apperrors.Validation("message contains invalid content", err)
	}

	name := g.models.Select(req.HasMedia())
	cs := g.client.GenerativeModel(name).StartChat()
	cs.History = history

	streamCtx, cancel := context.WithCancel(ctx)
	return &geminiStream{
		ctx:    streamCtx,
		cancel: cancel,
		iter:   cs.SendMessageStream(streamCtx, parts...),
		model:  name,
	}, nil
}

// Close shuts the client down. Later calls to Ready fail.
func (g *GeminiGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.client == nil {
		return nil
	}
	g.closed = true
	return g.client.Close()
}

// =============================================================================
// Stream
// =============================================================================

type geminiStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	iter   *genai.GenerateContentResponseIterator
	model  string
	usage  Usage
	err    error
}

func (s *geminiStream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	for {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.err = io.EOF
			return "", s.err
		}
		if err != nil {
			s.err = classifyError(s.ctx, err)
			return "", s.err
		}
		s.recordUsage(resp)
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Model() string { return s.model }

func (s *geminiStream) Usage() Usage { return s.usage }

func (s *geminiStream) Close() {
	s.cancel()
	if s.err == nil {
		s.err = io.EOF
	}
}

func (s *geminiStream) recordUsage(resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}
	// Totals are cumulative; the last chunk carries the final counts.
	s.usage = Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// =============================================================================
// Conversion
// =============================================================================

func toGenaiHistory(turns []datatypes.ChatTurn) ([]*genai.Content, error) {
	history := make([]*genai.Content, 0, len(turns))
	for i, turn := range turns {
		parts, err := toGenaiParts(turn.Parts)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		history = append(history, &genai.Content{Role: string(turn.Role), Parts: parts})
	}
	return history, nil
}

func toGenaiParts(parts []datatypes.ContentPart) ([]genai.Part, error) {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsMedia() {
			data, err := p.InlineData.Bytes()
			if err != nil {
				return nil, err
			}
			out = append(out, genai.Blob{MIMEType: p.InlineData.MimeType, Data: data})
			continue
		}
		out = append(out, genai.Text(p.Text))
	}
	return out, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// =============================================================================
// Error Classification
// =============================================================================

// classifyError maps an SDK error onto the relay taxonomy.
//
// Cancellation of ctx means the client went away; an expired deadline is
// a provider timeout; rejected credentials are configuration errors;
// everything else is a provider error.
func classifyError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return apperrors.StreamTransport("client disconnected", err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return apperrors.Provider("provider request timed out", err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return apperrors.Provider("response blocked by provider safety filters", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return apperrors.Configuration("provider rejected the API credential", err)
		case gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "API key"):
			return apperrors.Configuration("provider rejected the API credential", err)
		case gerr.Code == http.StatusTooManyRequests:
			return apperrors.Provider("provider quota exceeded", err)
		case gerr.Code == http.StatusBadRequest:
			return apperrors.Provider("provider rejected the request", err)
		}
		return apperrors.Provider("provider request failed", err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return apperrors.Configuration("provider rejected the API credential", err)
		case codes.ResourceExhausted:
			return apperrors.Provider("provider quota exceeded", err)
		case codes.InvalidArgument:
			return apperrors.Provider("provider rejected the request", err)
		}
	}

	return apperrors.Provider("provider request failed", err)
}

var (
	_ Generator      = (*GeminiGenerator)(nil)
	_ FragmentStream = (*geminiStream)(nil)
)
