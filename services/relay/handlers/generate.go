// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// =============================================================================
// TEXT GENERATION RELAY
// =============================================================================
//
// POST /api/gerar-texto accepts a prompt, an optional JSON-encoded
// history, an optional personality, and an optional image. The reply is
// streamed back as raw text/plain fragments in provider order.
//
// # Failure Semantics
//
//	| When                         | Client sees                                 |
//	|------------------------------|---------------------------------------------|
//	| Invalid input                | 400 {"errors":[{field,rule,message}]}       |
//	| Failure before first byte    | 500 {"error":"Falha na requisição",details} |
//	| Failure after first byte     | 200, truncated body, connection closed      |
//	| Client disconnects           | nothing; provider call is cancelled         |
//
// The status line is committed only when the first fragment arrives, so
// every failure up to that point can still be reported as JSON.
//
// =============================================================================

package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/middleware"
	"github.com/AleutianAI/AleutianRelay/services/relay/observability"
)

// =============================================================================
// Interface Definition
// =============================================================================

// GenerateTextHandler serves the streaming text generation endpoint.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one handler serves
// every request.
type GenerateTextHandler interface {
	// HandleGenerateText handles POST /api/gerar-texto.
	//
	// # Description
	//
	// Reads and validates the body, seeds the conversation with the
	// personality preset, opens a provider stream, and relays each
	// fragment to the client as soon as it arrives.
	//
	// # Outputs
	//
	// Writes directly to the response:
	//   - 200 text/plain, chunked: fragments concatenated in order
	//   - 400 application/json: field violations
	//   - 500 application/json: configuration or provider failure
	HandleGenerateText(c *gin.Context)
}

// =============================================================================
// Options
// =============================================================================

// GenerateTextOptions bounds the work done per request.
type GenerateTextOptions struct {
	// RequestTimeout caps the whole provider call, including streaming.
	RequestTimeout time.Duration

	// MaxBodyBytes caps the raw request body.
	MaxBodyBytes int64

	// MaxImageBytes caps the single attachment.
	MaxImageBytes int64

	// MaxHistoryTurns caps the client-supplied history.
	MaxHistoryTurns int
}

// DefaultGenerateTextOptions returns the production defaults.
func DefaultGenerateTextOptions() GenerateTextOptions {
	return GenerateTextOptions{
		RequestTimeout:  2 * time.Minute,
		MaxBodyBytes:    32 << 20,
		MaxImageBytes:   datatypes.DefaultMaxImageBytes,
		MaxHistoryTurns: datatypes.DefaultMaxHistoryTurns,
	}
}

// withDefaults fills unset fields from DefaultGenerateTextOptions.
func (o GenerateTextOptions) withDefaults() GenerateTextOptions {
	d := DefaultGenerateTextOptions()
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = d.MaxImageBytes
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = d.MaxBodyBytes
	}
	if o.MaxBodyBytes < o.MaxImageBytes {
		o.MaxBodyBytes = o.MaxImageBytes + (1 << 20)
	}
	if o.MaxHistoryTurns <= 0 {
		o.MaxHistoryTurns = d.MaxHistoryTurns
	}
	return o
}

// =============================================================================
// Struct Definition
// =============================================================================

// generateTextHandler implements GenerateTextHandler.
type generateTextHandler struct {
	generator llm.Generator
	opts      GenerateTextOptions
	tracer    trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewGenerateTextHandler creates a GenerateTextHandler.
//
// # Inputs
//
//   - generator: Provider adapter. Must not be nil.
//   - opts: Per-request bounds. Zero fields take their defaults.
//
// # Examples
//
//	handler := handlers.NewGenerateTextHandler(gemini, handlers.DefaultGenerateTextOptions())
//	router.POST("/api/gerar-texto", handler.HandleGenerateText)
//
// # Limitations
//
//   - Panics on nil generator
func NewGenerateTextHandler(generator llm.Generator, opts GenerateTextOptions) GenerateTextHandler {
	if generator == nil {
		panic("NewGenerateTextHandler: generator must not be nil")
	}
	return &generateTextHandler{
		generator: generator,
		opts:      opts.withDefaults(),
		tracer:    otel.Tracer("aleutian.relay.handlers.generate"),
	}
}

// =============================================================================
// Handler
// =============================================================================

func (h *generateTextHandler) HandleGenerateText(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointGenerateText

	requestID := middleware.GetRequestID(c)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleGenerateText")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
		}
	}()

	// Step 1: Parse and validate the body
	req, err := readGenerateRequest(c, h.opts)
	if err != nil {
		h.fail(c, span, requestID, "request validation failed", err)
		return
	}
	req.RequestID = requestID

	span.SetAttributes(
		attribute.String("request.personality", string(req.Personality)),
		attribute.Int("request.history_turns", len(req.History)),
		attribute.Bool("request.has_image", req.Image != nil),
	)

	// Step 2: Refuse early when the adapter cannot serve
	if err := h.generator.Ready(); err != nil {
		h.fail(c, span, requestID, "provider not ready", err)
		return
	}

	// Step 3: Open the provider stream
	callCtx, cancel := context.WithTimeout(ctx, h.opts.RequestTimeout)
	defer cancel()

	stream, err := h.generator.StreamChat(callCtx, llm.ChatRequest{
		History: req.SeededHistory(),
		Parts:   req.Parts(),
	})
	if err != nil {
		h.fail(c, span, requestID, "provider call failed", classifyStreamError(c.Request.Context(), err))
		return
	}
	defer stream.Close()
	span.SetAttributes(attribute.String("llm.model", stream.Model()))

	writer, err := NewTextStreamWriter(c.Writer)
	if err != nil {
		h.fail(c, span, requestID, "response writer unsupported", err)
		return
	}

	// Step 4: Relay fragments
	err = h.relay(c.Request.Context(), stream, writer, startTime)
	fragments := writer.Fragments()
	span.SetAttributes(attribute.Int("response.fragments", fragments))
	if m := observability.DefaultMetrics; m != nil {
		m.RecordFragments(endpoint, fragments)
	}

	switch {
	case err == nil:
		success = true
		usage := stream.Usage()
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTokens(usage.InputTokens, usage.OutputTokens, stream.Model())
		}
		slog.Info("Generation completed",
			"requestId", requestID,
			"model", stream.Model(),
			"fragments", fragments,
			"inputTokens", usage.InputTokens,
			"outputTokens", usage.OutputTokens,
			"durationMs", time.Since(startTime).Milliseconds(),
		)

	case apperrors.Is(err, apperrors.KindStreamTransport):
		span.AddEvent("client_disconnected")
		slog.Warn("Client disconnected during generation",
			"requestId", requestID,
			"fragments", fragments,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect(endpoint)
		}

	case !writer.Started():
		h.fail(c, span, requestID, "generation failed before first fragment", err)

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed mid-stream")
		slog.Error("Generation failed mid-stream, aborting response",
			"requestId", requestID,
			"model", stream.Model(),
			"fragments", fragments,
			"error", err,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeMidStream)
		}
		abortConnection()
	}
}

// relay pulls fragments until the stream ends and writes each one.
//
// # Outputs
//
//   - error: nil when the stream completed. Failures are classified;
//     write failures are KindStreamTransport.
func (h *generateTextHandler) relay(
	clientCtx context.Context,
	stream llm.FragmentStream,
	writer TextStreamWriter,
	startTime time.Time,
) error {
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			writer.Start()
			return nil
		}
		if err != nil {
			return classifyStreamError(clientCtx, err)
		}
		if fragment == "" {
			continue
		}

		if writer.Fragments() == 0 {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstFragment(observability.EndpointGenerateText, time.Since(startTime).Seconds())
			}
		}
		if err := writer.WriteFragment(fragment); err != nil {
			return apperrors.StreamTransport("writing to the client failed", err)
		}
	}
}

// fail records a pre-stream failure and answers it.
func (h *generateTextHandler) fail(c *gin.Context, span trace.Span, requestID, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)

	code := errorCode(err)
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(observability.EndpointGenerateText, code)
	}

	if code == observability.ErrorCodeValidation {
		slog.Warn("Rejected generation request",
			"requestId", requestID,
			"reason", reason,
			"error", err,
		)
	} else {
		slog.Error("Generation request failed",
			"requestId", requestID,
			"reason", reason,
			"errorCode", code,
			"error", err,
		)
	}

	respondError(c, err)
}

// Compile-time interface check.
var _ GenerateTextHandler = (*generateTextHandler)(nil)
