// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the text relay.
//
// # Description
//
// Prometheus metrics for streaming generation requests:
//   - Request counters (by endpoint and status)
//   - Fragment and token counters
//   - Latency histograms (time to first fragment, total duration)
//   - Active stream gauge
//   - Error and client disconnect counters
//
// Metrics are exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace   = "relay"
	streamingSubsystem = "streaming"
)

// StreamingMetrics holds the Prometheus collectors for streaming generation.
//
// # Fields
//
//   - RequestsTotal: requests by endpoint and status
//   - FragmentsTotal: fragments relayed by endpoint
//   - TokensTotal: provider-reported tokens by direction and model
//   - TimeToFirstFragmentSeconds: latency until the first fragment
//   - StreamDurationSeconds: total request duration by status
//   - ActiveStreams: in-flight streams
//   - ErrorsTotal: errors by endpoint and code
//   - ClientDisconnectsTotal: clients that left mid-stream
type StreamingMetrics struct {
	RequestsTotal              *prometheus.CounterVec
	FragmentsTotal             *prometheus.CounterVec
	TokensTotal                *prometheus.CounterVec
	TimeToFirstFragmentSeconds *prometheus.HistogramVec
	StreamDurationSeconds      *prometheus.HistogramVec
	ActiveStreams              *prometheus.GaugeVec
	ErrorsTotal                *prometheus.CounterVec
	ClientDisconnectsTotal     *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance, set by InitMetrics.
// Handlers skip recording while it is nil.
var DefaultMetrics *StreamingMetrics

var initOnce sync.Once

// InitMetrics registers the metrics with the default Prometheus registry
// and stores them in DefaultMetrics. Later calls return the same instance.
func InitMetrics() *StreamingMetrics {
	initOnce.Do(func() {
		DefaultMetrics = NewStreamingMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewStreamingMetrics creates the metrics and registers them with reg.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	m := observability.NewStreamingMetrics(reg)
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	factory := promauto.With(reg)

	return &StreamingMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total number of generation requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		FragmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "fragments_total",
				Help:      "Total text fragments relayed to clients",
			},
			[]string{"endpoint"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "tokens_total",
				Help:      "Total provider tokens by direction and model",
			},
			[]string{"direction", "model"},
		),

		TimeToFirstFragmentSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_fragment_seconds",
				Help:      "Time from request to first relayed fragment in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total request duration in seconds",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of in-flight generation streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by endpoint and code",
			},
			[]string{"endpoint", "error_code"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode is the error_code label value.
type ErrorCode string

const (
	ErrorCodeValidation       ErrorCode = "validation"
	ErrorCodeConfiguration    ErrorCode = "configuration"
	ErrorCodeProvider         ErrorCode = "provider"
	ErrorCodeTimeout          ErrorCode = "timeout"
	ErrorCodeMidStream        ErrorCode = "mid_stream"
	ErrorCodeInternal         ErrorCode = "internal"
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
	ErrorCodeRateLimited      ErrorCode = "rate_limited"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint is the endpoint label value.
type Endpoint string

const (
	// EndpointGenerateText is POST /api/gerar-texto.
	EndpointGenerateText Endpoint = "generate_text"
)

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordRequest records a completed request.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records an error.
func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordFragments adds n relayed fragments.
func (m *StreamingMetrics) RecordFragments(endpoint Endpoint, n int) {
	if n > 0 {
		m.FragmentsTotal.WithLabelValues(string(endpoint)).Add(float64(n))
	}
}

// RecordTokens records provider token usage. Zero counts are skipped.
func (m *StreamingMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
	}
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstFragment records first-fragment latency.
func (m *StreamingMetrics) RecordTimeToFirstFragment(endpoint Endpoint, seconds float64) {
	m.TimeToFirstFragmentSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total duration.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
