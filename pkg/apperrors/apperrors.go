// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apperrors defines the failure taxonomy shared by the relay pipeline.
//
// # Description
//
// Every failure that crosses a package boundary in the relay is classified
// into one of four kinds. The kind, not the message, decides how the error
// responder reacts:
//
//   - Validation: the client sent malformed input (400).
//   - Configuration: the server credential is missing or rejected (500).
//   - Provider: the generation provider failed (500).
//   - StreamTransport: the client went away mid-relay (logged, never surfaced).
//
// Errors are wrapped with %w so errors.Is and errors.As keep working on the
// underlying cause.
package apperrors

import (
	"errors"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = iota

	// KindValidation indicates malformed client input.
	KindValidation

	// KindConfiguration indicates a missing or invalid server credential.
	KindConfiguration

	// KindProvider indicates an upstream generation failure (auth, quota,
	// malformed upstream request, timeout).
	KindProvider

	// KindStreamTransport indicates the client disconnected mid-relay.
	KindStreamTransport
)

// String returns the metric-friendly name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindProvider:
		return "provider"
	case KindStreamTransport:
		return "stream_transport"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
//
// # Fields
//
//   - Kind: Classification used by the error responder.
//   - Message: Client-safe summary. Never contains credentials.
//   - Err: Underlying cause, may be nil.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String() + " error"
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Validation wraps err as a client input failure.
func Validation(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

// Configuration wraps err as a server configuration failure.
func Configuration(message string, err error) *Error {
	return &Error{Kind: KindConfiguration, Message: message, Err: err}
}

// Provider wraps err as an upstream generation failure.
func Provider(message string, err error) *Error {
	return &Error{Kind: KindProvider, Message: message, Err: err}
}

// StreamTransport wraps err as a client disconnect.
func StreamTransport(message string, err error) *Error {
	return &Error{Kind: KindStreamTransport, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindUnknown when none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status used for pre-stream responses.
// Unknown failures are treated as internal errors.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindStreamTransport:
		// The client is gone; the status is only used for logs.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Details returns the client-facing message of err. For classified errors
// this is the Message followed by the cause; unclassified errors report
// a generic message.
func Details(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "An internal server error occurred."
}
