// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the relay service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	Recovery ──► RequestID ──► RequestLogger ──► otelgin ──► RateLimit (/api only)
//	                                                            │
//	                                                            ▼
//	                                                         Handler
//
// RequestID assigns every request an identifier, reusing the client's
// X-Request-ID header when it is well formed. Handlers retrieve it with
// GetRequestID for log and span correlation.
package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Context Keys
// =============================================================================

// requestIDKey is the gin context key for the request identifier.
const requestIDKey = "relay_request_id"

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// acceptedRequestID bounds client-supplied identifiers to a safe charset.
var acceptedRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// =============================================================================
// Context Helpers
// =============================================================================

// SetRequestID stores id in the gin context.
func SetRequestID(c *gin.Context, id string) {
	c.Set(requestIDKey, id)
}

// GetRequestID returns the identifier stored by RequestID.
//
// # Description
//
// Returns the empty string when the middleware did not run, which lets
// handlers be mounted in tests without the full chain.
//
// # Examples
//
//	func (h *handler) HandleRequest(c *gin.Context) {
//	    slog.Info("handling", "requestId", middleware.GetRequestID(c))
//	}
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(requestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// Middleware
// =============================================================================

// RequestID assigns a request identifier and echoes it in X-Request-ID.
//
// # Description
//
// A client-supplied X-Request-ID is kept when it matches
// [A-Za-z0-9._:-]{1,128}; otherwise a UUID v4 is generated.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for router.Use.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !acceptedRequestID.MatchString(id) {
			id = uuid.New().String()
		}
		SetRequestID(c, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
