// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRelay/services/relay/observability"
)

// RateLimit admits at most rps requests per second with the given burst,
// shared across all clients. Rejected requests get 429 with the standard
// error body. rps <= 0 disables limiting.
//
// # Inputs
//
//   - rps: Sustained requests per second.
//   - burst: Bucket size. Values < 1 are raised to 1.
//   - endpoint: Metrics label for rejections.
//
// # Limitations
//
//   - One process-wide bucket; there is no per-client fairness.
func RateLimit(rps float64, burst int, endpoint observability.Endpoint) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			slog.Warn("Rate limit exceeded",
				"requestId", GetRequestID(c),
				"path", c.Request.URL.Path,
			)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeRateLimited)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Falha na requisição",
				"details": "Too many requests, please retry shortly.",
			})
			return
		}
		c.Next()
	}
}
