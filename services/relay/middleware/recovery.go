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
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// Recovery converts handler panics into a 500 JSON response.
//
// # Description
//
// A panic with http.ErrAbortHandler is re-raised so net/http drops the
// connection without logging; handlers use it to cut off a reply that
// already started streaming. Any other panic is logged with its stack.
// If the response has already been written the connection is aborted
// the same way instead of appending JSON to a partial body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			slog.Error("Handler panicked",
				"requestId", GetRequestID(c),
				"path", c.Request.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			if c.Writer.Written() {
				panic(http.ErrAbortHandler)
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "Falha na requisição",
				"details": "An internal server error occurred.",
			})
		}()
		c.Next()
	}
}

// RequestLogger logs one line per request, skipping the given paths.
//
// The line is written from a defer so that replies aborted mid-stream
// with http.ErrAbortHandler are logged too; the panic is re-raised for
// Recovery and net/http.
func RequestLogger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			rec := recover()
			if _, ok := skip[c.Request.URL.Path]; !ok {
				status := c.Writer.Status()
				// Recovery answers an unwritten panic with 500.
				if rec != nil && !c.Writer.Written() {
					status = http.StatusInternalServerError
				}
				slog.Info("Request handled",
					"requestId", GetRequestID(c),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"status", status,
					"bytes", c.Writer.Size(),
					"durationMs", time.Since(start).Milliseconds(),
					"clientIp", c.ClientIP(),
					"aborted", rec != nil,
				)
			}
			if rec != nil {
				panic(rec)
			}
		}()
		c.Next()
	}
}
