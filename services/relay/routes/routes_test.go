// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRelay/services/llm/llmtest"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &llmtest.Generator{}, Options{EnableMetrics: true})

	expected := []struct {
		method string
		path   string
	}{
		{"POST", GenerateTextPath},
		{"GET", "/health"},
		{"GET", "/metrics"},
	}
	for _, e := range expected {
		assert.True(t, hasRoute(router, e.method, e.path), "route %s %s should be registered", e.method, e.path)
	}
}

func TestSetupRoutes_MetricsCanBeDisabled(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &llmtest.Generator{}, Options{EnableMetrics: false})

	assert.False(t, hasRoute(router, "GET", "/metrics"))
}

func TestSetupRoutes_GenerateTextEndToEnd(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &llmtest.Generator{Fragments: []string{"ok"}}, Options{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, GenerateTextPath, strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestSetupRoutes_RateLimitAppliesToGenerateOnly(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &llmtest.Generator{Fragments: []string{"ok"}}, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})

	post := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, GenerateTextPath, strings.NewReader(`{"prompt":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_ServesStaticClient(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>chat</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	router := gin.New()
	SetupRoutes(router, &llmtest.Generator{}, Options{StaticDir: dir})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>chat</h1>")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing.css", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetupRoutes_UnknownPostIsNotFound(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, &llmtest.Generator{}, Options{StaticDir: t.TempDir()})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/other", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}
