// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/handlers"
	"github.com/AleutianAI/AleutianRelay/services/relay/middleware"
	"github.com/AleutianAI/AleutianRelay/services/relay/observability"
)

// GenerateTextPath is the relay endpoint used by the browser client.
const GenerateTextPath = "/api/gerar-texto"

// Options configures the routes registered by SetupRoutes.
type Options struct {
	Models         llm.ModelPolicy
	Generate       handlers.GenerateTextOptions
	StaticDir      string
	EnableMetrics  bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// SetupRoutes registers every route of the relay on router.
//
//	POST /api/gerar-texto   streamed generation (rate limited)
//	GET  /health            adapter readiness
//	GET  /metrics           Prometheus exposition, when enabled
//	GET  /*                 static browser client from StaticDir
func SetupRoutes(router *gin.Engine, generator llm.Generator, opts Options) {
	router.GET("/health", handlers.HandleHealth(generator, opts.Models))

	if opts.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	generate := handlers.NewGenerateTextHandler(generator, opts.Generate)
	api := router.Group("/api")
	api.Use(middleware.RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, observability.EndpointGenerateText))
	{
		api.POST("/gerar-texto", generate.HandleGenerateText)
	}

	if opts.StaticDir != "" {
		files := http.FileServer(http.Dir(opts.StaticDir))
		router.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}
}
