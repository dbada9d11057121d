// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/services/llm"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Model       string `json:"model,omitempty"`
	VisionModel string `json:"visionModel,omitempty"`
	Details     string `json:"details,omitempty"`
}

// HandleHealth reports whether the provider adapter can serve requests.
// It never calls the provider.
func HandleHealth(generator llm.Generator, models llm.ModelPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := generator.Ready(); err != nil {
			c.JSON(http.StatusServiceUnavailable, HealthResponse{
				Status:  "unavailable",
				Details: apperrors.Details(err),
			})
			return
		}
		c.JSON(http.StatusOK, HealthResponse{
			Status:      "ok",
			Model:       models.Select(false),
			VisionModel: models.Select(true),
		})
	}
}
