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
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/observability"
)

// FailureSummary is the "error" value of every pre-stream failure body.
const FailureSummary = "Falha na requisição"

// ErrorResponse is the body of a failure answered before streaming began.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// ValidationErrorResponse lists every rejected field.
type ValidationErrorResponse struct {
	Errors datatypes.ValidationErrors `json:"errors"`
}

// respondError answers a failure that happened before any body byte was
// sent. It returns the status written.
//
// # Description
//
// Field violations produce 400 with {"errors": [...]}. Other failures
// produce {"error": FailureSummary, "details": ...} with the status of
// their kind. If the stream has already begun, the connection is
// aborted instead; a JSON body is never appended to partial text.
func respondError(c *gin.Context, err error) int {
	if c.Writer.Written() {
		abortConnection()
	}

	var violations datatypes.ValidationErrors
	if errors.As(err, &violations) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ValidationErrorResponse{Errors: violations})
		return http.StatusBadRequest
	}

	status := apperrors.HTTPStatus(apperrors.KindOf(err))
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   FailureSummary,
		Details: apperrors.Details(err),
	})
	return status
}

// abortConnection terminates the response abnormally. net/http closes the
// connection without the terminating chunk, so the client observes a
// truncated body rather than a complete one.
func abortConnection() {
	panic(http.ErrAbortHandler)
}

// classifyStreamError gives an unclassified adapter error a kind.
//
// A cancelled client context wins over everything else: the client left
// and nothing more should be written.
func classifyStreamError(clientCtx context.Context, err error) error {
	if clientCtx.Err() != nil {
		if apperrors.Is(err, apperrors.KindStreamTransport) {
			return err
		}
		return apperrors.StreamTransport("client disconnected", err)
	}
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Provider("the model request timed out", err)
	}
	return apperrors.Provider("the model stream failed", err)
}

// errorCode maps a failure to its metrics label.
func errorCode(err error) observability.ErrorCode {
	var violations datatypes.ValidationErrors
	if errors.As(err, &violations) {
		return observability.ErrorCodeValidation
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return observability.ErrorCodeValidation
	case apperrors.KindConfiguration:
		return observability.ErrorCodeConfiguration
	case apperrors.KindStreamTransport:
		return observability.ErrorCodeClientDisconnect
	case apperrors.KindProvider:
		if errors.Is(err, context.DeadlineExceeded) {
			return observability.ErrorCodeTimeout
		}
		return observability.ErrorCodeProvider
	}
	return observability.ErrorCodeInternal
}
