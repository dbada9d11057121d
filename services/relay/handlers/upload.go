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
	"encoding/json"
	"errors"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// imageField is the only multipart file field accepted.
const imageField = "image"

// =============================================================================
// Request Reading
// =============================================================================

// readGenerateRequest parses and validates the inbound body.
//
// # Description
//
// Accepts multipart/form-data (optionally carrying one "image" file),
// application/x-www-form-urlencoded, and application/json. The body is
// capped at limits.MaxBodyBytes and parsed entirely in memory. Every
// violation found is returned together as datatypes.ValidationErrors.
//
// # Outputs
//
//   - datatypes.GenerationRequest: Ready for the provider. RequestID is unset.
//   - error: datatypes.ValidationErrors for client mistakes.
func readGenerateRequest(c *gin.Context, limits GenerateTextOptions) (datatypes.GenerationRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limits.MaxBodyBytes)

	var (
		form       datatypes.GenerateTextForm
		image      *datatypes.Attachment
		violations datatypes.ValidationErrors
	)

	if c.ContentType() == binding.MIMEMultipartPOSTForm {
		// maxMemory equal to the body cap keeps every part off disk.
		if err := c.Request.ParseMultipartForm(limits.MaxBodyBytes); err != nil {
			return datatypes.GenerationRequest{}, bodyViolation(err)
		}
		defer func() { _ = c.Request.MultipartForm.RemoveAll() }()

		image, violations = extractImage(c.Request.MultipartForm, limits.MaxImageBytes)
		if err := c.ShouldBindWith(&form, binding.FormMultipart); err != nil {
			return datatypes.GenerationRequest{}, bodyViolation(err)
		}
	} else if err := c.ShouldBind(&form); err != nil && !errors.Is(err, io.EOF) {
		typeErr, ok := jsonTypeViolation(err)
		if !ok {
			return datatypes.GenerationRequest{}, bodyViolation(err)
		}
		violations = append(violations, typeErr)
	}

	form.Normalize()
	history, err := form.Validate(limits.MaxHistoryTurns)
	if err != nil {
		var formViolations datatypes.ValidationErrors
		if !errors.As(err, &formViolations) {
			return datatypes.GenerationRequest{}, err
		}
		violations = mergeViolations(violations, formViolations)
	}
	if len(violations) > 0 {
		return datatypes.GenerationRequest{}, violations
	}

	return datatypes.GenerationRequest{
		Prompt:      form.PromptValue(),
		History:     history,
		Personality: form.PersonalityValue(),
		Image:       image,
	}, nil
}

// extractImage pulls the optional attachment out of a parsed multipart form.
//
// # Description
//
// Files on any field other than "image", more than one image, an image
// above maxBytes, and an empty image are all violations. A missing or
// generic Content-Type is replaced by the sniffed type of the bytes.
func extractImage(form *multipart.Form, maxBytes int64) (*datatypes.Attachment, datatypes.ValidationErrors) {
	var violations datatypes.ValidationErrors

	for _, field := range slices.Sorted(maps.Keys(form.File)) {
		if field != imageField {
			violations = append(violations, datatypes.FieldError{
				Field:   field,
				Rule:    "unexpected",
				Message: datatypes.MsgImageUnexpected,
			})
		}
	}

	files := form.File[imageField]
	switch {
	case len(files) == 0:
		return nil, violations
	case len(files) > 1:
		return nil, append(violations, datatypes.FieldError{
			Field: imageField, Rule: "max", Message: datatypes.MsgImageTooMany,
		})
	}

	header := files[0]
	if header.Size > maxBytes {
		return nil, append(violations, datatypes.FieldError{
			Field: imageField, Rule: "size", Message: datatypes.MsgImageTooLarge,
		})
	}

	data, err := readFileHeader(header, maxBytes)
	if err != nil || len(data) == 0 {
		return nil, append(violations, datatypes.FieldError{
			Field: imageField, Rule: "readable", Message: datatypes.MsgImageUnreadable,
		})
	}

	return &datatypes.Attachment{
		Filename: header.Filename,
		MimeType: attachmentMimeType(header.Header.Get("Content-Type"), data),
		Data:     data,
	}, violations
}

func readFileHeader(header *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.New("attachment exceeds limit")
	}
	return data, nil
}

// attachmentMimeType returns the declared media type without parameters,
// falling back to content sniffing.
func attachmentMimeType(declared string, data []byte) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	sniffed, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return strings.TrimSpace(sniffed)
}

// =============================================================================
// Violation Helpers
// =============================================================================

// bodyViolation classifies a parse failure of the whole body.
func bodyViolation(err error) datatypes.ValidationErrors {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
		return datatypes.ValidationErrors{{Field: "body", Rule: "max", Message: datatypes.MsgBodyTooLarge}}
	}
	return datatypes.ValidationErrors{{Field: "body", Rule: "parse", Message: datatypes.MsgBodyUnparseable}}
}

// jsonTypeViolation maps a JSON field of the wrong type to its rule. The
// decoder still fills the other fields, so validation can continue.
func jsonTypeViolation(err error) (datatypes.FieldError, bool) {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) {
		return datatypes.FieldError{}, false
	}
	switch typeErr.Field {
	case "prompt":
		return datatypes.FieldError{Field: "prompt", Rule: "string", Message: datatypes.MsgPromptNotString}, true
	case "history":
		return datatypes.FieldError{Field: "history", Rule: "json", Message: datatypes.MsgHistoryNotJSON}, true
	case "personality":
		return datatypes.FieldError{Field: "personality", Rule: "personality", Message: datatypes.MsgPersonality}, true
	}
	return datatypes.FieldError{}, false
}

// mergeViolations appends extra to base, keeping one entry per field.
func mergeViolations(base, extra datatypes.ValidationErrors) datatypes.ValidationErrors {
	seen := make(map[string]struct{}, len(base))
	for _, fe := range base {
		seen[fe.Field] = struct{}{}
	}
	for _, fe := range extra {
		if _, dup := seen[fe.Field]; dup {
			continue
		}
		seen[fe.Field] = struct{}{}
		base = append(base, fe)
	}
	return base
}
