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
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/relay/observability"
)

func TestAttachmentMimeType(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		data     []byte
		want     string
	}{
		{"declared kept", "image/webp", []byte("x"), "image/webp"},
		{"parameters stripped", "image/jpeg; q=1", []byte("x"), "image/jpeg"},
		{"octet-stream sniffed", "application/octet-stream", pngBytes, "image/png"},
		{"missing sniffed", "", pngBytes, "image/png"},
		{"unparseable sniffed", ";;", []byte("plain words"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attachmentMimeType(tt.declared, tt.data))
		})
	}
}

func TestBodyViolation(t *testing.T) {
	tooLarge := bodyViolation(&http.MaxBytesError{Limit: 10})
	assert.Equal(t, datatypes.MsgBodyTooLarge, tooLarge[0].Message)

	other := bodyViolation(errors.New("bad boundary"))
	assert.Equal(t, datatypes.MsgBodyUnparseable, other[0].Message)
}

func TestJSONTypeViolation(t *testing.T) {
	fe, ok := jsonTypeViolation(&json.UnmarshalTypeError{Field: "prompt"})
	assert.True(t, ok)
	assert.Equal(t, datatypes.MsgPromptNotString, fe.Message)

	_, ok = jsonTypeViolation(&json.UnmarshalTypeError{Field: "other"})
	assert.False(t, ok)

	_, ok = jsonTypeViolation(errors.New("syntax"))
	assert.False(t, ok)
}

func TestMergeViolations_OnePerField(t *testing.T) {
	base := datatypes.ValidationErrors{{Field: "prompt", Message: "a"}}
	extra := datatypes.ValidationErrors{{Field: "prompt", Message: "b"}, {Field: "history", Message: "c"}}

	merged := mergeViolations(base, extra)

	assert.Equal(t, []string{"prompt", "history"}, merged.Fields())
	assert.Equal(t, "a", merged[0].Message)
}

func TestClassifyStreamError(t *testing.T) {
	live := context.Background()
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, apperrors.Is(classifyStreamError(gone, errors.New("x")), apperrors.KindStreamTransport))
	assert.True(t, apperrors.Is(classifyStreamError(live, context.DeadlineExceeded), apperrors.KindProvider))
	assert.True(t, apperrors.Is(classifyStreamError(live, errors.New("x")), apperrors.KindProvider))

	configErr := apperrors.Configuration("bad key", nil)
	assert.Same(t, configErr, classifyStreamError(live, configErr))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, observability.ErrorCodeValidation, errorCode(datatypes.ValidationErrors{{Field: "prompt"}}))
	assert.Equal(t, observability.ErrorCodeConfiguration, errorCode(apperrors.Configuration("x", nil)))
	assert.Equal(t, observability.ErrorCodeTimeout, errorCode(apperrors.Provider("x", context.DeadlineExceeded)))
	assert.Equal(t, observability.ErrorCodeProvider, errorCode(apperrors.Provider("x", nil)))
	assert.Equal(t, observability.ErrorCodeClientDisconnect, errorCode(apperrors.StreamTransport("x", nil)))
	assert.Equal(t, observability.ErrorCodeInternal, errorCode(errors.New("x")))
}
