// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrMissingCredential is the cause of the configuration error returned
// when no provider API key can be found.
var ErrMissingCredential = errors.New("GOOGLE_API_KEY environment variable not set")

const msgMissingCredential = "The GOOGLE_API_KEY environment variable is not configured on the server."

// Credential sources reported by ResolveAPIKey.
const (
	SourceEnv        = "env"
	SourceSecretFile = "secret_file"
	SourceSSM        = "ssm"
)

// DefaultSecretFile is where container runtimes mount the API key secret.
const DefaultSecretFile = "/run/secrets/google_api_key"

// ParameterStore reads a named secret.
type ParameterStore interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// CredentialSource lists where the API key may come from, in order.
type CredentialSource struct {
	// APIKey is the value of GOOGLE_API_KEY (or the config file).
	APIKey string

	// SecretFile is read when APIKey is empty. A missing file is skipped.
	SecretFile string

	// SSMParameter names an AWS SSM parameter read when the other two are empty.
	SSMParameter string

	// Store overrides the SSM client built from the default AWS config.
	Store ParameterStore
}

// ResolveAPIKey returns the first non-empty key from src and the name of
// the source it came from. The key itself must never be logged.
func ResolveAPIKey(ctx context.Context, src CredentialSource) (string, string, error) {
	if key := strings.TrimSpace(src.APIKey); key != "" {
		return key, SourceEnv, nil
	}

	if src.SecretFile != "" {
		data, err := os.ReadFile(src.SecretFile)
		switch {
		case err == nil:
			if key := strings.TrimSpace(string(data)); key != "" {
				slog.Info("Read the Google API key from the secret file", "path", src.SecretFile)
				return key, SourceSecretFile, nil
			}
		case !errors.Is(err, fs.ErrNotExist):
			slog.Warn("Could not read API key secret file", "path", src.SecretFile, "error", err)
		}
	}

	if name := strings.TrimSpace(src.SSMParameter); name != "" {
		store := src.Store
		if store == nil {
			s, err := NewSSMParameterStoreFromDefaultConfig(ctx)
			if err != nil {
				return "", "", apperrors.Configuration("failed to load AWS configuration", err)
			}
			store = s
		}
		key, err := store.GetParameter(ctx, name)
		if err != nil {
			return "", "", apperrors.Configuration("failed to read API key from SSM", err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, SourceSSM, nil
		}
	}

	return "", "", apperrors.Configuration(msgMissingCredential, ErrMissingCredential)
}

// =============================================================================
// SSM Parameter Store
// =============================================================================

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMParameterStore reads SecureString parameters from AWS SSM.
type SSMParameterStore struct {
	api ssmAPI
}

// NewSSMParameterStore wraps an SSM API client.
func NewSSMParameterStore(api ssmAPI) (*SSMParameterStore, error) {
	if api == nil {
		return nil, errors.New("ssm: api must not be nil")
	}
	return &SSMParameterStore{api: api}, nil
}

// NewSSMParameterStoreFromDefaultConfig builds an SSM client from the
// standard AWS environment (region, profile, instance role).
func NewSSMParameterStoreFromDefaultConfig(ctx context.Context) (*SSMParameterStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("ssm: load aws config: %w", err)
	}
	return NewSSMParameterStore(ssm.NewFromConfig(cfg))
}

// GetParameter returns the decrypted value of name.
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("ssm: parameter name is required")
	}

	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("ssm: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}
