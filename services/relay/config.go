// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relay

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRelay/pkg/apperrors"
	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Trace exporter names accepted by Config.TraceExporter.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// Config holds relay configuration.
//
// # Description
//
// Values are layered lowest to highest: applyConfigDefaults, the YAML
// file, then environment variables. The CLI applies flags on top.
// Zero values mean "use the default".
//
// # Examples
//
//	// Minimal config (uses all defaults, key from GOOGLE_API_KEY)
//	cfg, err := relay.LoadConfig("")
//
//	// Programmatic
//	cfg := relay.Config{Port: 8080, APIKey: key, Model: "gemini-1.5-pro"}
type Config struct {
	// Port is the HTTP listen port. Default: 3000
	Port int `yaml:"port" env:"PORT"`

	// APIKey is the provider credential. Never read from YAML.
	APIKey string `yaml:"-" env:"GOOGLE_API_KEY"`

	// APIKeyFile is read when APIKey is empty.
	// Default: "/run/secrets/google_api_key"
	APIKeyFile string `yaml:"api_key_file" env:"GOOGLE_API_KEY_FILE"`

	// APIKeySSMParameter names an AWS SSM parameter holding the key.
	APIKeySSMParameter string `yaml:"api_key_ssm_parameter" env:"GOOGLE_API_KEY_SSM_PARAMETER"`

	// Model is used for text-only turns. Default: "gemini-1.5-flash-latest"
	Model string `yaml:"model" env:"GEMINI_MODEL"`

	// VisionModel is used when an image is attached. Default: Model
	VisionModel string `yaml:"vision_model" env:"GEMINI_VISION_MODEL"`

	// StaticDir holds the browser client. Default: "public"
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`

	// RequestTimeout caps each provider call. Default: 2m
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	// MaxBodyBytes caps the raw request body. Default: 32 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	// MaxImageBytes caps the attachment. Default: 10 MiB
	MaxImageBytes int64 `yaml:"max_image_bytes" env:"MAX_IMAGE_BYTES"`

	// MaxHistoryTurns caps the client history. Default: 100
	MaxHistoryTurns int `yaml:"max_history_turns" env:"MAX_HISTORY_TURNS"`

	// RateLimitRPS enables the process-wide limiter when > 0.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`

	// RateLimitBurst is the limiter bucket size. Default: 10
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// TraceExporter is "none", "stdout", or "otlp". Default: "none"
	TraceExporter string `yaml:"trace_exporter" env:"TRACE_EXPORTER"`

	// OTelEndpoint is the OTLP gRPC collector. Default: "localhost:4317"
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// DisableMetrics turns off /metrics.
	DisableMetrics bool `yaml:"disable_metrics" env:"DISABLE_METRICS"`

	// GinMode is "debug", "release", or "test". Default: "release"
	GinMode string `yaml:"gin_mode" env:"GIN_MODE"`

	// ReadHeaderTimeout bounds slow clients. Default: 10s
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`

	// ShutdownTimeout bounds graceful shutdown. Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// LogLevel, LogJSON, and LogDir configure pkg/logging in the CLI.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	LogJSON  bool   `yaml:"log_json" env:"LOG_JSON"`
	LogDir   string `yaml:"log_dir" env:"LOG_DIR"`
}

// LoadConfig reads path (when non-empty) and the environment, then
// applies defaults.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Configuration kind when the file or an env value is invalid.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, apperrors.Configuration("failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, apperrors.Configuration(fmt.Sprintf("failed to parse config file %s", path), err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, apperrors.Configuration("failed to parse environment", err)
	}

	return applyConfigDefaults(cfg), nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var result *multierror.Error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.TraceExporter {
	case TraceExporterNone, TraceExporterStdout, TraceExporterOTLP:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown trace exporter %q", c.TraceExporter))
	}
	switch c.GinMode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown gin mode %q", c.GinMode))
	}
	if c.RateLimitRPS < 0 {
		result = multierror.Append(result, fmt.Errorf("rate limit %v is negative", c.RateLimitRPS))
	}

	if err := result.ErrorOrNil(); err != nil {
		return apperrors.Configuration("invalid configuration", err)
	}
	return nil
}

// ModelPolicy returns the model selection derived from the config.
func (c Config) ModelPolicy() llm.ModelPolicy {
	return llm.ModelPolicy{Default: c.Model, Vision: c.VisionModel}
}

// applyConfigDefaults fills in zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.APIKeyFile == "" {
		cfg.APIKeyFile = llm.DefaultSecretFile
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "public"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = datatypes.DefaultMaxImageBytes
	}
	if cfg.MaxHistoryTurns == 0 {
		cfg.MaxHistoryTurns = datatypes.DefaultMaxHistoryTurns
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = TraceExporterNone
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg
}
