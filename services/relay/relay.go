// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay provides the chat relay service.
//
// The service accepts a prompt, optional history, an optional
// personality, and an optional image over HTTP, forwards the
// conversation to the Gemini API, and streams the reply back as plain
// text while it is being generated. It also serves the browser client.
//
// # Usage
//
//	cfg, err := relay.LoadConfig("relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := relay.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRelay/services/llm"
	"github.com/AleutianAI/AleutianRelay/services/relay/handlers"
	"github.com/AleutianAI/AleutianRelay/services/relay/middleware"
	"github.com/AleutianAI/AleutianRelay/services/relay/observability"
	"github.com/AleutianAI/AleutianRelay/services/relay/routes"
)

// serviceName identifies the relay in traces.
const serviceName = "relay-service"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the relay service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until ctx is cancelled or the
	// server fails.
	//
	// # Description
	//
	// On cancellation the server stops accepting connections and waits up
	// to ShutdownTimeout for in-flight replies before closing them. The
	// tracer and provider client are released before Run returns.
	//
	// # Outputs
	//
	//   - error: Non-nil if the listener fails or shutdown times out.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases resources without running. Safe to call more than once.
	Close() error
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Service configuration with defaults applied
//   - router: Gin HTTP engine
//   - generator: Provider adapter shared by all requests
//   - ownsGenerator: Whether Close must close the generator
//   - tracerCleanup: Flushes and stops the trace exporter
type service struct {
	config        Config
	router        *gin.Engine
	generator     llm.Generator
	ownsGenerator bool
	tracerCleanup func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a relay Service.
//
// # Description
//
// New initializes every component in order:
//  1. Applies default configuration and validates it
//  2. Initializes OpenTelemetry tracing (none, stdout, or OTLP)
//  3. Initializes Prometheus metrics unless disabled
//  4. Resolves the API key and creates the Gemini client, unless a
//     generator is supplied
//  5. Sets up middleware and routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - generator: Provider adapter. When nil a Gemini client is created
//     and owned by the service.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Configuration kind when the config is invalid or no API
//     key can be found. The service never starts without a credential.
//
// # Examples
//
//	svc, err := relay.New(relay.Config{Port: 8080}, nil)
//
//	// Tests
//	svc, err := relay.New(relay.Config{}, &llmtest.Generator{Fragments: []string{"hi"}})
func New(cfg Config, generator llm.Generator) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	gin.SetMode(s.config.GinMode)

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	if !s.config.DisableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for streaming")
	}

	// Initialize provider client
	if generator != nil {
		s.generator = generator
	} else if err := s.initGenerator(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize provider client: %w", err)
	}

	if info, err := os.Stat(s.config.StaticDir); err != nil || !info.IsDir() {
		slog.Warn("Static directory not found, browser client will not be served",
			"static_dir", s.config.StaticDir)
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cleanup()
	})
	return s.closeErr
}

// serve runs the HTTP server on ln until ctx is done.
func (s *service) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting relay server",
			"addr", ln.Addr().String(),
			"model", s.config.Model,
			"vision_model", s.config.VisionModel,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down relay server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// "none" leaves the global no-op provider in place. "stdout" prints
// spans to stderr. "otlp" exports over an insecure gRPC connection.
//
// # Outputs
//
//   - func(context.Context) error: Flushes and stops the exporter.
//   - error: Non-nil if the exporter cannot be created.
func (s *service) initTracer() (func(context.Context) error, error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.TraceExporter {
	case TraceExporterNone:
		return func(context.Context) error { return nil }, nil

	case TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp

	case TraceExporterOTLP:
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp

	default:
		return nil, fmt.Errorf("unknown trace exporter %q", s.config.TraceExporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	slog.Info("Tracing enabled", "exporter", s.config.TraceExporter)

	cleanup := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown trace provider: %w", err)
		}
		return nil
	}
	return cleanup, nil
}

// initGenerator resolves the API key and creates the Gemini client.
func (s *service) initGenerator() error {
	ctx := context.Background()

	key, source, err := llm.ResolveAPIKey(ctx, llm.CredentialSource{
		APIKey:       s.config.APIKey,
		SecretFile:   s.config.APIKeyFile,
		SSMParameter: s.config.APIKeySSMParameter,
	})
	if err != nil {
		return err
	}

	gen, err := llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
		APIKey: key,
		Models: s.config.ModelPolicy(),
	})
	if err != nil {
		return err
	}

	s.generator = gen
	s.ownsGenerator = true
	slog.Info("Using Gemini provider",
		"api_key_source", source,
		"model", s.config.Model,
		"vision_model", s.config.VisionModel,
	)
	return nil
}

// initRouter sets up the Gin HTTP router with middleware and routes.
func (s *service) initRouter() {
	s.router = gin.New()
	s.router.MaxMultipartMemory = s.config.MaxBodyBytes
	s.router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger("/health", "/metrics"),
		otelgin.Middleware(serviceName),
	)

	routes.SetupRoutes(s.router, s.generator, routes.Options{
		Models: s.config.ModelPolicy(),
		Generate: handlers.GenerateTextOptions{
			RequestTimeout:  s.config.RequestTimeout,
			MaxBodyBytes:    s.config.MaxBodyBytes,
			MaxImageBytes:   s.config.MaxImageBytes,
			MaxHistoryTurns: s.config.MaxHistoryTurns,
		},
		StaticDir:      s.config.StaticDir,
		EnableMetrics:  !s.config.DisableMetrics,
		RateLimitRPS:   s.config.RateLimitRPS,
		RateLimitBurst: s.config.RateLimitBurst,
	})
}

// cleanup releases the tracer and an owned provider client.
func (s *service) cleanup() error {
	var result *multierror.Error

	if s.ownsGenerator && s.generator != nil {
		if err := s.generator.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close provider client: %w", err))
		}
	}
	if s.tracerCleanup != nil {
		if err := s.tracerCleanup(context.Background()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Compile-time interface check.
var _ Service = (*service)(nil)
