// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package realtime provides the StackStage realtime analysis service.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing, the analysis engines, the progress broker,
// the resilient cache tier, rate limiting, and observability
// infrastructure.
//
// # Usage
//
//	cfg := realtime.Config{Port: 12400}
//	svc, err := realtime.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/analysis"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/broker"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cache"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/cloudinfo"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/ratelimit"
	"github.com/AbhishekTungala/stackstage-core/services/realtime/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the realtime analysis service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called
// once per instance.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds realtime service configuration options.
//
// # Description
//
// Config centralizes all configuration for the service. Values can be
// populated from environment variables, config files, or
// programmatically for testing. All fields are optional with defaults
// applied by New().
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Shared cache and AI analysis
//	cfg := Config{
//	    Port:            12400,
//	    RedisURL:        "redis://stackstage-redis:6379/0",
//	    AnalysisBackend: "openrouter",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12400
	Port int

	// RedisURL is the shared cache URL. If empty, the service runs on
	// the process-local cache only (degraded but fully functional).
	// Example: "redis://localhost:6379/0"
	RedisURL string

	// AnalysisBackend selects the primary analysis engine.
	// Valid values: "openrouter", "local". Default: "openrouter",
	// falling back to "local" when no API key is configured.
	AnalysisBackend string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "stackstage-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string

	// RateLimitWindow is the sliding admission window. Default: 15m
	RateLimitWindow time.Duration

	// RateLimitMax is the number of requests admitted per identifier
	// per window. Default: 100
	RateLimitMax int
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration
//   - router: Gin HTTP engine
//   - analysisLimiter, assistantLimiter: Per-class sliding-window limiters
//   - progressBroker: Job lifecycle and event fan-out
//   - store: Resilient cache tier (shared when Redis is configured)
//   - analysisSvc: Analysis orchestration (primary engine plus fallback)
//   - cloud: Region ranking and provider status
//   - tracerCleanup: Function to shutdown the tracer on exit
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config           Config
	router           *gin.Engine
	analysisLimiter  *ratelimit.Limiter
	assistantLimiter *ratelimit.Limiter
	progressBroker   *broker.Broker
	store            cache.Store
	analysisSvc      *analysis.Service
	cloud            *cloudinfo.Service
	tracerCleanup    func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new realtime Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Builds the cache tier (shared Redis when configured, else local)
//  5. Starts the per-class limiter sweepers and the broker janitor
//  6. Creates the analysis engines and cloud advisory service
//  7. Sets up HTTP routes
//
// A missing Redis or LLM credential is not fatal: the service degrades
// to the local cache and the rule-based engine and keeps serving.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run realtime service
//   - error: Non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for realtime service")
	}

	if err := s.initCache(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize cache tier: %w", err)
	}

	if err := s.initBackgroundWorkers(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initAnalysis()
	s.cloud = cloudinfo.NewService(s.store, cloudinfo.NewHTTPProber())

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting realtime server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12400
	}
	if cfg.AnalysisBackend == "" {
		cfg.AnalysisBackend = "openrouter"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "stackstage-otel-collector:4317"
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = 15 * time.Minute
	}
	if cfg.RateLimitMax == 0 {
		cfg.RateLimitMax = 100
	}
	cfg.EnableMetrics = true

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("realtime-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initCache builds the cache tier.
//
// With a Redis URL the tier is a ResilientStore: shared cache fronted
// by transparent local fallback. Without one the service runs on the
// local cache alone, which the health endpoint reports as degraded.
func (s *service) initCache() error {
	if s.config.RedisURL == "" {
		slog.Info("REDIS_URL not configured, using process-local cache only")
		s.store = cache.NewLocal()
		return nil
	}

	backend, err := cache.NewRedisBackend(s.config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}

	store, err := cache.NewResilient(context.Background(), backend, cache.ResilientConfig{})
	if err != nil {
		return fmt.Errorf("failed to create resilient store: %w", err)
	}

	s.store = store
	slog.Info("Shared cache tier initialized", "url", s.config.RedisURL)
	return nil
}

// initBackgroundWorkers starts the limiter sweepers and the broker
// janitor. Analysis and assistant admission use independent limiter
// instances so one exhausted quota does not starve the other.
func (s *service) initBackgroundWorkers() error {
	s.analysisLimiter = ratelimit.New(s.config.RateLimitWindow, s.config.RateLimitMax)
	if err := s.analysisLimiter.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start analysis limiter sweeper: %w", err)
	}

	s.assistantLimiter = ratelimit.New(s.config.RateLimitWindow, s.config.RateLimitMax)
	if err := s.assistantLimiter.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start assistant limiter sweeper: %w", err)
	}

	s.progressBroker = broker.New()
	if err := s.progressBroker.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start broker janitor: %w", err)
	}

	return nil
}

// initAnalysis wires the primary engine and the local fallback.
func (s *service) initAnalysis() {
	fallback := analysis.NewFallbackEngine()

	var primary analysis.Engine
	switch s.config.AnalysisBackend {
	case "local":
		slog.Info("Using local rule-based analysis backend")
	case "openrouter":
		engine, err := analysis.NewLLMEngine()
		if err != nil {
			slog.Warn("OpenRouter backend unavailable, running on the local engine only",
				"error", err)
		} else {
			primary = engine
			slog.Info("Using OpenRouter analysis backend")
		}
	default:
		slog.Warn("Unknown analysis backend, using the local engine only",
			"backend", s.config.AnalysisBackend)
	}

	s.analysisSvc = analysis.NewService(primary, fallback, s.progressBroker, s.store)
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("realtime-service"))

	routes.SetupRoutes(s.router, routes.Deps{
		AnalysisLimiter:  s.analysisLimiter,
		AssistantLimiter: s.assistantLimiter,
		Broker:           s.progressBroker,
		Analysis:         s.analysisSvc,
		Cloud:            s.cloud,
		Store:            s.store,
	})
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure, so each
// component is guarded against partial construction.
func (s *service) cleanup() {
	for _, l := range []*ratelimit.Limiter{s.analysisLimiter, s.assistantLimiter} {
		if l == nil {
			continue
		}
		if err := l.Stop(); err != nil {
			slog.Warn("Rate limiter stop error", "error", err)
		}
	}

	if s.progressBroker != nil {
		if err := s.progressBroker.Stop(); err != nil {
			slog.Warn("Broker stop error", "error", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Cache close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
