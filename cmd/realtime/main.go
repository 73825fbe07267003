// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command realtime starts the StackStage realtime analysis HTTP server.
//
// This is the main entry point for the containerized realtime service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - REALTIME_PORT: HTTP server port (default: 12400)
//   - REDIS_URL: Shared cache URL (optional; local cache when unset)
//   - ANALYSIS_BACKEND: Primary engine - openrouter, local (default: openrouter)
//   - OPENROUTER_API_KEY: Credential for the openrouter backend
//   - RATE_LIMIT_WINDOW_MINUTES: Admission window (default: 15)
//   - RATE_LIMIT_MAX_REQUESTS: Requests per identifier per window (default: 100)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: stackstage-otel-collector:4317)
//   - LOG_DIR: Directory for JSON log files (optional; stderr only when unset)
//
// # Usage
//
//	# Build
//	go build -o realtime ./cmd/realtime
//
//	# Run
//	./realtime
//
//	# Or via container
//	podman-compose up realtime
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AbhishekTungala/stackstage-core/pkg/logging"
	"github.com/AbhishekTungala/stackstage-core/services/realtime"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "realtime",
		LogDir:  os.Getenv("LOG_DIR"),
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := realtime.Config{
		Port:            getEnvInt("REALTIME_PORT", 12400),
		RedisURL:        os.Getenv("REDIS_URL"),
		AnalysisBackend: getEnvString("ANALYSIS_BACKEND", "openrouter"),
		OTelEndpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "stackstage-otel-collector:4317"),
		RateLimitWindow: time.Duration(getEnvInt("RATE_LIMIT_WINDOW_MINUTES", 15)) * time.Minute,
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX_REQUESTS", 100),
		GinMode:         os.Getenv("GIN_MODE"),
	}

	slog.Info("Starting realtime service",
		"port", cfg.Port,
		"analysis_backend", cfg.AnalysisBackend,
		"redis_configured", cfg.RedisURL != "",
	)

	svc, err := realtime.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create realtime service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Realtime service error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
