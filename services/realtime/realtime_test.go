// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package realtime

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	cfg := Config{}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 12400, result.Port, "default port should be 12400")
	assert.Equal(t, "openrouter", result.AnalysisBackend, "default analysis backend should be openrouter")
	assert.Equal(t, "stackstage-otel-collector:4317", result.OTelEndpoint,
		"default OTel endpoint should be stackstage-otel-collector:4317")
	assert.Equal(t, 15*time.Minute, result.RateLimitWindow, "default window should be 15 minutes")
	assert.Equal(t, 100, result.RateLimitMax, "default quota should be 100 requests")
	assert.True(t, result.EnableMetrics, "metrics should be enabled by default")
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:            8080,
		AnalysisBackend: "local",
		OTelEndpoint:    "custom-collector:4317",
		RedisURL:        "redis://localhost:6379/0",
		RateLimitWindow: time.Minute,
		RateLimitMax:    5,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port, "custom port should be preserved")
	assert.Equal(t, "local", result.AnalysisBackend, "custom backend should be preserved")
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint,
		"custom OTel endpoint should be preserved")
	assert.Equal(t, "redis://localhost:6379/0", result.RedisURL,
		"custom Redis URL should be preserved")
	assert.Equal(t, time.Minute, result.RateLimitWindow, "custom window should be preserved")
	assert.Equal(t, 5, result.RateLimitMax, "custom quota should be preserved")
}

// TestApplyConfigDefaults_PartialConfig verifies partial configs are handled.
func TestApplyConfigDefaults_PartialConfig(t *testing.T) {
	cfg := Config{
		Port: 9999,
		// AnalysisBackend and OTelEndpoint left empty
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 9999, result.Port, "custom port should be preserved")
	assert.Equal(t, "openrouter", result.AnalysisBackend, "default backend should be applied")
	assert.Equal(t, "stackstage-otel-collector:4317", result.OTelEndpoint,
		"default OTel endpoint should be applied")
}
