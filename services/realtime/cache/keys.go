// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"fmt"
	"strings"
)

// Key namespaces. Keeping these in one place makes InvalidateByPattern
// callers greppable.
const (
	analysisPrefix = "analysis:"
	sessionPrefix  = "session:"
	cloudPrefix    = "cloud:"
	latencyPrefix  = "latency:"
)

// AnalysisKey is the cache key for a stored analysis result.
func AnalysisKey(analysisID string) string {
	return analysisPrefix + analysisID
}

// SessionKey is the cache key for browser session state.
func SessionKey(sessionID string) string {
	return sessionPrefix + sessionID
}

// ProviderStatusKey is the cache key for a cloud provider status probe.
func ProviderStatusKey(provider string) string {
	return fmt.Sprintf("%s%s:status", cloudPrefix, provider)
}

// RegionLatencyKey is the cache key for per-region latency estimates.
func RegionLatencyKey(region string) string {
	return latencyPrefix + region
}

// AnalysisPattern matches every cached analysis result.
func AnalysisPattern() string { return analysisPrefix + "*" }

// matchPattern reports whether key matches pattern, where pattern holds at
// most one '*' wildcard. With no wildcard it is an exact comparison.
func matchPattern(pattern, key string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == key
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	if len(key) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix)
}

// validatePattern rejects patterns with more than one wildcard.
func validatePattern(pattern string) error {
	if strings.Count(pattern, "*") > 1 {
		return fmt.Errorf("cache: pattern %q has more than one wildcard", pattern)
	}
	return nil
}
