// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides a TTL key/value store with transparent degradation:
// a shared Redis backend when it is reachable, a process-local map when it
// is not. Callers see a single Store interface either way; reads during an
// outage simply miss more often.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Store Interface
// =============================================================================

// ErrClosed is returned by all operations after Close().
var ErrClosed = errors.New("cache: store is closed")

// Store is the caching contract used across the service.
//
// # Description
//
// All values are opaque byte slices; GetJSON/SetJSON helpers layer JSON
// encoding on top. A miss is not an error: Get returns (nil, false, nil).
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value for key. found is false on a miss or after
	// the entry expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key with the given TTL. A non-positive TTL
	// stores the entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key currently holds a live entry.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMany returns one value per key, in the same order and length as
	// keys. Absent or expired keys yield a nil element.
	GetMany(ctx context.Context, keys []string) ([][]byte, error)

	// SetMany stores every entry with a shared TTL.
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error

	// InvalidateByPattern deletes every key matching pattern, which may
	// contain at most one '*' wildcard ("analysis:*", "*:status").
	// Returns the number of keys removed.
	InvalidateByPattern(ctx context.Context, pattern string) (int, error)

	// HealthCheck probes the backing store and reports status, mode, and
	// round-trip latency.
	HealthCheck(ctx context.Context) Health

	// Close releases resources. The store rejects all operations afterwards.
	Close() error
}

// =============================================================================
// Health Reporting
// =============================================================================

// Status is the tri-state health classification of the store.
type Status string

const (
	// StatusHealthy means the shared backend answered its probe quickly.
	StatusHealthy Status = "healthy"

	// StatusDegraded means the store is serving, but not at full fidelity:
	// either the shared backend is slow, or the store has fallen back to
	// the process-local map.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy means the store cannot serve at all (closed).
	StatusUnhealthy Status = "unhealthy"
)

// Mode identifies which backing layer is currently serving traffic.
type Mode string

const (
	// ModeShared means reads and writes go to the shared Redis backend.
	ModeShared Mode = "shared"

	// ModeLocal means the store is serving from the process-local map.
	ModeLocal Mode = "local"
)

// healthyLatencyThreshold separates "healthy" from "degraded" for a
// reachable shared backend.
const healthyLatencyThreshold = 50 * time.Millisecond

// Health is the result of a HealthCheck probe.
type Health struct {
	Status    Status  `json:"status"`
	Mode      Mode    `json:"mode"`
	LatencyMs float64 `json:"latency_ms"`
	Message   string  `json:"message,omitempty"`
}

// =============================================================================
// JSON Helpers
// =============================================================================

// GetJSON fetches key and unmarshals it into out. Returns found=false on a
// miss without touching out.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, found, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}
