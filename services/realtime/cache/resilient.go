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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AbhishekTungala/stackstage-core/services/realtime/observability"
)

// -----------------------------------------------------------------------------
// Connection State
// -----------------------------------------------------------------------------

// ConnectionState represents the current state of the shared backend link.
type ConnectionState int32

const (
	// StateConnected indicates normal operation against the shared backend.
	StateConnected ConnectionState = iota
	// StateDegraded indicates the shared backend is reachable but slow;
	// it still serves traffic.
	StateDegraded
	// StateDisconnected indicates the shared backend is unreachable and
	// the store is serving from the process-local map.
	StateDisconnected
)

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Backend Abstraction
// -----------------------------------------------------------------------------

// Backend is the shared-store contract ResilientStore degrades from.
// The production implementation wraps a Redis client; tests inject fakes
// that fail on command.
type Backend interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

// -----------------------------------------------------------------------------
// Resilient Store
// -----------------------------------------------------------------------------

// ResilientConfig configures the degradation behavior.
type ResilientConfig struct {
	// HealthCheckInterval is how often the backend is pinged while
	// connected. Default: 30s.
	HealthCheckInterval time.Duration

	// DegradedCheckInterval is how often reconnection is attempted while
	// disconnected. Default: 5s.
	DegradedCheckInterval time.Duration

	// PingTimeout bounds each health probe. Default: 2s.
	PingTimeout time.Duration
}

// DefaultResilientConfig returns production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		HealthCheckInterval:   30 * time.Second,
		DegradedCheckInterval: 5 * time.Second,
		PingTimeout:           2 * time.Second,
	}
}

// ResilientStore is a Store that prefers a shared backend and transparently
// falls back to a process-local map when the backend fails.
//
// # Description
//
// While connected (or merely slow, "degraded"), every operation goes to the
// shared backend; a backend error flips the store to disconnected and the
// operation is re-served from the local map, so callers never see
// infrastructure errors — at worst they see cache misses. A background
// checker pings the backend (more aggressively while disconnected) and
// promotes the store back when the ping succeeds. Entries written during an
// outage stay local until their TTL runs out; the shared backend is the
// source of truth once reconnected.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ResilientStore struct {
	backend  Backend
	fallback *localStore
	config   ResilientConfig

	state  atomic.Int32
	closed atomic.Bool

	healthCtx    context.Context
	healthCancel context.CancelFunc
	healthWg     sync.WaitGroup
	startOnce    sync.Once
}

// NewResilient creates a ResilientStore over backend.
//
// # Description
//
// Probes the backend once: on success the store starts connected, on
// failure it starts disconnected and keeps retrying in the background.
// Either way the store is usable immediately.
//
// # Inputs
//
//   - ctx: Context bounding the initial probe.
//   - backend: Shared backend. Must not be nil (use NewLocal for a
//     local-only store).
//   - config: Degradation tuning. Zero fields get defaults.
//
// # Outputs
//
//   - *ResilientStore: Ready for use. Call Close() during shutdown.
//   - error: Non-nil only for programmer errors (nil backend).
func NewResilient(ctx context.Context, backend Backend, config ResilientConfig) (*ResilientStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("cache: backend must not be nil")
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = DefaultResilientConfig().HealthCheckInterval
	}
	if config.DegradedCheckInterval <= 0 {
		config.DegradedCheckInterval = DefaultResilientConfig().DegradedCheckInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = DefaultResilientConfig().PingTimeout
	}

	healthCtx, healthCancel := context.WithCancel(context.Background())
	rs := &ResilientStore{
		backend:      backend,
		fallback:     newLocal(),
		config:       config,
		healthCtx:    healthCtx,
		healthCancel: healthCancel,
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.PingTimeout)
	err := backend.Ping(pingCtx)
	cancel()
	if err != nil {
		rs.state.Store(int32(StateDisconnected))
		slog.Warn("shared cache unavailable at startup, serving from local map",
			"error", err,
		)
	} else {
		rs.state.Store(int32(StateConnected))
		slog.Info("shared cache connected")
	}

	rs.startOnce.Do(func() {
		rs.healthWg.Add(1)
		go rs.runHealthChecker()
	})

	return rs, nil
}

// State returns the current connection state.
func (rs *ResilientStore) State() ConnectionState {
	return ConnectionState(rs.state.Load())
}

// IsDisconnected reports whether the store is serving from the local map.
func (rs *ResilientStore) IsDisconnected() bool {
	return rs.State() == StateDisconnected
}

// -----------------------------------------------------------------------------
// Store Implementation
// -----------------------------------------------------------------------------

func (rs *ResilientStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if rs.closed.Load() {
		return nil, false, ErrClosed
	}
	if rs.State() != StateDisconnected {
		value, found, err := rs.backend.Get(ctx, key)
		if err == nil {
			recordCacheOp("get", "shared")
			return value, found, nil
		}
		if !rs.degradeOn(err, "get") {
			return nil, false, err
		}
	}
	return rs.fallback.Get(ctx, key)
}

func (rs *ResilientStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if rs.closed.Load() {
		return ErrClosed
	}
	if rs.State() != StateDisconnected {
		err := rs.backend.Set(ctx, key, value, ttl)
		if err == nil {
			recordCacheOp("set", "shared")
			return nil
		}
		if !rs.degradeOn(err, "set") {
			return err
		}
	}
	return rs.fallback.Set(ctx, key, value, ttl)
}

func (rs *ResilientStore) Delete(ctx context.Context, key string) error {
	if rs.closed.Load() {
		return ErrClosed
	}
	if rs.State() != StateDisconnected {
		err := rs.backend.Delete(ctx, key)
		if err == nil {
			recordCacheOp("delete", "shared")
			// Keep the fallback coherent for a later outage.
			_ = rs.fallback.Delete(ctx, key)
			return nil
		}
		if !rs.degradeOn(err, "delete") {
			return err
		}
	}
	return rs.fallback.Delete(ctx, key)
}

func (rs *ResilientStore) Exists(ctx context.Context, key string) (bool, error) {
	if rs.closed.Load() {
		return false, ErrClosed
	}
	if rs.State() != StateDisconnected {
		found, err := rs.backend.Exists(ctx, key)
		if err == nil {
			recordCacheOp("exists", "shared")
			return found, nil
		}
		if !rs.degradeOn(err, "exists") {
			return false, err
		}
	}
	return rs.fallback.Exists(ctx, key)
}

func (rs *ResilientStore) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if rs.closed.Load() {
		return nil, ErrClosed
	}
	if rs.State() != StateDisconnected {
		out, err := rs.backend.GetMany(ctx, keys)
		if err == nil {
			recordCacheOp("get_many", "shared")
			return out, nil
		}
		if !rs.degradeOn(err, "get_many") {
			return nil, err
		}
	}
	return rs.fallback.GetMany(ctx, keys)
}

func (rs *ResilientStore) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if rs.closed.Load() {
		return ErrClosed
	}
	if rs.State() != StateDisconnected {
		err := rs.backend.SetMany(ctx, entries, ttl)
		if err == nil {
			recordCacheOp("set_many", "shared")
			return nil
		}
		if !rs.degradeOn(err, "set_many") {
			return err
		}
	}
	return rs.fallback.SetMany(ctx, entries, ttl)
}

func (rs *ResilientStore) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if rs.closed.Load() {
		return 0, ErrClosed
	}
	if err := validatePattern(pattern); err != nil {
		return 0, err
	}
	if rs.State() != StateDisconnected {
		removed, err := rs.backend.DeleteByPattern(ctx, pattern)
		if err == nil {
			recordCacheOp("invalidate", "shared")
			// Mirror the invalidation locally; local-only hits do not add
			// to the count the caller sees from the shared store.
			_, _ = rs.fallback.InvalidateByPattern(ctx, pattern)
			return removed, nil
		}
		if !rs.degradeOn(err, "invalidate") {
			return 0, err
		}
	}
	return rs.fallback.InvalidateByPattern(ctx, pattern)
}

func (rs *ResilientStore) HealthCheck(ctx context.Context) Health {
	if rs.closed.Load() {
		return Health{Status: StatusUnhealthy, Mode: ModeLocal, Message: "store closed"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, rs.config.PingTimeout)
	defer cancel()

	start := time.Now()
	err := rs.backend.Ping(pingCtx)
	latency := time.Since(start)
	latencyMs := float64(latency.Microseconds()) / 1000.0

	if err != nil {
		rs.transitionState(StateDisconnected)
		return Health{
			Status:    StatusDegraded,
			Mode:      ModeLocal,
			LatencyMs: latencyMs,
			Message:   fmt.Sprintf("shared cache unreachable: %v", err),
		}
	}

	if latency > healthyLatencyThreshold {
		rs.transitionState(StateDegraded)
		return Health{
			Status:    StatusDegraded,
			Mode:      ModeShared,
			LatencyMs: latencyMs,
			Message:   fmt.Sprintf("shared cache slow (>%v)", healthyLatencyThreshold),
		}
	}
	rs.transitionState(StateConnected)
	return Health{Status: StatusHealthy, Mode: ModeShared, LatencyMs: latencyMs}
}

// Close stops the health checker and releases both layers.
func (rs *ResilientStore) Close() error {
	if rs.closed.Swap(true) {
		return nil // Already closed
	}
	rs.healthCancel()
	rs.healthWg.Wait()

	err := rs.backend.Close()
	_ = rs.fallback.Close()
	return err
}

// -----------------------------------------------------------------------------
// Degradation Internals
// -----------------------------------------------------------------------------

// recordCacheOp is nil-safe around metrics registration.
func recordCacheOp(op, outcome string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordCacheOp(op, outcome)
	}
}

// degradeOn decides whether a backend error should flip the store to
// local mode. Context cancellation belongs to the caller, not the backend,
// so it propagates instead of degrading.
func (rs *ResilientStore) degradeOn(err error, op string) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	slog.Warn("shared cache operation failed, falling back to local map",
		"operation", op,
		"error", err,
	)
	recordCacheOp(op, "fallback")
	rs.transitionState(StateDisconnected)
	return true
}

// transitionState changes state and logs the transition once.
func (rs *ResilientStore) transitionState(newState ConnectionState) {
	oldState := ConnectionState(rs.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	if newState == StateDisconnected {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordCacheDegradation()
		}
	}
	slog.Info("cache state transition",
		"from", oldState.String(),
		"to", newState.String(),
	)
}

// runHealthChecker pings the backend on an interval that tightens while
// disconnected, promoting back toward connected on successful pings.
func (rs *ResilientStore) runHealthChecker() {
	defer rs.healthWg.Done()

	for {
		interval := rs.config.HealthCheckInterval
		if rs.IsDisconnected() {
			interval = rs.config.DegradedCheckInterval
		}

		select {
		case <-rs.healthCtx.Done():
			return
		case <-time.After(interval):
			rs.performHealthCheck()
		}
	}
}

// performHealthCheck runs a single probe and updates state.
func (rs *ResilientStore) performHealthCheck() {
	pingCtx, cancel := context.WithTimeout(rs.healthCtx, rs.config.PingTimeout)
	start := time.Now()
	err := rs.backend.Ping(pingCtx)
	latency := time.Since(start)
	cancel()

	if err != nil {
		if rs.State() != StateDisconnected {
			slog.Warn("shared cache health probe failed", "error", err)
			rs.transitionState(StateDisconnected)
		}
		return
	}

	if rs.IsDisconnected() {
		slog.Info("shared cache reachable again, resuming shared mode")
	}
	if latency > healthyLatencyThreshold {
		rs.transitionState(StateDegraded)
		return
	}
	rs.transitionState(StateConnected)
}
