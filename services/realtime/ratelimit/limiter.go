// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit implements per-identifier sliding-window admission
// control. Each identifier (client IP, user ID, API key) owns a window of
// request timestamps; a request is admitted only while the window holds
// fewer than the configured maximum.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Sliding Window Limiter
// =============================================================================

// Config holds limiter configuration.
//
// # Fields
//
//   - Window: Length of the sliding window. Default: 15 minutes.
//   - MaxRequests: Admissions allowed per identifier per window. Default: 100.
//   - SweepInterval: How often the background sweeper prunes idle
//     identifiers. Default: 60 seconds.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults: 100 requests per 15 minutes,
// swept every 60 seconds.
func DefaultConfig() Config {
	return Config{
		Window:        15 * time.Minute,
		MaxRequests:   100,
		SweepInterval: 60 * time.Second,
	}
}

// Validate checks the config for unusable values.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %v", c.Window)
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive, got %d", c.MaxRequests)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %v", c.SweepInterval)
	}
	return nil
}

// Limiter is a thread-safe sliding-window rate limiter.
//
// # Description
//
// Tracks request timestamps per identifier. Expired timestamps are pruned
// lazily on every query for that identifier, and a background sweeper
// removes identifiers whose windows have fully drained so the map does not
// grow without bound under rotating client populations.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
//
// # Limitations
//
//   - State is process-local. Behind a load balancer each replica enforces
//     its own quota.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	windows map[string][]time.Time
	done    chan struct{}
	running bool
	runMu   sync.Mutex

	// now is swappable in tests.
	now func() time.Time
}

// New creates a limiter with the given window and per-window maximum.
//
// # Inputs
//
//   - window: Sliding window length. Must be positive.
//   - maxRequests: Admissions allowed per identifier per window.
//
// # Outputs
//
//   - *Limiter: Ready to serve Allow() calls. Call Start() to enable the
//     background sweep.
//
// # Examples
//
//	limiter := ratelimit.New(15*time.Minute, 100)
//	if err := limiter.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Stop()
func New(window time.Duration, maxRequests int) *Limiter {
	cfg := DefaultConfig()
	cfg.Window = window
	cfg.MaxRequests = maxRequests
	return NewWithConfig(cfg)
}

// NewWithConfig creates a limiter from an explicit Config.
func NewWithConfig(config Config) *Limiter {
	return &Limiter{
		config:  config,
		windows: make(map[string][]time.Time),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Allow records an admission attempt for identifier and reports whether it
// is within quota.
//
// # Description
//
// Prunes timestamps older than the window, then admits the request if the
// identifier has remaining quota. Admitted requests append their timestamp
// to the window; denied requests leave the window untouched, so a denied
// burst does not extend the penalty.
//
// # Inputs
//
//   - identifier: Client key. Empty string is a valid (shared) bucket.
//
// # Outputs
//
//   - bool: True if the request is admitted.
func (l *Limiter) Allow(identifier string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.pruneLocked(identifier, now)
	if len(window) >= l.config.MaxRequests {
		return false
	}
	l.windows[identifier] = append(window, now)
	return true
}

// AllowDetail records an admission attempt like Allow and additionally
// returns the remaining quota and reset time observed in the same moment.
//
// # Description
//
// Computes the whole triple under one lock acquisition, so callers building
// quota headers see values consistent with the admission decision. Calling
// Allow then Remaining then ResetTime separately can interleave with other
// requests and report counts off by one.
//
// # Outputs
//
//   - bool: True if the request is admitted.
//   - int: Admissions left after this decision.
//   - time.Time: When the oldest tracked request leaves the window; the
//     current time when nothing is tracked.
func (l *Limiter) AllowDetail(identifier string) (bool, int, time.Time) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.pruneLocked(identifier, now)
	allowed := len(window) < l.config.MaxRequests
	if allowed {
		window = append(window, now)
		l.windows[identifier] = window
	}

	remaining := l.config.MaxRequests - len(window)
	if remaining < 0 {
		remaining = 0
	}
	reset := now
	if len(window) > 0 {
		reset = window[0].Add(l.config.Window)
	}
	return allowed, remaining, reset
}

// Remaining returns the number of admissions identifier has left in the
// current window. Unknown identifiers have the full quota.
func (l *Limiter) Remaining(identifier string) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.pruneLocked(identifier, now)
	remaining := l.config.MaxRequests - len(window)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ResetTime returns the instant the identifier's oldest tracked request
// leaves the window, i.e. when one unit of quota is restored. For an
// identifier with no tracked requests it returns the current time.
func (l *Limiter) ResetTime(identifier string) time.Time {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.pruneLocked(identifier, now)
	if len(window) == 0 {
		return now
	}
	return window[0].Add(l.config.Window)
}

// Len reports how many identifiers currently have tracked state. Intended
// for metrics and tests.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// MaxRequests exposes the configured per-window maximum.
func (l *Limiter) MaxRequests() int {
	return l.config.MaxRequests
}

// Window exposes the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.config.Window
}

// pruneLocked drops expired timestamps for identifier and returns the live
// window. Caller must hold l.mu. Fully drained identifiers are deleted so
// lazy pruning and the sweeper converge on the same state.
func (l *Limiter) pruneLocked(identifier string, now time.Time) []time.Time {
	window := l.windows[identifier]
	cutoff := now.Add(-l.config.Window)

	// Timestamps are appended in order, so find the first live one.
	live := 0
	for live < len(window) && !window[live].After(cutoff) {
		live++
	}
	if live == 0 {
		return window
	}
	window = window[live:]
	if len(window) == 0 {
		delete(l.windows, identifier)
		return nil
	}
	l.windows[identifier] = window
	return window
}

// =============================================================================
// Background Sweep
// =============================================================================

// Start begins the background sweep goroutine.
//
// # Description
//
// Starts a goroutine that periodically removes identifiers whose windows
// have fully expired. The limiter works correctly without the sweeper
// (pruning is also done lazily per call), but idle identifiers would then
// occupy memory until their next request.
//
// # Inputs
//
//   - ctx: Context for cancellation. When cancelled, the sweeper stops.
//
// # Outputs
//
//   - error: Non-nil if the sweeper is already running or config is invalid.
func (l *Limiter) Start(ctx context.Context) error {
	if err := l.config.Validate(); err != nil {
		return fmt.Errorf("rate limiter config invalid: %w", err)
	}

	l.runMu.Lock()
	if l.running {
		l.runMu.Unlock()
		return fmt.Errorf("rate limiter sweeper is already running")
	}
	l.running = true
	l.done = make(chan struct{}) // Reset done channel for potential restart
	l.runMu.Unlock()

	slog.Info("rate limiter sweeper starting",
		"window", l.config.Window.String(),
		"max_requests", l.config.MaxRequests,
		"sweep_interval", l.config.SweepInterval.String(),
	)

	go l.runLoop(ctx)
	return nil
}

// Stop signals the sweeper to stop. Safe to call multiple times; the
// limiter keeps serving Allow() calls after Stop.
func (l *Limiter) Stop() error {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if !l.running {
		return nil // Already stopped
	}

	slog.Info("rate limiter sweeper stopping")
	close(l.done)
	l.running = false
	return nil
}

// runLoop is the sweeper goroutine.
func (l *Limiter) runLoop(ctx context.Context) {
	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("rate limiter sweeper stopped (context cancelled)")
			return
		case <-l.done:
			slog.Info("rate limiter sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Sweep removes all identifiers whose tracked requests have fully expired.
// Returns the number of identifiers removed. Exposed for manual invocation
// and tests.
func (l *Limiter) Sweep() int {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, window := range l.windows {
		// A window with any live timestamp survives; timestamps are ordered
		// so checking the newest suffices.
		if len(window) == 0 || !window[len(window)-1].After(cutoff) {
			delete(l.windows, id)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("rate limiter sweep completed",
			"identifiers_removed", removed,
			"identifiers_remaining", len(l.windows),
		)
	}
	return removed
}
