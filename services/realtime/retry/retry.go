// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides bounded retry with exponential backoff for
// transient-failure-prone operations (LLM calls, cache round-trips,
// provider probes).
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	// Default: 1s
	InitialDelay time.Duration

	// Multiplier scales the delay after each failed attempt:
	// delay(n) = InitialDelay * Multiplier^(n-1). Default: 2.0
	Multiplier float64

	// MaxDelay caps the wait between attempts. Default: 30s
	MaxDelay time.Duration

	// JitterFactor is the maximum jitter as a fraction of the delay (0-1).
	// Adds randomness to prevent thundering herd. Default: 0.2
	JitterFactor float64
}

// DefaultConfig returns sensible defaults for retry behavior.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
	}
}

// Validate checks if the retry configuration is usable.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay <= 0 {
		return fmt.Errorf("initial_delay must be positive, got %v", c.InitialDelay)
	}
	if c.MaxDelay < c.InitialDelay {
		return fmt.Errorf("max_delay %v must be >= initial_delay %v", c.MaxDelay, c.InitialDelay)
	}
	if c.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be >= 1.0, got %v", c.Multiplier)
	}
	return nil
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// Func is an operation that can be retried. Return nil on success.
type Func func(ctx context.Context, attempt int) error

// Do executes fn with exponential backoff, retrying every failure until
// the attempt budget is exhausted.
//
// # Description
//
// Every error is treated as retryable; callers that want to short-circuit
// on permanent failures should use DoIf. Only the final attempt's error is
// returned — intermediate failures are logged at debug level and then
// superseded.
//
// # Inputs
//
//   - ctx: Context for cancellation. Checked before each attempt and while
//     waiting between attempts.
//   - config: Retry configuration.
//   - fn: The operation to execute.
//
// # Outputs
//
//   - Result: Statistics about the retry operation.
//   - error: The last attempt's error if all attempts failed, nil on success.
//
// # Examples
//
//	result, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context, attempt int) error {
//	    return store.Set(ctx, key, value, ttl)
//	})
func Do(ctx context.Context, config Config, fn Func) (Result, error) {
	return run(ctx, config, fn, nil)
}

// DoIf executes fn like Do, but consults retryable before waiting: when
// retryable(err) returns false the error is returned immediately with no
// further attempts. A nil retryable behaves exactly like Do.
func DoIf(ctx context.Context, config Config, fn Func, retryable func(error) bool) (Result, error) {
	return run(ctx, config, fn, retryable)
}

func run(ctx context.Context, config Config, fn Func, retryable func(error) bool) (Result, error) {
	start := time.Now()
	result := Result{}

	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		// Check context before attempting
		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}

		result.LastError = err

		if retryable != nil && !retryable(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		slog.Debug("attempt failed",
			"attempt", attempt,
			"max_attempts", config.MaxAttempts,
			"delay", delay.String(),
			"error", err,
		)

		// Don't wait after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		waitTime := applyJitter(delay, config.JitterFactor)

		// Wait or cancel
		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(waitTime):
		}

		delay = nextDelay(delay, config.Multiplier, config.MaxDelay)
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// applyJitter perturbs the delay by up to ±jitterFactor.
func applyJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}

	// Range: [base * (1-jitter), base * (1+jitter)]
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

// nextDelay scales the delay for the following attempt, capped at max.
func nextDelay(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > max {
		return max
	}
	return next
}
