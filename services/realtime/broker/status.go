// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broker implements the in-process progress broker for analysis
// jobs: a job lifecycle state machine, a topic registry, and fan-out to
// push (websocket) and pull (SSE) subscribers.
package broker

// =============================================================================
// Job Lifecycle
// =============================================================================

// Status is a phase in the analysis job lifecycle. The lifecycle moves
// strictly forward:
//
//	started -> processing -> analyzing -> completed | error
//
// A phase may repeat (progress updates within "processing") but never
// reverts, and terminal phases accept no further transitions. Cancellation
// is not a distinct phase: a cancelled job transitions to error with a
// message naming who cancelled it.
type Status string

const (
	StatusStarted    Status = "started"
	StatusProcessing Status = "processing"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// rank orders the phases for forward-only validation. Both terminal phases
// share a rank; the Terminal() check keeps them from replacing each other.
func (s Status) rank() int {
	switch s {
	case StatusStarted:
		return 0
	case StatusProcessing:
		return 1
	case StatusAnalyzing:
		return 2
	case StatusCompleted, StatusError:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known phase.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransitionTo reports whether moving from s to next is legal.
//
// # Description
//
// Legal moves are: staying in the same non-terminal phase (repeat progress
// updates), moving to any strictly later phase (skipping intermediate
// phases is allowed, e.g. started -> error on an early failure), and
// nothing at all once terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}

// DefaultProgress maps each phase to its checkpoint percentage. Callers may
// emit finer-grained progress; these are the values used when they don't.
func (s Status) DefaultProgress() int {
	switch s {
	case StatusStarted:
		return 10
	case StatusProcessing:
		return 25
	case StatusAnalyzing:
		return 50
	case StatusCompleted:
		return 100
	case StatusError:
		return 100
	default:
		return 0
	}
}
