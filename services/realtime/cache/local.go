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
	"sync"
	"time"
)

// =============================================================================
// Process-Local Store
// =============================================================================

// sweepEveryNWrites triggers a full expiry sweep on every Nth write so a
// write-heavy workload with few reads cannot accumulate dead entries
// indefinitely. Reads already prune lazily.
const sweepEveryNWrites = 256

type localEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// localStore is the in-process fallback Store.
//
// # Description
//
// A mutex-guarded map with per-entry TTLs. Expired entries are removed
// lazily when read and in bulk every sweepEveryNWrites writes. It is both
// the standalone store for single-process deployments and the degradation
// target of ResilientStore.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type localStore struct {
	mu      sync.RWMutex
	entries map[string]localEntry
	writes  int
	closed  bool

	// now is swappable in tests.
	now func() time.Time
}

// NewLocal creates a process-local Store.
func NewLocal() Store {
	return newLocal()
}

func newLocal() *localStore {
	return &localStore{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

func (s *localStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	// Copy so callers cannot mutate the cached bytes.
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (s *localStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.setLocked(key, value, ttl)
	return nil
}

// setLocked stores one entry and runs the periodic sweep. Caller holds s.mu.
func (s *localStore) setLocked(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)

	entry := localEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry

	s.writes++
	if s.writes%sweepEveryNWrites == 0 {
		s.sweepLocked()
	}
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, key)
	return nil
}

func (s *localStore) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := s.Get(ctx, key)
	return found, err
}

func (s *localStore) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	now := s.now()
	out := make([][]byte, len(keys))
	for i, key := range keys {
		entry, ok := s.entries[key]
		if !ok {
			continue
		}
		if entry.expired(now) {
			delete(s.entries, key)
			continue
		}
		v := make([]byte, len(entry.value))
		copy(v, entry.value)
		out[i] = v
	}
	return out, nil
}

func (s *localStore) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for key, value := range entries {
		s.setLocked(key, value, ttl)
	}
	return nil
}

func (s *localStore) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if err := validatePattern(pattern); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			// Expired entries vanish silently, they do not count as
			// invalidated.
			delete(s.entries, key)
			continue
		}
		if matchPattern(pattern, key) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *localStore) HealthCheck(ctx context.Context) Health {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return Health{Status: StatusUnhealthy, Mode: ModeLocal, Message: "store closed"}
	}
	// A purely local store never reaches "healthy": it serves, but without
	// the shared backend other replicas see different data.
	return Health{Status: StatusDegraded, Mode: ModeLocal, Message: "process-local cache"}
}

func (s *localStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// Len reports the number of entries including not-yet-swept expired ones.
func (s *localStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// sweepLocked drops every expired entry. Caller holds s.mu.
func (s *localStore) sweepLocked() {
	now := s.now()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}
