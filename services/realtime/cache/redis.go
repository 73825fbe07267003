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
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize bounds each SCAN page during pattern invalidation.
const scanBatchSize = 200

// redisBackend adapts a go-redis client to the Backend interface.
type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a Backend over a Redis connection URL
// ("redis://host:port/db"). The connection is lazy; reachability is probed
// by ResilientStore, not here.
func NewRedisBackend(url string) (Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: invalid redis url: %w", err)
	}
	return &redisBackend{client: redis.NewClient(opts)}, nil
}

func (b *redisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // go-redis treats 0 as "no expiry"
	}
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

func (b *redisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *redisBackend) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	// MGET preserves key order; absent keys come back nil.
	out := make([][]byte, len(keys))
	for i, v := range values {
		// MGET returns strings for byte values.
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (b *redisBackend) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	if ttl < 0 {
		ttl = 0
	}
	// MSET has no TTL form, so pipeline individual SETs.
	pipe := b.client.Pipeline()
	for key, value := range entries {
		pipe.Set(ctx, key, value, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *redisBackend) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := b.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
