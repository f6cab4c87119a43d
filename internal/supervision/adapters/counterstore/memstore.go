// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package counterstore

import (
	"context"
	"math"
	"sync"
	"time"
)

type bucketState struct {
	tokens     float64
	lastUpdate float64
}

type windowEntry struct {
	at float64
}

// MemStore is the in-process CounterStore fallback used when no
// Redis URL is configured (dev_mode). It implements the same
// token-bucket and sliding-window algorithms as the Lua scripts in
// RedisStore, but the atomicity guarantee is only single-process: a
// mutex around the whole map stands in for the Lua VM's
// single-threaded execution. This is correct for one PDP node and
// explicitly not for horizontal scale-out.
type MemStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	windows map[string][]windowEntry
}

// NewMemStore returns an empty in-process CounterStore.
func NewMemStore() *MemStore {
	return &MemStore{buckets: make(map[string]*bucketState), windows: make(map[string][]windowEntry)}
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

func (m *MemStore) CheckRateLimit(_ context.Context, key string, limit float64, windowSeconds int, requested float64) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucketState{tokens: limit, lastUpdate: nowSeconds()}
		m.buckets[key] = b
	}

	now := nowSeconds()
	refillRate := limit / float64(windowSeconds)
	elapsed := now - b.lastUpdate
	b.tokens = math.Min(limit, b.tokens+elapsed*refillRate)

	if b.tokens >= requested {
		b.tokens -= requested
		b.lastUpdate = now
		return Result{Allowed: true, Remaining: b.tokens}, nil
	}
	b.lastUpdate = now
	return Result{Allowed: false, Remaining: b.tokens}, nil
}

func (m *MemStore) CheckSlidingWindow(_ context.Context, key string, limit float64, windowSeconds int) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := nowSeconds()
	windowStart := now - float64(windowSeconds)

	entries := m.windows[key]
	kept := entries[:0]
	for _, e := range entries {
		if e.at >= windowStart {
			kept = append(kept, e)
		}
	}

	if float64(len(kept)) < limit {
		kept = append(kept, windowEntry{at: now})
		m.windows[key] = kept
		return Result{Allowed: true, Remaining: limit - float64(len(kept))}, nil
	}
	m.windows[key] = kept
	return Result{Allowed: false, Remaining: 0}, nil
}

func (m *MemStore) GetUsage(_ context.Context, key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[key]; ok {
		return b.tokens, nil
	}
	return 0, nil
}

func (m *MemStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
	delete(m.windows, key)
	return nil
}

func (m *MemStore) HealthCheck(_ context.Context) map[string]any {
	return map[string]any{"status": "healthy", "dev_mode": true, "backend": "in-process"}
}

func (m *MemStore) Close() error { return nil }
