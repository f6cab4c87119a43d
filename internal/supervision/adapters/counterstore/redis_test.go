// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package counterstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore_SlidingWindowAllowsUnderLimit(t *testing.T) {
	store, _ := newTestStore(t)
	res, err := store.CheckSlidingWindow(context.Background(), "agent-1:op", 3, 60)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestRedisStore_SlidingWindowDeniesOverLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := store.CheckSlidingWindow(ctx, "agent-2:op", 3, 60)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := store.CheckSlidingWindow(ctx, "agent-2:op", 3, 60)
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestRedisStore_TokenBucketSpendsThenDenies(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	res, err := store.CheckRateLimit(ctx, "agent-3:op", 5, 60, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = store.CheckRateLimit(ctx, "agent-3:op", 5, 60, 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestRedisStore_Reset(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.CheckRateLimit(ctx, "agent-4:op", 5, 60, 5)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "agent-4:op"))
	res, err := store.CheckRateLimit(ctx, "agent-4:op", 5, 60, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
