// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package counterstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStore_SlidingWindowDeniesOverLimit(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := store.CheckSlidingWindow(ctx, "agent-1:op", 3, 60)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := store.CheckSlidingWindow(ctx, "agent-1:op", 3, 60)
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestMemStore_TokenBucketSpendsThenDenies(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	res, err := store.CheckRateLimit(ctx, "agent-2:op", 5, 60, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = store.CheckRateLimit(ctx, "agent-2:op", 5, 60, 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)
}

func TestMemStore_Reset(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	_, err := store.CheckRateLimit(ctx, "agent-3:op", 5, 60, 5)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "agent-3:op"))
	res, err := store.CheckRateLimit(ctx, "agent-3:op", 5, 60, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestMemStore_HealthCheckReportsDevMode(t *testing.T) {
	store := NewMemStore()
	h := store.HealthCheck(context.Background())
	require.Equal(t, "healthy", h["status"])
	require.Equal(t, true, h["dev_mode"])
}
