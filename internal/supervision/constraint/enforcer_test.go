// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package constraint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/adapters/counterstore"
	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
)

func newTestEnforcer(t *testing.T) (*Enforcer, *datastore.MemStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := datastore.NewMemStore()
	counter, err := counterstore.NewRedisStore(context.Background(), "redis://"+mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = counter.Close() })

	cfg := config.Default()
	return New(store, counter, nil, cfg), store
}

func TestCheckQuota_ExceedsLimit(t *testing.T) {
	e, store := newTestEnforcer(t)
	ctx := context.Background()
	c := domain.Constraint{ConstraintID: "c1", Name: "daily-quota", ConstraintType: domain.ConstraintQuota, Limit: 100, Enabled: true}
	require.NoError(t, store.StoreConstraint(ctx, c))

	require.NoError(t, e.CheckQuota(ctx, "agent-1", "c1", 50))
	err := e.CheckQuota(ctx, "agent-1", "c1", 150)
	require.Error(t, err)
}

func TestCheckRateLimit_DeniesOverLimit(t *testing.T) {
	e, store := newTestEnforcer(t)
	ctx := context.Background()
	c := domain.Constraint{ConstraintID: "c2", Name: "per-min", ConstraintType: domain.ConstraintRateLimit, Limit: 2, WindowSeconds: 60, Enabled: true}
	require.NoError(t, store.StoreConstraint(ctx, c))

	require.NoError(t, e.CheckRateLimit(ctx, "agent-1", "c2", 1))
	require.NoError(t, e.CheckRateLimit(ctx, "agent-1", "c2", 1))
	err := e.CheckRateLimit(ctx, "agent-1", "c2", 1)
	require.Error(t, err)
}

func TestCheckTemporal_BusinessHoursViolation(t *testing.T) {
	e, store := newTestEnforcer(t)
	ctx := context.Background()
	c := domain.Constraint{
		ConstraintID: "c3", Name: "business-hours-only", ConstraintType: domain.ConstraintTemporal, Enabled: true,
		TemporalConfig: &domain.TemporalConstraintConfig{BusinessHoursOnly: true, StartHour: 25, EndHour: 26},
	}
	require.NoError(t, store.StoreConstraint(ctx, c))
	err := e.CheckConstraint(ctx, "agent-1", "c3", 0, "")
	require.Error(t, err)
}

func TestDisabledConstraint_AlwaysPasses(t *testing.T) {
	e, store := newTestEnforcer(t)
	ctx := context.Background()
	c := domain.Constraint{ConstraintID: "c4", ConstraintType: domain.ConstraintQuota, Limit: 1, Enabled: false}
	require.NoError(t, store.StoreConstraint(ctx, c))
	require.NoError(t, e.CheckQuota(ctx, "agent-1", "c4", 1000))
}

func TestCheckOperationRestriction_DeniesOperationNotInAllowSet(t *testing.T) {
	e, store := newTestEnforcer(t)
	ctx := context.Background()
	c := domain.Constraint{
		ConstraintID: "c5", Name: "op-restrict", ConstraintType: domain.ConstraintOperationRestrict,
		Enabled: true, AllowedOperations: []string{"read", "list"},
	}
	require.NoError(t, store.StoreConstraint(ctx, c))

	require.NoError(t, e.CheckConstraint(ctx, "agent-1", "c5", 0, "read"))

	err := e.CheckConstraint(ctx, "agent-1", "c5", 0, "delete")
	require.Error(t, err)

	violations := e.GetViolations("agent-1", 0)
	require.Len(t, violations, 1)
	require.Equal(t, domain.ConstraintOperationRestrict, violations[0].ViolationType)
}
