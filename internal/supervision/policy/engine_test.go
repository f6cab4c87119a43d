// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
)

type testLogger struct{}

func (testLogger) Info(string, string, string, map[string]any) {}
func (testLogger) Warn(string, string, string, map[string]any) {}

func newTestEngine(t *testing.T) (*Engine, *datastore.MemStore) {
	t.Helper()
	store := datastore.NewMemStore()
	cfg := config.Default()
	e := New(store, nil, cfg, nil, testLogger{})
	return e, store
}

func TestEvaluate_DenyWinsOverEscalateAndAllow(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	p := domain.PolicyDefinition{
		PolicyID: "p1", Active: true,
		Rules: []domain.PolicyRule{
			{RuleID: "allow-all", Condition: "", Action: domain.VerdictAllow, Priority: 1, Enabled: true},
			{RuleID: "escalate-sensitive", Condition: "operation == 'delete'", Action: domain.VerdictEscalate, Priority: 5, Enabled: true},
			{RuleID: "deny-prod", Condition: "resource == 'prod_db'", Action: domain.VerdictDeny, Priority: 10, Enabled: true},
		},
	}
	require.NoError(t, store.StorePolicy(ctx, p))
	require.NoError(t, e.DeployPolicy(ctx, "p1"))

	d, err := e.Evaluate(ctx, "agent-1", map[string]any{"operation": "delete", "resource": "prod_db"})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictDeny, d.Verdict)
	require.Equal(t, 1.0, d.Confidence)
}

func TestEvaluate_EscalateWhenNoDenyMatches(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	p := domain.PolicyDefinition{
		PolicyID: "p2", Active: true,
		Rules: []domain.PolicyRule{
			{RuleID: "escalate-sensitive", Condition: "operation == 'delete'", Action: domain.VerdictEscalate, Priority: 5, Enabled: true},
		},
	}
	require.NoError(t, store.StorePolicy(ctx, p))
	require.NoError(t, e.DeployPolicy(ctx, "p2"))

	d, err := e.Evaluate(ctx, "agent-1", map[string]any{"operation": "delete"})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictEscalate, d.Verdict)
}

func TestEvaluate_DefaultAllowWithLowConfidenceWhenNoMatch(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	d, err := e.Evaluate(ctx, "agent-1", map[string]any{"operation": "read"})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictAllow, d.Verdict)
	require.Equal(t, 0.5, d.Confidence)
}

func TestEvaluate_DisabledRuleIsSkipped(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	p := domain.PolicyDefinition{
		PolicyID: "p3", Active: true,
		Rules: []domain.PolicyRule{
			{RuleID: "deny-all", Condition: "", Action: domain.VerdictDeny, Priority: 1, Enabled: false},
		},
	}
	require.NoError(t, store.StorePolicy(ctx, p))
	require.NoError(t, e.DeployPolicy(ctx, "p3"))

	d, err := e.Evaluate(ctx, "agent-1", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictAllow, d.Verdict)
}
