// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/notifier"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
)

type testLogger struct{}

func (testLogger) Info(string, string, string, map[string]any) {}
func (testLogger) Warn(string, string, string, map[string]any) {}

func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *datastore.MemStore) {
	t.Helper()
	store := datastore.NewMemStore()
	n := notifier.NewDevNotifier("test-secret", testLogger{})
	o := New(context.Background(), store, n, nil, cfg, testLogger{})
	t.Cleanup(o.Cleanup)
	return o, store
}

func TestCreateEscalation_PersistsPendingAndNotifiesAsync(t *testing.T) {
	cfg := config.Default()
	cfg.EscalationTimeoutSeconds = 3600
	o, store := newTestOrchestrator(t, cfg)

	w, err := o.CreateEscalation(context.Background(), "decision-1", "suspicious transfer", map[string]any{"amount": 5000}, []string{"approver-1"})
	require.NoError(t, err)
	require.Equal(t, domain.EscalationPending, w.Status)

	require.Eventually(t, func() bool {
		stored, err := store.GetEscalation(context.Background(), w.WorkflowID)
		return err == nil && stored.Status == domain.EscalationNotified
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolve_RequiresMFAWhenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.EscalationTimeoutSeconds = 3600
	cfg.RequireMFAForApproval = true
	o, _ := newTestOrchestrator(t, cfg)

	w, err := o.CreateEscalation(context.Background(), "decision-2", "reason", nil, []string{"approver-1"})
	require.NoError(t, err)

	_, err = o.Resolve(context.Background(), w.WorkflowID, true, "approver-1", "looks fine", "")
	require.Error(t, err)

	resolved, err := o.Resolve(context.Background(), w.WorkflowID, true, "approver-1", "looks fine", "123456")
	require.NoError(t, err)
	require.Equal(t, domain.EscalationApproved, resolved.Status)
	require.True(t, resolved.MFAVerified)
}

func TestResolve_AlreadyResolvedIsRejected(t *testing.T) {
	cfg := config.Default()
	cfg.EscalationTimeoutSeconds = 3600
	cfg.RequireMFAForApproval = false
	o, _ := newTestOrchestrator(t, cfg)

	w, err := o.CreateEscalation(context.Background(), "decision-3", "reason", nil, []string{"approver-1"})
	require.NoError(t, err)

	_, err = o.Resolve(context.Background(), w.WorkflowID, true, "approver-1", "ok", "")
	require.NoError(t, err)

	_, err = o.Resolve(context.Background(), w.WorkflowID, false, "approver-1", "too late", "")
	require.Error(t, err)
}

func TestMonitorTimeout_AutoEscalatesThenTimesOut(t *testing.T) {
	cfg := config.Default()
	cfg.EscalationTimeoutSeconds = 1
	cfg.MaxEscalationLevel = 2
	cfg.RequireMFAForApproval = false
	cfg.EscalationRetryCount = 1
	cfg.EscalationRetryDelaySeconds = 0
	o, store := newTestOrchestrator(t, cfg)

	w, err := o.CreateEscalation(context.Background(), "decision-4", "reason", nil, []string{"approver-1"})
	require.NoError(t, err)
	require.Equal(t, 1, w.EscalationLevel)

	require.Eventually(t, func() bool {
		cur, err := store.GetEscalation(context.Background(), w.WorkflowID)
		return err == nil && cur.Status == domain.EscalationTimedOut
	}, 8*time.Second, 50*time.Millisecond)

	cur, err := store.GetEscalation(context.Background(), w.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, 2, cur.EscalationLevel)
	require.Equal(t, "Automatically timed out after maximum escalation level", cur.ResolutionNotes)
}

func TestResolve_TimeoutNeverOverwritesResolvedWorkflow(t *testing.T) {
	cfg := config.Default()
	cfg.EscalationTimeoutSeconds = 1
	cfg.MaxEscalationLevel = 1
	cfg.RequireMFAForApproval = false
	cfg.EscalationRetryCount = 1
	cfg.EscalationRetryDelaySeconds = 0
	o, store := newTestOrchestrator(t, cfg)

	w, err := o.CreateEscalation(context.Background(), "decision-5", "reason", nil, []string{"approver-1"})
	require.NoError(t, err)

	resolved, err := o.Resolve(context.Background(), w.WorkflowID, true, "approver-1", "ok", "")
	require.NoError(t, err)
	require.Equal(t, domain.EscalationApproved, resolved.Status)

	// Wait well past the timeout budget; the cancelled monitor must not
	// move the workflow out of its terminal state.
	time.Sleep(2500 * time.Millisecond)
	cur, err := store.GetEscalation(context.Background(), w.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, domain.EscalationApproved, cur.Status)
}

func TestResolve_UnknownWorkflow(t *testing.T) {
	cfg := config.Default()
	o, _ := newTestOrchestrator(t, cfg)
	_, err := o.Resolve(context.Background(), "missing", true, "a", "n", "")
	require.Error(t, err)
}
