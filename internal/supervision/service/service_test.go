// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/adapters/counterstore"
	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/notifier"
	"guardrail/platform/internal/supervision/adapters/signing"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
)

type testLogger struct{}

func (testLogger) Info(string, string, string, map[string]any) {}
func (testLogger) Warn(string, string, string, map[string]any) {}

func newTestService(t *testing.T) *SupervisionService {
	t.Helper()
	cfg := config.Default()
	cfg.RequireMFAForApproval = false

	signer, err := signing.NewDevSigner()
	require.NoError(t, err)

	svc, err := New(context.Background(), Deps{
		Store:         datastore.NewMemStore(),
		Counter:       counterstore.NewMemStore(),
		Signer:        signer,
		Notifier:      notifier.NewDevNotifier("test-secret", testLogger{}),
		Config:        cfg,
		MetricsPrefix: "",
		Log:           testLogger{},
		SessionSecret: []byte("test-secret"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc
}

func TestEvaluateRequest_DefaultAllowWithNoPolicies(t *testing.T) {
	svc := newTestService(t)
	result, err := svc.EvaluateRequest(context.Background(), "agent-1", "read", map[string]any{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.VerdictAllow, result.Decision.Verdict)
	require.Nil(t, result.Escalation)
}

func TestEvaluateRequest_EscalateVerdictOpensWorkflow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	err := svc.Policy.RegisterPolicy(ctx, domain.PolicyDefinition{
		PolicyID: "p1", Name: "escalate-deploys",
		Rules: []domain.PolicyRule{{RuleID: "r1", Condition: `operation == "deploy"`, Action: domain.VerdictEscalate, Priority: 1, Enabled: true}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Policy.DeployPolicy(ctx, "p1"))

	result, err := svc.EvaluateRequest(ctx, "agent-1", "deploy", map[string]any{}, nil, []string{"approver-1"})
	require.NoError(t, err)
	require.Equal(t, domain.VerdictEscalate, result.Decision.Verdict)
	require.NotNil(t, result.Escalation)

	status := svc.GetCompliance("agent-1")
	require.Equal(t, 1, status.PendingEscalations)
}

func TestResolve_ApprovedFoldsIntoCompliance(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w, err := svc.CreateEscalation(ctx, "decision-1", "manual review", map[string]any{"agent_id": "agent-1"}, []string{"approver-1"})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, w.WorkflowID, true, "approver-1", "looks fine", "")
	require.NoError(t, err)
	require.Equal(t, domain.EscalationApproved, resolved.Status)

	status := svc.GetCompliance("agent-1")
	require.Equal(t, 1, status.ApprovedEscalations)
}

func TestRecordMetric_FlagsAnomalyAfterBaseline(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Small jitter so the baseline has nonzero variance/IQR for the
	// detector's z-score and IQR checks to compare the spike against.
	values := []float64{98, 99, 100, 101, 102, 99, 100, 101, 100, 99}
	for i := 0; i < 4; i++ {
		for _, v := range values {
			_, err := svc.RecordMetric(ctx, "agent-1", "latency_ms", v, true)
			require.NoError(t, err)
		}
	}

	a, err := svc.RecordMetric(ctx, "agent-1", "latency_ms", 100000, true)
	require.NoError(t, err)
	require.NotNil(t, a)

	status := svc.GetCompliance("agent-1")
	require.Equal(t, 1, status.AnomaliesDetected)
}

func TestVerifyAuditChain_ValidAfterActivity(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.EvaluateRequest(context.Background(), "agent-1", "read", map[string]any{}, nil, nil)
	require.NoError(t, err)

	valid, checked, _, err := svc.VerifyAuditChain(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, valid)
	require.GreaterOrEqual(t, checked, 1)
}

func TestHealth_ReportsHealthy(t *testing.T) {
	svc := newTestService(t)
	h := svc.Health(context.Background())
	require.Equal(t, "healthy", h["status"])
}
