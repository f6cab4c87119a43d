// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package compliance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/domain"
)

func TestRecordDecision_DenyLowersScore(t *testing.T) {
	m := New()
	m.RecordDecision(domain.PolicyDecision{AgentID: "agent-1", Verdict: domain.VerdictDeny})

	status := m.GetStatus("agent-1")
	require.Equal(t, 1, status.PolicyEvaluations)
	require.Equal(t, 1, status.PolicyViolations)
	require.Equal(t, 95.0, status.ComplianceScore)
	require.Equal(t, "LOW", status.RiskLevel)
}

func TestRecordAnomaly_CriticalForcesCriticalRisk(t *testing.T) {
	m := New()
	m.RecordAnomaly(domain.Anomaly{AgentID: "agent-1", Severity: domain.SeverityCritical})

	status := m.GetStatus("agent-1")
	require.Equal(t, 1, status.CriticalAnomalies)
	require.Equal(t, "CRITICAL", status.RiskLevel)
}

func TestRecordEscalationResolution_DecrementsPending(t *testing.T) {
	m := New()
	m.RecordDecision(domain.PolicyDecision{AgentID: "agent-1", Verdict: domain.VerdictEscalate})
	require.Equal(t, 1, m.GetStatus("agent-1").PendingEscalations)

	m.RecordEscalationResolution("agent-1", domain.EscalationApproved)
	status := m.GetStatus("agent-1")
	require.Equal(t, 0, status.PendingEscalations)
	require.Equal(t, 1, status.ApprovedEscalations)
}

func TestGetSystemStatus_AggregatesAllEntities(t *testing.T) {
	m := New()
	m.RecordDecision(domain.PolicyDecision{AgentID: "agent-1", Verdict: domain.VerdictDeny})
	m.RecordDecision(domain.PolicyDecision{AgentID: "agent-2", Verdict: domain.VerdictDeny})

	sys := m.GetSystemStatus()
	require.Equal(t, 2, sys.PolicyEvaluations)
	require.Equal(t, 2, sys.PolicyViolations)
}

func TestGenerateReport_RecommendsOnCriticalAnomaly(t *testing.T) {
	m := New()
	m.RecordAnomaly(domain.Anomaly{AgentID: "agent-1", Severity: domain.SeverityCritical})

	report := m.GenerateReport("agent-1", 24)
	require.NotEmpty(t, report.Recommendations)
	require.Contains(t, report.Recommendations[0], "URGENT")
}

func TestGenerateReport_DefaultRecommendationWhenClean(t *testing.T) {
	m := New()
	m.RecordDecision(domain.PolicyDecision{AgentID: "agent-1", Verdict: domain.VerdictAllow})

	report := m.GenerateReport("agent-1", 24)
	require.Equal(t, []string{"System operating within normal parameters"}, report.Recommendations)
}
