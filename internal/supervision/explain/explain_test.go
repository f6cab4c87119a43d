// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package explain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/domain"
)

func TestDecision_DenyMentionsDenied(t *testing.T) {
	text := Decision(domain.PolicyDecision{Verdict: domain.VerdictDeny, MatchedRules: []string{"rule-1"}})
	require.Contains(t, text, "DENIED")
	require.Contains(t, text, "rule-1")
}

func TestDecision_NoMatchedRulesExplainsDefaultAllow(t *testing.T) {
	text := Decision(domain.PolicyDecision{Verdict: domain.VerdictAllow})
	require.Contains(t, text, "Default ALLOW applied")
}

func TestViolation_RateLimitIncludesRemediation(t *testing.T) {
	text := Violation(domain.ConstraintViolation{ViolationType: domain.ConstraintRateLimit, CurrentUsage: 10, Limit: 5})
	require.Contains(t, text, "rate limit window")
}

func TestAnomaly_CriticalRecommendsImmediateInvestigation(t *testing.T) {
	text := Anomaly(domain.Anomaly{Severity: domain.SeverityCritical, Description: "spike"})
	require.Contains(t, text, "CRITICAL")
	require.Contains(t, text, "immediate investigation")
}

func TestSummary_CountsVerdictsAndAnomalies(t *testing.T) {
	text := Summary(
		[]domain.PolicyDecision{{Verdict: domain.VerdictAllow}, {Verdict: domain.VerdictDeny}},
		nil,
		[]domain.Anomaly{{Severity: domain.SeverityHigh}},
	)
	require.Contains(t, text, "Allowed: 1")
	require.Contains(t, text, "Denied: 1")
	require.Contains(t, text, "Anomalies Detected: 1")
}
