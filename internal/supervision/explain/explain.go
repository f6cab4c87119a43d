// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package explain generates human-readable explanations for policy
// decisions, constraint violations, escalation workflows, and
// anomalies, for operators reviewing what the supervision core did
// and why.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"guardrail/platform/internal/supervision/domain"
)

// Decision renders a PolicyDecision as a short narrative: a header
// naming the verdict, which rules matched (if any), and the
// decision's confidence/latency.
func Decision(d domain.PolicyDecision) string {
	var b strings.Builder
	switch d.Verdict {
	case domain.VerdictAllow:
		b.WriteString("ACCESS ALLOWED\n\n")
	case domain.VerdictDeny:
		b.WriteString("ACCESS DENIED\n\n")
	default:
		b.WriteString("ESCALATION REQUIRED\n\n")
	}

	if len(d.MatchedRules) == 0 {
		b.WriteString("No policies matched this request. Default ALLOW applied.\n")
	} else {
		fmt.Fprintf(&b, "Matched %d policy rule(s): %s\n", len(d.MatchedRules), strings.Join(d.MatchedRules, ", "))
	}

	if op, ok := d.RequestContext["operation"]; ok {
		fmt.Fprintf(&b, "\nRequest Context:\n  Operation: %v\n", op)
	}

	fmt.Fprintf(&b, "\nDecision ID: %s\n", d.DecisionID)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", d.Confidence*100)
	fmt.Fprintf(&b, "Latency: %.2fms\n", d.LatencyMS)
	return b.String()
}

// Violation renders a ConstraintViolation with remediation guidance
// specific to its type.
func Violation(v domain.ConstraintViolation) string {
	var b strings.Builder
	b.WriteString("CONSTRAINT VIOLATION\n\n")
	name := v.ConstraintName
	if name == "" {
		name = v.ConstraintID
	}
	fmt.Fprintf(&b, "Constraint: %s\nType: %s\n\n", name, v.ViolationType)
	fmt.Fprintf(&b, "Current Usage: %.2f\nLimit: %.2f\nOverage: %.2f\n\n", v.CurrentUsage, v.Limit, v.CurrentUsage-v.Limit)

	switch v.ViolationType {
	case domain.ConstraintRateLimit:
		b.WriteString("Remediation: wait for the rate limit window to reset, or request a limit increase.\n")
	case domain.ConstraintQuota:
		b.WriteString("Remediation: request additional quota allocation from an administrator.\n")
	case domain.ConstraintResourceCap:
		b.WriteString("Remediation: release unused resources or request a higher resource cap.\n")
	}
	return b.String()
}

// Escalation renders an EscalationWorkflow's current state, approver
// list, and deadline.
func Escalation(w domain.EscalationWorkflow) string {
	var b strings.Builder
	b.WriteString("ESCALATION REQUIRED\n\n")
	fmt.Fprintf(&b, "Reason: %s\nStatus: %s\nLevel: %d\n\n", w.Reason, w.Status, w.EscalationLevel)

	if len(w.Context) > 0 {
		b.WriteString("Context:\n")
		keys := make([]string, 0, len(w.Context))
		for k := range w.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, w.Context[k])
		}
		b.WriteString("\n")
	}

	if len(w.Approvers) > 0 {
		fmt.Fprintf(&b, "Pending approval from: %s\n", strings.Join(w.Approvers, ", "))
	}
	if w.AssignedTo != "" {
		fmt.Fprintf(&b, "Assigned to: %s\n", w.AssignedTo)
	}
	if !w.TimeoutAt.IsZero() {
		fmt.Fprintf(&b, "Timeout: %s\n", w.TimeoutAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return b.String()
}

// Anomaly renders an Anomaly with severity-specific investigation
// guidance.
func Anomaly(a domain.Anomaly) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ANOMALY DETECTED - Severity: %s\n\n%s\n\n", a.Severity, a.Description)
	fmt.Fprintf(&b, "Metric: %s\nAgent: %s\n\n", a.MetricName, a.AgentID)
	fmt.Fprintf(&b, "Baseline Value: %.4f\nObserved Value: %.4f\nZ-Score: %.2f\nDetection Method: %s\nConfidence: %.0f%%\n\n",
		a.BaselineValue, a.Value, a.ZScore, a.DetectionMethod, a.Confidence*100)

	switch a.Severity {
	case domain.SeverityCritical:
		b.WriteString("CRITICAL: immediate investigation recommended. This deviation is significantly outside normal operating parameters.\n")
	case domain.SeverityHigh:
		b.WriteString("HIGH: prompt investigation recommended. This deviation exceeds the 3-sigma threshold.\n")
	case domain.SeverityMedium:
		b.WriteString("MEDIUM: monitor for persistence. This deviation is notable but within acceptable variance.\n")
	default:
		b.WriteString("LOW: minor deviation detected. Consider reviewing if the pattern continues.\n")
	}
	return b.String()
}

// Summary renders an activity report over a batch of decisions,
// violations, and anomalies.
func Summary(decisions []domain.PolicyDecision, violations []domain.ConstraintViolation, anomalies []domain.Anomaly) string {
	var b strings.Builder
	b.WriteString("SUPERVISION SUMMARY\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	var allow, deny, escalate int
	for _, d := range decisions {
		switch d.Verdict {
		case domain.VerdictAllow:
			allow++
		case domain.VerdictDeny:
			deny++
		case domain.VerdictEscalate:
			escalate++
		}
	}
	fmt.Fprintf(&b, "Policy Decisions: %d\n  - Allowed: %d\n  - Denied: %d\n  - Escalated: %d\n\n", len(decisions), allow, deny, escalate)

	fmt.Fprintf(&b, "Constraint Violations: %d\n", len(violations))
	if len(violations) > 0 {
		byType := map[domain.ConstraintType]int{}
		for _, v := range violations {
			byType[v.ViolationType]++
		}
		for t, c := range byType {
			fmt.Fprintf(&b, "  - %s: %d\n", t, c)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Anomalies Detected: %d\n", len(anomalies))
	if len(anomalies) > 0 {
		bySeverity := map[domain.AnomalySeverity]int{}
		for _, a := range anomalies {
			bySeverity[a.Severity]++
		}
		for s, c := range bySeverity {
			fmt.Fprintf(&b, "  - %s: %d\n", s, c)
		}
	}
	return b.String()
}
