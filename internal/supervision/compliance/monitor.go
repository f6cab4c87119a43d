// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package compliance implements ComplianceMonitor: per-entity rolling
// aggregates over policy decisions, constraint violations, and
// anomalies, reduced to a 0-100 compliance score and a risk level.
package compliance

import (
	"fmt"
	"sync"
	"time"

	"guardrail/platform/internal/supervision/domain"
)

// Monitor is the ComplianceMonitor component. All counters are
// process-local; the supervision core does not need cross-replica
// aggregation for this derived view.
type Monitor struct {
	mu       sync.Mutex
	statuses map[string]*domain.ComplianceStatus

	decisions  int
	violations int
	anomalies  int
}

// New builds a ComplianceMonitor.
func New() *Monitor {
	return &Monitor{statuses: make(map[string]*domain.ComplianceStatus)}
}

func (m *Monitor) statusFor(key, entityID, entityType string) *domain.ComplianceStatus {
	s, ok := m.statuses[key]
	if !ok {
		now := time.Now().UTC()
		s = &domain.ComplianceStatus{
			EntityID:        entityID,
			EntityType:      entityType,
			RiskLevel:       "LOW",
			ComplianceScore: 100,
			PeriodStart:     now.Add(-24 * time.Hour),
			PeriodEnd:       now,
		}
		m.statuses[key] = s
	}
	return s
}

// RecordDecision folds a policy decision's verdict into agentID's
// running status.
func (m *Monitor) RecordDecision(d domain.PolicyDecision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions++

	s := m.statusFor("agent:"+d.AgentID, d.AgentID, "agent")
	s.PolicyEvaluations++
	switch d.Verdict {
	case domain.VerdictDeny:
		s.PolicyViolations++
	case domain.VerdictEscalate:
		s.PolicyEscalations++
		s.PendingEscalations++
	}
	m.recompute(s)
}

// RecordViolation folds a constraint violation into the status.
func (m *Monitor) RecordViolation(v domain.ConstraintViolation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations++

	s := m.statusFor("agent:"+v.AgentID, v.AgentID, "agent")
	s.ConstraintChecks++
	s.ConstraintViolations++
	m.recompute(s)
}

// RecordAnomaly folds a detected anomaly into the status.
func (m *Monitor) RecordAnomaly(a domain.Anomaly) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies++

	s := m.statusFor("agent:"+a.AgentID, a.AgentID, "agent")
	s.AnomaliesDetected++
	if a.Severity == domain.SeverityCritical {
		s.CriticalAnomalies++
	}
	if !a.Acknowledged {
		s.UnacknowledgedAnoms++
	}
	m.recompute(s)
}

// RecordEscalationResolution moves an entity's pending-escalation
// counter into its terminal bucket.
func (m *Monitor) RecordEscalationResolution(agentID string, status domain.EscalationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.statusFor("agent:"+agentID, agentID, "agent")
	if s.PendingEscalations > 0 {
		s.PendingEscalations--
	}
	switch status {
	case domain.EscalationApproved:
		s.ApprovedEscalations++
	case domain.EscalationRejected:
		s.RejectedEscalations++
	case domain.EscalationTimedOut:
		s.TimeoutEscalations++
	}
	m.recompute(s)
}

// recompute re-derives compliance_score and risk_level from the
// status's counters. Score starts at 100 and is penalized -5 per
// policy violation, -3 per constraint violation, -2 per non-critical
// anomaly, -10 per critical anomaly, and -5 per pending escalation,
// clamped to [0, 100].
func (m *Monitor) recompute(s *domain.ComplianceStatus) {
	score := 100.0
	score -= float64(s.PolicyViolations) * 5
	score -= float64(s.ConstraintViolations) * 3
	score -= float64(s.AnomaliesDetected-s.CriticalAnomalies) * 2
	score -= float64(s.CriticalAnomalies) * 10
	score -= float64(s.PendingEscalations) * 5
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	s.ComplianceScore = score

	switch {
	case s.CriticalAnomalies > 0 || score < 40:
		s.RiskLevel = "CRITICAL"
	case score < 60:
		s.RiskLevel = "HIGH"
	case score < 80:
		s.RiskLevel = "MEDIUM"
	default:
		s.RiskLevel = "LOW"
	}
	s.LastUpdated = time.Now().UTC()
}

// GetStatus returns entityID's current compliance status, creating an
// empty one (score 100, risk LOW) if nothing has been recorded yet.
func (m *Monitor) GetStatus(entityID string) domain.ComplianceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statusFor("agent:"+entityID, entityID, "agent")
	return *s
}

// GetSystemStatus aggregates every tracked entity into one
// system-wide status.
func (m *Monitor) GetSystemStatus() domain.ComplianceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	sys := domain.ComplianceStatus{
		EntityID: "system", EntityType: "system",
		RiskLevel: "LOW", ComplianceScore: 100,
		PeriodStart: now.Add(-24 * time.Hour), PeriodEnd: now,
	}
	for _, s := range m.statuses {
		sys.PolicyEvaluations += s.PolicyEvaluations
		sys.PolicyViolations += s.PolicyViolations
		sys.PolicyEscalations += s.PolicyEscalations
		sys.ConstraintChecks += s.ConstraintChecks
		sys.ConstraintViolations += s.ConstraintViolations
		sys.AnomaliesDetected += s.AnomaliesDetected
		sys.CriticalAnomalies += s.CriticalAnomalies
		sys.UnacknowledgedAnoms += s.UnacknowledgedAnoms
		sys.PendingEscalations += s.PendingEscalations
		sys.ApprovedEscalations += s.ApprovedEscalations
		sys.RejectedEscalations += s.RejectedEscalations
		sys.TimeoutEscalations += s.TimeoutEscalations
	}
	m.recompute(&sys)
	return sys
}

// Report is a compliance report: the status summary plus derived
// rates and remediation recommendations.
type Report struct {
	Summary         domain.ComplianceStatus `json:"summary"`
	PeriodHours     int                     `json:"period_hours"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Metrics         map[string]float64      `json:"metrics"`
	Recommendations []string                `json:"recommendations"`
}

// GenerateReport builds a Report for entityID, or the system-wide
// status if entityID is empty.
func (m *Monitor) GenerateReport(entityID string, periodHours int) Report {
	var status domain.ComplianceStatus
	if entityID != "" {
		status = m.GetStatus(entityID)
	} else {
		status = m.GetSystemStatus()
	}

	resolvedTotal := status.ApprovedEscalations + status.RejectedEscalations + status.PendingEscalations + status.TimeoutEscalations

	return Report{
		Summary:     status,
		PeriodHours: periodHours,
		GeneratedAt: time.Now().UTC(),
		Metrics: map[string]float64{
			"policy_compliance_rate":      rate(status.PolicyEvaluations-status.PolicyViolations, status.PolicyEvaluations),
			"constraint_compliance_rate":  rate(status.ConstraintChecks-status.ConstraintViolations, status.ConstraintChecks),
			"escalation_resolution_rate":  rate(status.ApprovedEscalations+status.RejectedEscalations, resolvedTotal),
		},
		Recommendations: recommendations(status),
	}
}

func rate(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 100.0
	}
	return float64(numerator) / float64(denominator) * 100
}

func recommendations(s domain.ComplianceStatus) []string {
	var recs []string
	if s.CriticalAnomalies > 0 {
		recs = append(recs, fmt.Sprintf("URGENT: %d critical anomalies require immediate investigation", s.CriticalAnomalies))
	}
	if s.PendingEscalations > 0 {
		recs = append(recs, fmt.Sprintf("Review %d pending escalations to avoid timeouts", s.PendingEscalations))
	}
	if s.ConstraintViolations > 5 {
		recs = append(recs, "High constraint violation rate - consider reviewing resource limits")
	}
	if s.PolicyEvaluations > 0 && float64(s.PolicyViolations) > float64(s.PolicyEvaluations)*0.1 {
		recs = append(recs, "Policy violation rate exceeds 10% - review agent permissions and training")
	}
	if s.UnacknowledgedAnoms > 0 {
		recs = append(recs, fmt.Sprintf("Acknowledge %d anomalies to maintain oversight", s.UnacknowledgedAnoms))
	}
	if len(recs) == 0 {
		recs = append(recs, "System operating within normal parameters")
	}
	return recs
}

// GetStats reports monitor counters.
func (m *Monitor) GetStats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"entities_tracked": len(m.statuses),
		"total_decisions":  m.decisions,
		"total_violations": m.violations,
		"total_anomalies":  m.anomalies,
	}
}

// HealthCheck reports monitor health.
func (m *Monitor) HealthCheck() map[string]any {
	return map[string]any{"status": "healthy", "stats": m.GetStats()}
}
