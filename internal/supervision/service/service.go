// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package service composes every supervision component behind
// SupervisionService, the single façade the supervisor package wires to HTTP:
// PolicyEngine, ConstraintEnforcer, AnomalyDetector,
// EscalationOrchestrator, AuditLog, AccessControl, ComplianceMonitor,
// and the DecisionExplainer supplement, all backed by the DataStore/
// CounterStore/SigningAdapter/NotifierAdapter contracts.
package service

import (
	"context"
	"errors"
	"time"

	"guardrail/platform/internal/supervision/access"
	"guardrail/platform/internal/supervision/adapters/counterstore"
	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/notifier"
	"guardrail/platform/internal/supervision/adapters/signing"
	"guardrail/platform/internal/supervision/anomaly"
	"guardrail/platform/internal/supervision/audit"
	"guardrail/platform/internal/supervision/compliance"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/constraint"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
	"guardrail/platform/internal/supervision/escalation"
	"guardrail/platform/internal/supervision/explain"
	"guardrail/platform/internal/supervision/metrics"
	"guardrail/platform/internal/supervision/policy"
)

type logger interface {
	Info(clientID, requestID, message string, fields map[string]any)
	Warn(clientID, requestID, message string, fields map[string]any)
}

// SupervisionService is the L08 façade: the single entry point every
// transport (HTTP, in-process caller) drives instead of reaching into
// individual components directly.
type SupervisionService struct {
	Policy     *policy.Engine
	Constraint *constraint.Enforcer
	Anomaly    *anomaly.Detector
	Escalation *escalation.Orchestrator
	Audit      *audit.Log
	Access     *access.Control
	Compliance *compliance.Monitor

	store datastore.Store
	cfg   *config.Config
	log   logger
}

// Deps groups the constructed adapters New assembles a
// SupervisionService from, so the supervisor package only has to build
// adapters once and hand them here.
type Deps struct {
	Store         datastore.Store
	Counter       counterstore.Store
	Signer        signing.Signer
	Notifier      notifier.Notifier
	Config        *config.Config
	MetricsPrefix string
	Log           logger
	SessionSecret []byte
}

// New wires every component over the supplied adapters. bg is the
// long-lived context escalation timeout monitors run under.
func New(bg context.Context, d Deps) (*SupervisionService, error) {
	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}

	auditLog, err := audit.New(bg, d.Store, d.Signer, cfg, d.Log)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(d.MetricsPrefix)
	}

	svc := &SupervisionService{
		Policy:     policy.New(d.Store, auditLog, cfg, m, d.Log),
		Constraint: constraint.New(d.Store, d.Counter, auditLog, cfg),
		Anomaly:    anomaly.New(d.Store, auditLog, cfg),
		Escalation: escalation.New(bg, d.Store, d.Notifier, auditLog, cfg, d.Log),
		Audit:      auditLog,
		Access:     access.New(cfg, d.SessionSecret),
		Compliance: compliance.New(),
		store:      d.Store,
		cfg:        cfg,
		log:        d.Log,
	}
	return svc, nil
}

// EvaluateResult bundles a PolicyDecision with its human-readable
// explanation and, when the verdict is ESCALATE, the workflow opened
// on the caller's behalf.
type EvaluateResult struct {
	Decision    domain.PolicyDecision
	Explanation string
	Escalation  *domain.EscalationWorkflow
}

// EvaluateRequest runs the full decision pipeline: PolicyEngine
// evaluates the request, the resulting verdict is folded into
// ComplianceMonitor, and an ESCALATE verdict opens an
// EscalationOrchestrator workflow automatically so callers never have
// to orchestrate that hand-off themselves. operation and resource are
// folded into the evaluation context under "operation" and "resource",
// alongside any extra context the caller supplies.
func (s *SupervisionService) EvaluateRequest(ctx context.Context, agentID, operation string, resource map[string]any, extra map[string]any, approvers []string) (*EvaluateResult, error) {
	requestContext := map[string]any{
		"operation": operation,
		"resource":  resource,
	}
	for k, v := range extra {
		requestContext[k] = v
	}

	decision, err := s.Policy.Evaluate(ctx, agentID, requestContext)
	if err != nil {
		return nil, err
	}
	s.Compliance.RecordDecision(*decision)

	result := &EvaluateResult{Decision: *decision, Explanation: explain.Decision(*decision)}

	if decision.Verdict == domain.VerdictEscalate {
		w, err := s.Escalation.CreateEscalation(ctx, decision.DecisionID, decision.Explanation, requestContext, approvers)
		if err != nil {
			s.log.Warn(agentID, decision.DecisionID, "failed to open escalation for ESCALATE verdict", map[string]any{"error": err.Error()})
		} else {
			result.Escalation = w
		}
	}

	return result, nil
}

// CheckConstraint enforces constraintID against agentID's usage,
// returning nil when the constraint passes. operation is only
// consulted by OPERATION_RESTRICTION constraints.
func (s *SupervisionService) CheckConstraint(ctx context.Context, agentID, constraintID string, usage float64, operation string) error {
	err := s.Constraint.CheckConstraint(ctx, agentID, constraintID, usage, operation)
	if err != nil {
		if latest := s.Constraint.GetViolations(agentID, 1); len(latest) > 0 {
			s.Compliance.RecordViolation(latest[0])
		}
	}
	return err
}

// RecordMetric folds value into agentID/metric's rolling baseline
// and, when detect is set, runs anomaly detection against the updated
// baseline in the same call.
func (s *SupervisionService) RecordMetric(ctx context.Context, agentID, metric string, value float64, detect bool) (*domain.Anomaly, error) {
	s.Anomaly.RecordObservation(agentID, metric, value)
	if !detect {
		return nil, nil
	}
	a, err := s.Anomaly.Detect(ctx, agentID, metric, value)
	if err != nil {
		var cerr *errcode.Error
		if errors.As(err, &cerr) && cerr.Code == errcode.InsufficientBaselineData {
			return nil, nil
		}
		return nil, err
	}
	if a != nil {
		s.Compliance.RecordAnomaly(*a)
	}
	return a, nil
}

// SetBaseline seeds agentID/metric's baseline from historical values
// instead of accumulating live observations. At least
// min_baseline_samples values are required.
func (s *SupervisionService) SetBaseline(agentID, metric string, values []float64) error {
	return s.Anomaly.SetBaselineFromValues(agentID, metric, values)
}

// CreateEscalation opens a workflow outside the automatic
// EvaluateRequest path, e.g. for manual escalation of an out-of-band
// concern.
func (s *SupervisionService) CreateEscalation(ctx context.Context, decisionID, reason string, reqContext map[string]any, approvers []string) (*domain.EscalationWorkflow, error) {
	return s.Escalation.CreateEscalation(ctx, decisionID, reason, reqContext, approvers)
}

// Resolve approves or rejects a pending escalation and folds the
// outcome into ComplianceMonitor.
func (s *SupervisionService) Resolve(ctx context.Context, workflowID string, approved bool, resolvedBy, notes, mfaToken string) (*domain.EscalationWorkflow, error) {
	w, err := s.Escalation.Resolve(ctx, workflowID, approved, resolvedBy, notes, mfaToken)
	if err != nil {
		return nil, err
	}
	agentID := ""
	if ctxVal, ok := w.Context["agent_id"].(string); ok {
		agentID = ctxVal
	}
	s.Compliance.RecordEscalationResolution(agentID, w.Status)
	return w, nil
}

// QueryAudit returns matching audit entries.
func (s *SupervisionService) QueryAudit(ctx context.Context, filters datastore.AuditQueryFilters, limit, offset int) ([]domain.AuditEntry, error) {
	return s.Audit.Query(ctx, filters, limit, offset)
}

// VerifyAuditChain re-derives every audit entry's hash from genesis,
// or over the [start, end] window (unix seconds) when bounds are
// given.
func (s *SupervisionService) VerifyAuditChain(ctx context.Context, start, end *int64) (valid bool, entriesChecked int, firstInvalidID string, err error) {
	return s.Audit.VerifyChain(ctx, start, end)
}

// GetCompliance returns entityID's compliance status, or the
// system-wide aggregate if entityID is empty.
func (s *SupervisionService) GetCompliance(entityID string) domain.ComplianceStatus {
	if entityID == "" {
		return s.Compliance.GetSystemStatus()
	}
	return s.Compliance.GetStatus(entityID)
}

// GenerateComplianceReport builds a full compliance.Report for
// entityID (or system-wide) covering the last periodHours.
func (s *SupervisionService) GenerateComplianceReport(entityID string, periodHours int) compliance.Report {
	return s.Compliance.GenerateReport(entityID, periodHours)
}

// RequirePermission is the access-control guard HTTP handlers call
// before performing an administrative action.
func (s *SupervisionService) RequirePermission(userID, permission string) error {
	return s.Access.CheckPermission(userID, permission)
}

// Health aggregates every component's HealthCheck into one payload,
// degrading overall status if any dependency reports unhealthy.
func (s *SupervisionService) Health(ctx context.Context) map[string]any {
	components := map[string]any{
		"policy":     s.Policy.HealthCheck(ctx),
		"constraint": s.Constraint.HealthCheck(ctx),
		"anomaly":    s.Anomaly.HealthCheck(ctx),
		"escalation": s.Escalation.HealthCheck(ctx),
		"audit":      s.Audit.HealthCheck(ctx),
		"datastore":  s.store.HealthCheck(ctx),
	}
	status := "healthy"
	for _, c := range components {
		if m, ok := c.(map[string]any); ok {
			if st, ok := m["status"].(string); ok && st != "healthy" {
				status = "degraded"
			}
		}
	}
	return map[string]any{"status": status, "components": components, "checked_at": time.Now().UTC()}
}

// Stats aggregates every component's counters.
func (s *SupervisionService) Stats() map[string]any {
	return map[string]any{
		"policy":     s.Policy.GetStats(),
		"constraint": s.Constraint.GetStats(),
		"anomaly":    s.Anomaly.GetStats(),
		"escalation": s.Escalation.GetStats(),
		"audit":      s.Audit.GetStats(),
		"access":     s.Access.GetStats(),
	}
}

// Shutdown stops every background goroutine (escalation timeout
// monitors) and closes the datastore connection.
func (s *SupervisionService) Shutdown() error {
	s.Escalation.Cleanup()
	return s.store.Close()
}
