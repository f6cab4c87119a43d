// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package policy implements PolicyEngine: registering and deploying
// policies, and evaluating a request against the active policy set
// using deny-wins conflict resolution.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
	"guardrail/platform/internal/supervision/expr"
	"guardrail/platform/internal/supervision/metrics"
)

// AuditSink is the logging seam PolicyEngine calls into after every
// evaluation and deployment. The audit package implements this; it is
// declared here (not imported from there) so policy never needs to
// import audit.
type AuditSink interface {
	LogPolicyEvaluation(ctx context.Context, decision domain.PolicyDecision) (string, error)
	LogAction(ctx context.Context, eventType, agentID, actorID string, meta domain.AuditMeta, details map[string]any) (string, error)
}

type logger interface {
	Info(clientID, requestID, message string, fields map[string]any)
	Warn(clientID, requestID, message string, fields map[string]any)
}

// snapshot is the immutable active-policy set swapped atomically on
// refresh so concurrent Evaluate calls never observe a torn update.
type snapshot struct {
	policies []domain.PolicyDefinition
	loadedAt time.Time
}

// Engine is the PolicyEngine component.
type Engine struct {
	store   datastore.Store
	eval    *expr.Evaluator
	audit   AuditSink
	cfg     *config.Config
	metrics *metrics.Metrics
	log     logger

	active    atomic.Pointer[snapshot]
	refreshMu sync.Mutex

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// New builds a PolicyEngine. audit may be nil, in which case
// evaluations are not logged to the audit chain (used in tests).
func New(store datastore.Store, audit AuditSink, cfg *config.Config, m *metrics.Metrics, log logger) *Engine {
	e := &Engine{
		store:   store,
		eval:    expr.NewEvaluator(cfg.PolicyCacheMaxSize),
		audit:   audit,
		cfg:     cfg,
		metrics: m,
		log:     log,
	}
	e.active.Store(&snapshot{})
	return e
}

// RegisterPolicy stores a new policy definition (inactive by default
// until Deploy is called).
func (e *Engine) RegisterPolicy(ctx context.Context, p domain.PolicyDefinition) error {
	if p.PolicyID == "" {
		p.PolicyID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := e.validatePolicy(p); err != nil {
		return err
	}
	if err := e.store.StorePolicy(ctx, p); err != nil {
		return errcode.Wrap(errcode.PolicyDeployFailed, err)
	}
	if e.audit != nil {
		_, _ = e.audit.LogAction(ctx, "policy_registered", "", "", domain.AuditMeta{ActorType: "system", ResourceType: "policy", ResourceID: p.PolicyID}, map[string]any{"policy_id": p.PolicyID, "name": p.Name})
	}
	return nil
}

func (e *Engine) validatePolicy(p domain.PolicyDefinition) error {
	for _, r := range p.Rules {
		if err := e.eval.Validate(r.Condition); err != nil {
			return errcode.Wrap(errcode.PolicyInvalidCondition, err).WithDetails(map[string]any{"rule_id": r.RuleID})
		}
	}
	return nil
}

// DeployPolicy marks a policy active and refreshes the active-policy
// snapshot so subsequent Evaluate calls see it.
func (e *Engine) DeployPolicy(ctx context.Context, policyID string) error {
	p, err := e.store.GetPolicy(ctx, policyID)
	if err != nil {
		return errcode.Wrap(errcode.PolicyNotFound, err)
	}
	p.Active = true
	p.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdatePolicy(ctx, *p); err != nil {
		return errcode.Wrap(errcode.PolicyDeployFailed, err)
	}
	if err := e.refresh(ctx); err != nil {
		return err
	}
	if e.audit != nil {
		_, _ = e.audit.LogAction(ctx, "policy_deployed", "", "", domain.AuditMeta{ActorType: "system", ResourceType: "policy", ResourceID: policyID}, map[string]any{"policy_id": policyID})
	}
	return nil
}

func (e *Engine) refresh(ctx context.Context) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()
	policies, err := e.store.GetActivePolicies(ctx, "")
	if err != nil {
		return errcode.Wrap(errcode.PolicyCacheError, err)
	}
	e.active.Store(&snapshot{policies: policies, loadedAt: time.Now().UTC()})
	return nil
}

func (e *Engine) isExpired(s *snapshot) bool {
	if !e.cfg.EnablePolicyCaching {
		return true
	}
	if s.loadedAt.IsZero() {
		return true
	}
	return time.Since(s.loadedAt) > time.Duration(e.cfg.PolicyCacheTTLSeconds)*time.Second
}

// Evaluate resolves a PolicyDecision for agentID, evaluating every
// active policy against requestContext merged with the agent's
// profile (exposed to conditions as the "agent" name).
func (e *Engine) Evaluate(ctx context.Context, agentID string, requestContext map[string]any) (*domain.PolicyDecision, error) {
	start := time.Now()

	agentCtx, err := e.store.GetAgentContext(ctx, agentID)
	if err != nil {
		return nil, errcode.Wrap(errcode.PolicyContextMissing, err)
	}

	fullCtx := map[string]any{}
	for k, v := range requestContext {
		fullCtx[k] = v
	}
	fullCtx["agent"] = map[string]any{
		"agent_id":    agentCtx.AgentID,
		"team":        agentCtx.Team,
		"department":  agentCtx.Department,
		"permissions": toAnySlice(agentCtx.Permissions),
	}

	snap := e.active.Load()
	if e.isExpired(snap) {
		e.cacheMisses.Add(1)
		if e.metrics != nil {
			e.metrics.PolicyCacheMisses.Inc()
		}
		if err := e.refresh(ctx); err != nil {
			e.log.Warn(agentID, "", "active policy refresh failed", map[string]any{"error": err.Error()})
		}
		snap = e.active.Load()
	} else {
		e.cacheHits.Add(1)
		if e.metrics != nil {
			e.metrics.PolicyCacheHits.Inc()
		}
	}

	budget := time.Duration(e.cfg.PolicyEvaluationTimeoutMS) * time.Millisecond

	verdict := domain.VerdictAllow
	var matchedRules, matchedPolicies []string

	for _, p := range snap.policies {
		if ctx.Err() != nil || (budget > 0 && time.Since(start) > budget) {
			return nil, errcode.New(errcode.EvaluationTimeout).WithDetails(map[string]any{
				"elapsed_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			})
		}
		rules := append([]domain.PolicyRule(nil), p.Rules...)
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

		for _, rule := range rules {
			if !rule.Enabled {
				continue
			}
			matched, err := e.eval.Evaluate(rule.Condition, fullCtx)
			if err != nil {
				e.log.Warn(agentID, "", "policy rule evaluation failed", map[string]any{
					"rule_id": rule.RuleID, "policy_id": p.PolicyID, "error": err.Error(),
				})
				continue
			}
			if !matched {
				continue
			}

			matchedRules = append(matchedRules, rule.RuleID)
			matchedPolicies = append(matchedPolicies, p.PolicyID)

			if e.cfg.DenyWinsRule {
				switch {
				case rule.Action == domain.VerdictDeny:
					verdict = domain.VerdictDeny
				case rule.Action == domain.VerdictEscalate && verdict != domain.VerdictDeny:
					verdict = domain.VerdictEscalate
				}
			} else {
				verdict = rule.Action
			}
		}
	}

	confidence := 0.5
	if len(matchedRules) > 0 {
		confidence = 1.0
	}

	decision := domain.PolicyDecision{
		DecisionID:     uuid.NewString(),
		AgentID:        agentID,
		Verdict:        verdict,
		Confidence:     confidence,
		MatchedRules:   matchedRules,
		Policies:       dedupe(matchedPolicies),
		LatencyMS:      float64(time.Since(start).Microseconds()) / 1000.0,
		RequestContext: requestContext,
		CreatedAt:      time.Now().UTC(),
	}
	decision.Explanation = explain(decision)

	if e.metrics != nil {
		e.metrics.PolicyEvaluations.WithLabelValues(string(verdict)).Inc()
		e.metrics.EvaluationLatency.Observe(decision.LatencyMS)
	}

	if e.audit != nil {
		id, err := e.audit.LogPolicyEvaluation(ctx, decision)
		if err != nil {
			e.log.Warn(agentID, decision.DecisionID, "failed to audit policy evaluation", map[string]any{"error": err.Error()})
		} else {
			decision.AuditEventID = id
		}
	}

	return &decision, nil
}

func explain(d domain.PolicyDecision) string {
	switch d.Verdict {
	case domain.VerdictDeny:
		return fmt.Sprintf("DENIED by rules: %v from policies: %v", d.MatchedRules, d.Policies)
	case domain.VerdictEscalate:
		return fmt.Sprintf("Escalation required by rules: %v from policies: %v", d.MatchedRules, d.Policies)
	default:
		if len(d.MatchedRules) > 0 {
			return fmt.Sprintf("ALLOWED; matched rules: %v", d.MatchedRules)
		}
		return "ALLOWED; no rule matched, default verdict"
	}
}

// GetStats reports the cache hit/miss counters.
func (e *Engine) GetStats() map[string]any {
	return map[string]any{
		"cache_hits":   e.cacheHits.Load(),
		"cache_misses": e.cacheMisses.Load(),
	}
}

// HealthCheck reports engine health.
func (e *Engine) HealthCheck(ctx context.Context) map[string]any {
	return map[string]any{"status": "healthy", "active_policies": len(e.active.Load().policies)}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
