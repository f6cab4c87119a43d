// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package constraint implements ConstraintEnforcer: rate limits,
// quotas, resource caps, and temporal (business-hours/weekday)
// constraints, backed by a CounterStore for the atomic counters.
package constraint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardrail/platform/internal/supervision/adapters/counterstore"
	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
)

// AuditSink is the logging seam for constraint violations.
type AuditSink interface {
	LogConstraintViolation(ctx context.Context, v domain.ConstraintViolation) (string, error)
	LogAction(ctx context.Context, eventType, agentID, actorID string, meta domain.AuditMeta, details map[string]any) (string, error)
}

var weekdayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Enforcer is the ConstraintEnforcer component.
type Enforcer struct {
	store   datastore.Store
	counter counterstore.Store
	audit   AuditSink
	cfg     *config.Config

	mu         sync.Mutex
	violations []domain.ConstraintViolation
}

// New builds a ConstraintEnforcer.
func New(store datastore.Store, counter counterstore.Store, audit AuditSink, cfg *config.Config) *Enforcer {
	return &Enforcer{store: store, counter: counter, audit: audit, cfg: cfg}
}

// CreateConstraint registers a new constraint.
func (e *Enforcer) CreateConstraint(ctx context.Context, c domain.Constraint) error {
	if c.ConstraintID == "" {
		c.ConstraintID = uuid.NewString()
	}
	if err := e.store.StoreConstraint(ctx, c); err != nil {
		return errcode.Wrap(errcode.ConstraintInvalid, err)
	}
	if e.audit != nil {
		_, _ = e.audit.LogAction(ctx, "constraint_created", c.AgentID, "", domain.AuditMeta{ActorType: "system", ResourceType: "constraint", ResourceID: c.ConstraintID}, map[string]any{"constraint_id": c.ConstraintID})
	}
	return nil
}

func (e *Enforcer) getConstraint(ctx context.Context, constraintID string) (*domain.Constraint, error) {
	c, err := e.store.GetConstraint(ctx, constraintID)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConstraintNotFound, err)
	}
	return c, nil
}

// CheckConstraint dispatches to the appropriate check by constraint
// type, returning nil if the check passes. operation is only
// consulted by OPERATION_RESTRICTION constraints.
func (e *Enforcer) CheckConstraint(ctx context.Context, agentID, constraintID string, usage float64, operation string) error {
	c, err := e.getConstraint(ctx, constraintID)
	if err != nil {
		return err
	}
	switch c.ConstraintType {
	case domain.ConstraintRateLimit:
		return e.CheckRateLimit(ctx, agentID, constraintID, usage)
	case domain.ConstraintQuota:
		return e.CheckQuota(ctx, agentID, constraintID, usage)
	case domain.ConstraintResourceCap:
		return e.CheckResourceCap(ctx, agentID, constraintID, usage)
	case domain.ConstraintTemporal:
		if !c.Enabled {
			return nil
		}
		return e.checkTemporal(ctx, agentID, c)
	case domain.ConstraintOperationRestrict:
		return e.checkOperationRestriction(ctx, agentID, c, operation)
	default:
		return errcode.New(errcode.ConstraintInvalid)
	}
}

// checkOperationRestriction denies unless operation appears in c's
// configured allow-set.
func (e *Enforcer) checkOperationRestriction(ctx context.Context, agentID string, c *domain.Constraint, operation string) error {
	if !c.Enabled {
		return nil
	}
	for _, allowed := range c.AllowedOperations {
		if allowed == operation {
			return nil
		}
	}
	e.recordViolation(ctx, c, agentID, 0, domain.ConstraintOperationRestrict,
		fmt.Sprintf("operation %q is not permitted", operation))
	return errcode.New(errcode.ConstraintViolation).WithDetails(map[string]any{"operation": operation})
}

// CheckRateLimit enforces c's rate limit via the CounterStore's
// atomic token bucket, checking any attached temporal config first.
func (e *Enforcer) CheckRateLimit(ctx context.Context, agentID, constraintID string, requested float64) error {
	c, err := e.getConstraint(ctx, constraintID)
	if err != nil {
		return err
	}
	if !c.Enabled {
		return nil
	}
	if c.TemporalConfig != nil {
		if err := e.checkTemporal(ctx, agentID, c); err != nil {
			return err
		}
	}
	if requested <= 0 {
		requested = 1
	}

	key := fmt.Sprintf("ratelimit:%s:%s", agentID, constraintID)
	window := c.WindowSeconds
	if window <= 0 {
		window = e.cfg.RateLimitWindowSeconds
	}

	res, err := e.counter.CheckRateLimit(ctx, key, c.Limit, window, requested)
	if err != nil {
		if e.cfg.AllowOnConsensusFail {
			return nil
		}
		return errcode.Wrap(errcode.ConsensusTimeout, err)
	}
	if !res.Allowed {
		e.recordViolation(ctx, c, agentID, c.Limit-res.Remaining, domain.ConstraintRateLimit,
			fmt.Sprintf("rate limit exceeded (%.0f/%.0f remaining)", res.Remaining, c.Limit))
		return errcode.New(errcode.RateLimitExceeded).WithDetails(map[string]any{"remaining": res.Remaining, "limit": c.Limit})
	}
	return nil
}

// CheckQuota enforces a simple usage > limit check.
func (e *Enforcer) CheckQuota(ctx context.Context, agentID, constraintID string, usage float64) error {
	c, err := e.getConstraint(ctx, constraintID)
	if err != nil {
		return err
	}
	if !c.Enabled {
		return nil
	}
	if usage > c.Limit {
		e.recordViolation(ctx, c, agentID, usage, domain.ConstraintQuota, fmt.Sprintf("quota exceeded (%.2f/%.2f)", usage, c.Limit))
		return errcode.New(errcode.QuotaExceeded)
	}
	return nil
}

// CheckResourceCap enforces a simple resourceCount > limit check.
func (e *Enforcer) CheckResourceCap(ctx context.Context, agentID, constraintID string, resourceCount float64) error {
	c, err := e.getConstraint(ctx, constraintID)
	if err != nil {
		return err
	}
	if !c.Enabled {
		return nil
	}
	if resourceCount > c.Limit {
		e.recordViolation(ctx, c, agentID, resourceCount, domain.ConstraintResourceCap, fmt.Sprintf("resource cap exceeded (%.2f/%.2f)", resourceCount, c.Limit))
		return errcode.New(errcode.ResourceCapExceeded)
	}
	return nil
}

func (e *Enforcer) checkTemporal(ctx context.Context, agentID string, c *domain.Constraint) error {
	tc := c.TemporalConfig
	if tc == nil {
		return nil
	}
	now := time.Now().UTC()
	if tc.Timezone != "" {
		if loc, err := time.LoadLocation(tc.Timezone); err == nil {
			now = time.Now().In(loc)
		}
	}

	if tc.BusinessHoursOnly {
		start, end := tc.StartHour, tc.EndHour
		if start == 0 && end == 0 {
			start, end = 9, 17
		}
		if now.Hour() < start || now.Hour() >= end {
			e.recordViolation(ctx, c, agentID, float64(now.Hour()), domain.ConstraintTemporal, "outside business hours")
			return errcode.New(errcode.BusinessHoursViolation)
		}
	}

	if len(tc.AllowedDays) > 0 {
		weekday := int(now.Weekday()+6) % 7 // convert Go's Sun=0 to Mon=0 convention
		allowed := false
		for _, d := range tc.AllowedDays {
			if d == weekday {
				allowed = true
				break
			}
		}
		if !allowed {
			e.recordViolation(ctx, c, agentID, float64(weekday), domain.ConstraintTemporal,
				fmt.Sprintf("%s is not an allowed day", weekdayNames[weekday]))
			return errcode.New(errcode.TemporalConstraintViolated)
		}
	}
	return nil
}

func (e *Enforcer) recordViolation(ctx context.Context, c *domain.Constraint, agentID string, usage float64, vtype domain.ConstraintType, errMsg string) {
	v := domain.ConstraintViolation{
		ViolationID:    uuid.NewString(),
		ConstraintID:   c.ConstraintID,
		ConstraintName: c.Name,
		AgentID:        agentID,
		CurrentUsage:   usage,
		Limit:          c.Limit,
		ViolationType:  vtype,
		Details:        map[string]any{"error": errMsg},
		CreatedAt:      time.Now().UTC(),
	}
	e.mu.Lock()
	e.violations = append(e.violations, v)
	e.mu.Unlock()
	if e.audit != nil {
		_, _ = e.audit.LogConstraintViolation(ctx, v)
	}
}

// GetConstraintsForAgent lists constraints that apply to agentID.
func (e *Enforcer) GetConstraintsForAgent(ctx context.Context, agentID string) ([]domain.Constraint, error) {
	return e.store.GetConstraintsForAgent(ctx, agentID)
}

// GetViolations returns recorded violations, optionally filtered by
// agent, most recent first, bounded by limit.
func (e *Enforcer) GetViolations(agentID string, limit int) []domain.ConstraintViolation {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.ConstraintViolation
	for i := len(e.violations) - 1; i >= 0; i-- {
		v := e.violations[i]
		if agentID != "" && v.AgentID != agentID {
			continue
		}
		out = append(out, v)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetStats reports enforcement counters.
func (e *Enforcer) GetStats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{"violations_recorded": len(e.violations)}
}

// HealthCheck degrades if the backing counter store is unhealthy.
func (e *Enforcer) HealthCheck(ctx context.Context) map[string]any {
	h := e.counter.HealthCheck(ctx)
	if h["status"] != "healthy" {
		return map[string]any{"status": "degraded", "counter_store": h}
	}
	return map[string]any{"status": "healthy"}
}
