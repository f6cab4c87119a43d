// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package datastore

import (
	"context"
	"sort"
	"sync"
	"time"

	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
)

// MemStore is an in-process DataStore used for dev_mode operation and
// in tests where a Postgres instance isn't available.
type MemStore struct {
	mu          sync.RWMutex
	policies    map[string]domain.PolicyDefinition
	constraints map[string]domain.Constraint
	escalations map[string]domain.EscalationWorkflow
	auditLog    []domain.AuditEntry
	anomalies   map[string]domain.Anomaly
	contexts    map[string]domain.AgentContext
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		policies:    make(map[string]domain.PolicyDefinition),
		constraints: make(map[string]domain.Constraint),
		escalations: make(map[string]domain.EscalationWorkflow),
		anomalies:   make(map[string]domain.Anomaly),
		contexts:    make(map[string]domain.AgentContext),
	}
}

func (m *MemStore) StorePolicy(_ context.Context, p domain.PolicyDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.PolicyID] = p
	return nil
}

func (m *MemStore) GetPolicy(_ context.Context, policyID string) (*domain.PolicyDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[policyID]
	if !ok {
		return nil, errcode.New(errcode.PolicyNotFound)
	}
	return &p, nil
}

func (m *MemStore) GetActivePolicies(_ context.Context, scope string) ([]domain.PolicyDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.PolicyDefinition
	for _, p := range m.policies {
		if !p.Active {
			continue
		}
		if scope != "" && p.Scope != scope {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out, nil
}

func (m *MemStore) UpdatePolicy(ctx context.Context, p domain.PolicyDefinition) error {
	return m.StorePolicy(ctx, p)
}

func (m *MemStore) StoreConstraint(_ context.Context, c domain.Constraint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints[c.ConstraintID] = c
	return nil
}

func (m *MemStore) GetConstraint(_ context.Context, constraintID string) (*domain.Constraint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.constraints[constraintID]
	if !ok {
		return nil, errcode.New(errcode.ConstraintNotFound)
	}
	return &c, nil
}

func (m *MemStore) GetConstraintsForAgent(_ context.Context, agentID string) ([]domain.Constraint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Constraint
	for _, c := range m.constraints {
		if c.AgentID == agentID || c.AgentID == "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) CreateEscalation(_ context.Context, w domain.EscalationWorkflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalations[w.WorkflowID] = w
	return nil
}

func (m *MemStore) GetEscalation(_ context.Context, workflowID string) (*domain.EscalationWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.escalations[workflowID]
	if !ok {
		return nil, errcode.New(errcode.EscalationNotFound)
	}
	return &w, nil
}

func (m *MemStore) UpdateEscalation(ctx context.Context, w domain.EscalationWorkflow) error {
	return m.CreateEscalation(ctx, w)
}

func (m *MemStore) GetPendingEscalations(_ context.Context) ([]domain.EscalationWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.EscalationWorkflow
	for _, w := range m.escalations {
		switch w.Status {
		case domain.EscalationPending, domain.EscalationNotified, domain.EscalationWaiting:
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MemStore) WriteAuditEntry(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLog = append(m.auditLog, e)
	return nil
}

func (m *MemStore) QueryAuditLog(_ context.Context, filters AuditQueryFilters, limit, offset int) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.AuditEntry
	for _, e := range m.auditLog {
		if filters.AgentID != "" && e.AgentID != filters.AgentID {
			continue
		}
		if filters.ActorID != "" && e.ActorID != filters.ActorID {
			continue
		}
		if filters.EventType != "" && e.EventType != filters.EventType {
			continue
		}
		if filters.ResourceType != "" && e.ResourceType != filters.ResourceType {
			continue
		}
		if filters.ResourceID != "" && e.ResourceID != filters.ResourceID {
			continue
		}
		if filters.CorrelationID != "" && e.CorrelationID != filters.CorrelationID {
			continue
		}
		if filters.Since != nil && e.CreatedAt.Unix() < *filters.Since {
			continue
		}
		if filters.Until != nil && e.CreatedAt.Unix() > *filters.Until {
			continue
		}
		matched = append(matched, e)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], nil
}

func (m *MemStore) GetAuditEntry(_ context.Context, entryID string) (*domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.auditLog {
		if e.EntryID == entryID {
			return &e, nil
		}
	}
	return nil, errcode.New(errcode.AuditEntryNotFound)
}

func (m *MemStore) GetLastAuditEntry(_ context.Context) (*domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.auditLog) == 0 {
		return nil, nil
	}
	e := m.auditLog[len(m.auditLog)-1]
	return &e, nil
}

func (m *MemStore) StoreAnomaly(_ context.Context, a domain.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies[a.AnomalyID] = a
	return nil
}

func (m *MemStore) UpdateAnomaly(ctx context.Context, a domain.Anomaly) error {
	return m.StoreAnomaly(ctx, a)
}

func (m *MemStore) GetAnomalies(_ context.Context, filters AnomalyQueryFilters) ([]domain.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Anomaly
	for _, a := range m.anomalies {
		if filters.AgentID != "" && a.AgentID != filters.AgentID {
			continue
		}
		if filters.Severity != "" && string(a.Severity) != filters.Severity {
			continue
		}
		if filters.Acknowledged != nil && a.Acknowledged != *filters.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (m *MemStore) GetAgentContext(_ context.Context, agentID string) (*domain.AgentContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.contexts[agentID]; ok {
		return &c, nil
	}
	return &domain.AgentContext{AgentID: agentID, CreatedAt: time.Now().UTC()}, nil
}

// SetAgentContext seeds agent metadata for tests and dev_mode
// bootstrapping.
func (m *MemStore) SetAgentContext(c domain.AgentContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.AgentID] = c
}

func (m *MemStore) HealthCheck(_ context.Context) map[string]any {
	return map[string]any{"status": "healthy", "backend": "memory"}
}

func (m *MemStore) Close() error { return nil }
