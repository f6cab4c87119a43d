// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package datastore implements the DataStore contract: durable
// storage for policies, constraints, escalations, audit entries, and
// anomalies, plus per-agent context lookup. Two implementations are
// provided: MemStore, an in-process map-backed store for dev_mode and
// tests, and PostgresStore, the durable production implementation.
package datastore

import (
	"context"

	"guardrail/platform/internal/supervision/domain"
)

// AuditQueryFilters narrows QueryAuditLog results.
type AuditQueryFilters struct {
	AgentID       string
	ActorID       string
	EventType     string
	ResourceType  string
	ResourceID    string
	CorrelationID string
	Since         *int64 // unix seconds, inclusive
	Until         *int64 // unix seconds, inclusive
}

// AnomalyQueryFilters narrows GetAnomalies results.
type AnomalyQueryFilters struct {
	AgentID      string
	Severity     string
	Acknowledged *bool
	Limit        int
}

// Store is the DataStore contract every supervision component depends
// on for persistence.
type Store interface {
	StorePolicy(ctx context.Context, p domain.PolicyDefinition) error
	GetPolicy(ctx context.Context, policyID string) (*domain.PolicyDefinition, error)
	GetActivePolicies(ctx context.Context, scope string) ([]domain.PolicyDefinition, error)
	UpdatePolicy(ctx context.Context, p domain.PolicyDefinition) error

	StoreConstraint(ctx context.Context, c domain.Constraint) error
	GetConstraint(ctx context.Context, constraintID string) (*domain.Constraint, error)
	GetConstraintsForAgent(ctx context.Context, agentID string) ([]domain.Constraint, error)

	CreateEscalation(ctx context.Context, w domain.EscalationWorkflow) error
	GetEscalation(ctx context.Context, workflowID string) (*domain.EscalationWorkflow, error)
	UpdateEscalation(ctx context.Context, w domain.EscalationWorkflow) error
	GetPendingEscalations(ctx context.Context) ([]domain.EscalationWorkflow, error)

	WriteAuditEntry(ctx context.Context, e domain.AuditEntry) error
	QueryAuditLog(ctx context.Context, filters AuditQueryFilters, limit, offset int) ([]domain.AuditEntry, error)
	GetAuditEntry(ctx context.Context, entryID string) (*domain.AuditEntry, error)
	GetLastAuditEntry(ctx context.Context) (*domain.AuditEntry, error)

	StoreAnomaly(ctx context.Context, a domain.Anomaly) error
	UpdateAnomaly(ctx context.Context, a domain.Anomaly) error
	GetAnomalies(ctx context.Context, filters AnomalyQueryFilters) ([]domain.Anomaly, error)

	GetAgentContext(ctx context.Context, agentID string) (*domain.AgentContext, error)

	HealthCheck(ctx context.Context) map[string]any
	Close() error
}
