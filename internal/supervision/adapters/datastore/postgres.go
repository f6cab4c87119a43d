// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
	"guardrail/platform/internal/supervision/obslog"
)

// PostgresStore is the durable DataStore implementation. Tables are
// simple: a natural key plus a jsonb payload column, matching the
// schema-light approach the platform's db_policies.go takes for its
// pattern tables, with retry-with-backoff around writes the same way.
type PostgresStore struct {
	db  *sql.DB
	log interface {
		Warn(clientID, requestID, message string, fields map[string]any)
	}
}

// NewPostgresStore opens a connection pool against dsn and ensures
// the supervision schema exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConfigLoadFailed, err)
	}
	if err := db.Ping(); err != nil {
		return nil, errcode.Wrap(errcode.ConfigLoadFailed, fmt.Errorf("pinging postgres: %w", err))
	}
	s := &PostgresStore{db: db, log: obslog.New("datastore")}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS supervision_policies (
			policy_id TEXT PRIMARY KEY, scope TEXT, active BOOLEAN, payload JSONB, updated_at TIMESTAMPTZ)`,
		`CREATE TABLE IF NOT EXISTS supervision_constraints (
			constraint_id TEXT PRIMARY KEY, agent_id TEXT, payload JSONB)`,
		`CREATE TABLE IF NOT EXISTS supervision_escalations (
			workflow_id TEXT PRIMARY KEY, status TEXT, payload JSONB, updated_at TIMESTAMPTZ)`,
		`CREATE TABLE IF NOT EXISTS supervision_audit_log (
			entry_id TEXT PRIMARY KEY, agent_id TEXT, actor_id TEXT, event_type TEXT, resource_type TEXT, resource_id TEXT,
			correlation_id TEXT, created_at TIMESTAMPTZ, payload JSONB)`,
		`CREATE INDEX IF NOT EXISTS supervision_audit_log_resource_idx ON supervision_audit_log (resource_type, resource_id)`,
		`CREATE INDEX IF NOT EXISTS supervision_audit_log_correlation_idx ON supervision_audit_log (correlation_id)`,
		`CREATE TABLE IF NOT EXISTS supervision_anomalies (
			anomaly_id TEXT PRIMARY KEY, agent_id TEXT, severity TEXT, acknowledged BOOLEAN, detected_at TIMESTAMPTZ, payload JSONB)`,
		`CREATE TABLE IF NOT EXISTS supervision_agent_contexts (
			agent_id TEXT PRIMARY KEY, payload JSONB)`,
	}
	for _, stmt := range stmts {
		if _, err := s.execWithRetry(stmt); err != nil {
			return errcode.Wrap(errcode.ConfigLoadFailed, err)
		}
	}
	return nil
}

// execWithRetry retries a write with exponential backoff, the same
// shape as the platform's execWithRetry helper for policy writes.
func (s *PostgresStore) execWithRetry(query string, args ...any) (sql.Result, error) {
	const maxRetries = 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := s.db.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(attempt))
			s.log.Warn("", "", "supervision datastore write failed, retrying", map[string]any{
				"attempt": attempt + 1, "error": err.Error(),
			})
			time.Sleep(delay)
		}
	}
	return nil, lastErr
}

func (s *PostgresStore) StorePolicy(_ context.Context, p domain.PolicyDefinition) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(
		`INSERT INTO supervision_policies (policy_id, scope, active, payload, updated_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (policy_id) DO UPDATE SET scope=$2, active=$3, payload=$4, updated_at=$5`,
		p.PolicyID, p.Scope, p.Active, payload, time.Now().UTC())
	if err != nil {
		return errcode.Wrap(errcode.AuditTrailWriteFailed, err)
	}
	return nil
}

func (s *PostgresStore) GetPolicy(ctx context.Context, policyID string) (*domain.PolicyDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM supervision_policies WHERE policy_id=$1`, policyID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errcode.New(errcode.PolicyNotFound)
		}
		return nil, err
	}
	var p domain.PolicyDefinition
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetActivePolicies(ctx context.Context, scope string) ([]domain.PolicyDefinition, error) {
	var rows *sql.Rows
	var err error
	if scope == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT payload FROM supervision_policies WHERE active=true ORDER BY policy_id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT payload FROM supervision_policies WHERE active=true AND scope=$1 ORDER BY policy_id`, scope)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PolicyDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p domain.PolicyDefinition
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePolicy(ctx context.Context, p domain.PolicyDefinition) error {
	return s.StorePolicy(ctx, p)
}

func (s *PostgresStore) StoreConstraint(_ context.Context, c domain.Constraint) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(
		`INSERT INTO supervision_constraints (constraint_id, agent_id, payload) VALUES ($1,$2,$3)
		 ON CONFLICT (constraint_id) DO UPDATE SET agent_id=$2, payload=$3`,
		c.ConstraintID, c.AgentID, payload)
	return err
}

func (s *PostgresStore) GetConstraint(ctx context.Context, constraintID string) (*domain.Constraint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM supervision_constraints WHERE constraint_id=$1`, constraintID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errcode.New(errcode.ConstraintNotFound)
		}
		return nil, err
	}
	var c domain.Constraint
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetConstraintsForAgent(ctx context.Context, agentID string) ([]domain.Constraint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM supervision_constraints WHERE agent_id=$1 OR agent_id=''`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Constraint
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c domain.Constraint
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateEscalation(_ context.Context, w domain.EscalationWorkflow) error {
	return s.upsertEscalation(w)
}

func (s *PostgresStore) UpdateEscalation(_ context.Context, w domain.EscalationWorkflow) error {
	return s.upsertEscalation(w)
}

func (s *PostgresStore) upsertEscalation(w domain.EscalationWorkflow) error {
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(
		`INSERT INTO supervision_escalations (workflow_id, status, payload, updated_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (workflow_id) DO UPDATE SET status=$2, payload=$3, updated_at=$4`,
		w.WorkflowID, string(w.Status), payload, time.Now().UTC())
	return err
}

func (s *PostgresStore) GetEscalation(ctx context.Context, workflowID string) (*domain.EscalationWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM supervision_escalations WHERE workflow_id=$1`, workflowID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errcode.New(errcode.EscalationNotFound)
		}
		return nil, err
	}
	var w domain.EscalationWorkflow
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) GetPendingEscalations(ctx context.Context) ([]domain.EscalationWorkflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM supervision_escalations WHERE status IN ('PENDING','NOTIFIED','WAITING')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EscalationWorkflow
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var w domain.EscalationWorkflow
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WriteAuditEntry(_ context.Context, e domain.AuditEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(
		`INSERT INTO supervision_audit_log (entry_id, agent_id, actor_id, event_type, resource_type, resource_id, correlation_id, created_at, payload) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.EntryID, e.AgentID, e.ActorID, e.EventType, e.ResourceType, e.ResourceID, e.CorrelationID, e.CreatedAt, payload)
	if err != nil {
		return errcode.Wrap(errcode.AuditTrailWriteFailed, err)
	}
	return nil
}

func (s *PostgresStore) QueryAuditLog(ctx context.Context, filters AuditQueryFilters, limit, offset int) ([]domain.AuditEntry, error) {
	query := `SELECT payload FROM supervision_audit_log WHERE 1=1`
	var args []any
	n := 1
	if filters.AgentID != "" {
		query += fmt.Sprintf(" AND agent_id=$%d", n)
		args = append(args, filters.AgentID)
		n++
	}
	if filters.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id=$%d", n)
		args = append(args, filters.ActorID)
		n++
	}
	if filters.EventType != "" {
		query += fmt.Sprintf(" AND event_type=$%d", n)
		args = append(args, filters.EventType)
		n++
	}
	if filters.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type=$%d", n)
		args = append(args, filters.ResourceType)
		n++
	}
	if filters.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id=$%d", n)
		args = append(args, filters.ResourceID)
		n++
	}
	if filters.CorrelationID != "" {
		query += fmt.Sprintf(" AND correlation_id=$%d", n)
		args = append(args, filters.CorrelationID)
		n++
	}
	if filters.Since != nil {
		query += fmt.Sprintf(" AND created_at >= to_timestamp($%d)", n)
		args = append(args, *filters.Since)
		n++
	}
	if filters.Until != nil {
		query += fmt.Sprintf(" AND created_at <= to_timestamp($%d)", n)
		args = append(args, *filters.Until)
		n++
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errcode.Wrap(errcode.AuditQueryFailed, err)
	}
	defer rows.Close()
	var out []domain.AuditEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e domain.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAuditEntry(ctx context.Context, entryID string) (*domain.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM supervision_audit_log WHERE entry_id=$1`, entryID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, errcode.New(errcode.AuditEntryNotFound)
		}
		return nil, err
	}
	var e domain.AuditEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) GetLastAuditEntry(ctx context.Context) (*domain.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM supervision_audit_log ORDER BY created_at DESC LIMIT 1`)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	var e domain.AuditEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) StoreAnomaly(_ context.Context, a domain.Anomaly) error {
	return s.upsertAnomaly(a)
}

func (s *PostgresStore) UpdateAnomaly(_ context.Context, a domain.Anomaly) error {
	return s.upsertAnomaly(a)
}

func (s *PostgresStore) upsertAnomaly(a domain.Anomaly) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(
		`INSERT INTO supervision_anomalies (anomaly_id, agent_id, severity, acknowledged, detected_at, payload)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (anomaly_id) DO UPDATE SET acknowledged=$4, payload=$6`,
		a.AnomalyID, a.AgentID, string(a.Severity), a.Acknowledged, a.DetectedAt, payload)
	return err
}

func (s *PostgresStore) GetAnomalies(ctx context.Context, filters AnomalyQueryFilters) ([]domain.Anomaly, error) {
	query := `SELECT payload FROM supervision_anomalies WHERE 1=1`
	var args []any
	n := 1
	if filters.AgentID != "" {
		query += fmt.Sprintf(" AND agent_id=$%d", n)
		args = append(args, filters.AgentID)
		n++
	}
	if filters.Severity != "" {
		query += fmt.Sprintf(" AND severity=$%d", n)
		args = append(args, filters.Severity)
		n++
	}
	if filters.Acknowledged != nil {
		query += fmt.Sprintf(" AND acknowledged=$%d", n)
		args = append(args, *filters.Acknowledged)
		n++
	}
	query += " ORDER BY detected_at DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filters.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Anomaly
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a domain.Anomaly
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAgentContext(ctx context.Context, agentID string) (*domain.AgentContext, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM supervision_agent_contexts WHERE agent_id=$1`, agentID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return &domain.AgentContext{AgentID: agentID, CreatedAt: time.Now().UTC()}, nil
		}
		return nil, err
	}
	var c domain.AgentContext
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) map[string]any {
	if err := s.db.PingContext(ctx); err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}
	return map[string]any{"status": "healthy", "backend": "postgres"}
}

func (s *PostgresStore) Close() error { return s.db.Close() }
