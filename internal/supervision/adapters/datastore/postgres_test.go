// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package datastore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: db, log: noopLogger{}}, mock
}

type noopLogger struct{}

func (noopLogger) Warn(string, string, string, map[string]any) {}

func TestPostgresStore_StoreAndGetPolicy(t *testing.T) {
	store, mock := newMockStore(t)
	p := domain.PolicyDefinition{
		PolicyID: "pol-1", Name: "deny-prod-delete", Scope: "global", Active: true,
		Rules: []domain.PolicyRule{{RuleID: "r1", Condition: "operation == 'delete'", Action: domain.VerdictDeny, Priority: 10, Enabled: true}},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO supervision_policies").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.StorePolicy(context.Background(), p))

	rows := sqlmock.NewRows([]string{"payload"}).AddRow(mustJSON(t, p))
	mock.ExpectQuery("SELECT payload FROM supervision_policies WHERE policy_id").WillReturnRows(rows)

	got, err := store.GetPolicy(context.Background(), "pol-1")
	require.NoError(t, err)
	require.Equal(t, p.PolicyID, got.PolicyID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
