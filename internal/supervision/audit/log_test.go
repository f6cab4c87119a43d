// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/signing"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
)

type testLogger struct{}

func (testLogger) Info(string, string, string, map[string]any) {}
func (testLogger) Warn(string, string, string, map[string]any) {}

func newTestLog(t *testing.T) (*Log, datastore.Store) {
	t.Helper()
	store := datastore.NewMemStore()
	signer, err := signing.NewDevSigner()
	require.NoError(t, err)
	l, err := New(context.Background(), store, signer, config.Default(), testLogger{})
	require.NoError(t, err)
	return l, store
}

func TestAppend_ChainsConsecutiveEntries(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	id1, err := l.LogAction(ctx, "test_event", "agent-1", "", domain.AuditMeta{}, map[string]any{"n": 1})
	require.NoError(t, err)
	id2, err := l.LogAction(ctx, "test_event", "agent-1", "", domain.AuditMeta{}, map[string]any{"n": 2})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	e2, err := l.GetEntry(ctx, id2)
	require.NoError(t, err)
	e1, err := l.GetEntry(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, e1.IntegrityHash, e2.PrevChainHash)
	require.Equal(t, "", e1.PrevChainHash)
}

func TestVerifyChain_ValidByDefault(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.LogAction(ctx, "test_event", "agent-1", "", domain.AuditMeta{}, nil)
		require.NoError(t, err)
	}
	valid, checked, firstInvalid, err := l.VerifyChain(ctx, nil, nil)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, 5, checked)
	require.Empty(t, firstInvalid)
}

func TestVerifyChain_DetectsTamperedEntry(t *testing.T) {
	l, store := newTestLog(t)
	ctx := context.Background()
	id, err := l.LogAction(ctx, "test_event", "agent-1", "", domain.AuditMeta{}, map[string]any{"n": 1})
	require.NoError(t, err)
	_, err = l.LogAction(ctx, "test_event", "agent-1", "", domain.AuditMeta{}, map[string]any{"n": 2})
	require.NoError(t, err)

	entry, err := store.GetAuditEntry(ctx, id)
	require.NoError(t, err)
	tampered := *entry
	tampered.Details = map[string]any{"n": 999}
	require.NoError(t, store.WriteAuditEntry(ctx, tampered)) // memstore appends; simulate by re-reading via a fresh log

	l2, err := New(ctx, store, nil, config.Default(), testLogger{})
	require.NoError(t, err)
	valid, _, firstInvalid, err := l2.VerifyChain(ctx, nil, nil)
	require.NoError(t, err)
	require.False(t, valid)
	require.NotEmpty(t, firstInvalid)
}

func TestVerifyEntry_ValidEntryPasses(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	id, err := l.LogAction(ctx, "test_event", "agent-1", "", domain.AuditMeta{}, map[string]any{"n": 1})
	require.NoError(t, err)

	ok, err := l.VerifyEntry(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestQuery_FiltersByResourceAndCorrelation(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	id, err := l.LogAction(ctx, "widget_created", "agent-1", "user-1", domain.AuditMeta{
		ActorType: "user", ResourceType: "widget", ResourceID: "w-1", CorrelationID: "req-123",
	}, map[string]any{"n": 1})
	require.NoError(t, err)
	_, err = l.LogAction(ctx, "widget_created", "agent-1", "user-1", domain.AuditMeta{
		ActorType: "user", ResourceType: "widget", ResourceID: "w-2", CorrelationID: "req-456",
	}, map[string]any{"n": 2})
	require.NoError(t, err)

	entries, err := l.Query(ctx, datastore.AuditQueryFilters{ResourceType: "widget", ResourceID: "w-1"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].EntryID)
	require.Equal(t, "user", entries[0].ActorType)
	require.Equal(t, "req-123", entries[0].CorrelationID)

	byCorrelation, err := l.Query(ctx, datastore.AuditQueryFilters{CorrelationID: "req-456"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, byCorrelation, 1)
	require.Equal(t, "w-2", byCorrelation[0].ResourceID)
}
