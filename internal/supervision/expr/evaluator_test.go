// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_EmptyConditionIsTrue(t *testing.T) {
	e := NewEvaluator(0)
	ok, err := e.Evaluate("   ", map[string]any{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_SimpleCompare(t *testing.T) {
	e := NewEvaluator(0)
	ctx := map[string]any{"risk_score": 85.0}
	ok, err := e.Evaluate("risk_score > 80", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate("risk_score > 90", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_BoolOpsAndAttribute(t *testing.T) {
	e := NewEvaluator(0)
	ctx := map[string]any{
		"agent": map[string]any{"team": "platform", "department": "eng"},
		"operation": "delete_record",
	}
	ok, err := e.Evaluate("agent.team == 'platform' and operation == 'delete_record'", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate("agent.team == 'sales' or operation == 'delete_record'", ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_InMembership(t *testing.T) {
	e := NewEvaluator(0)
	ctx := map[string]any{"resource": "prod_db", "allowlist": []any{"prod_db", "staging_db"}}
	ok, err := e.Evaluate("resource in allowlist", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Evaluate("resource not in allowlist", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_Not(t *testing.T) {
	e := NewEvaluator(0)
	ok, err := e.Evaluate("not (1 == 2)", map[string]any{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_MissingAttributeIsNone(t *testing.T) {
	e := NewEvaluator(0)
	ok, err := e.Evaluate("agent.missing_field == None", map[string]any{"agent": map[string]any{}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_OrderComparisonWithMissingAttributeIsFalse(t *testing.T) {
	e := NewEvaluator(0)
	ok, err := e.Evaluate("agent.missing_field > 10", map[string]any{"agent": map[string]any{}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_RejectsCallSyntax(t *testing.T) {
	e := NewEvaluator(0)
	_, err := e.Evaluate("os.system('rm -rf /')", map[string]any{"os": map[string]any{}})
	// "os.system(...)" parses the attribute chain fine but the
	// trailing '(' is not a valid trailer, so parsing must fail.
	require.Error(t, err)
}

func TestEvaluate_CacheIsBounded(t *testing.T) {
	e := NewEvaluator(2)
	_, _ = e.Evaluate("1 == 1", map[string]any{})
	_, _ = e.Evaluate("2 == 2", map[string]any{})
	_, _ = e.Evaluate("3 == 3", map[string]any{})
	assert.LessOrEqual(t, len(e.cache), 2)
}
