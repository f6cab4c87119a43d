// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package anomaly

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/errcode"
)

func TestDetect_InsufficientBaselineReturnsExplicitError(t *testing.T) {
	d := New(nil, nil, config.Default())
	a, err := d.Detect(context.Background(), "agent-1", "latency_ms", 9999)
	require.Error(t, err)
	var cerr *errcode.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, errcode.InsufficientBaselineData, cerr.Code)
	require.Nil(t, a)
}

func TestDetect_FlagsExtremeOutlierAsCritical(t *testing.T) {
	cfg := config.Default()
	cfg.MinBaselineSamples = 5
	d := New(nil, nil, cfg)

	// Small jitter around the mean so the baseline has nonzero
	// variance/IQR; a perfectly constant baseline has no spread for
	// either detection method to compare against.
	values := []float64{98, 99, 100, 101, 102, 99, 100, 101, 100, 99}
	for i := 0; i < 4; i++ {
		for _, v := range values {
			d.RecordObservation("agent-1", "latency_ms", v)
		}
	}

	a, err := d.Detect(context.Background(), "agent-1", "latency_ms", 100000)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, "CRITICAL", string(a.Severity))
}

func TestDetect_StableValuesProduceNoAnomaly(t *testing.T) {
	cfg := config.Default()
	cfg.MinBaselineSamples = 5
	d := New(nil, nil, cfg)
	values := []float64{98, 99, 100, 101, 102, 99, 100, 101, 100, 99}
	for i := 0; i < 4; i++ {
		for _, v := range values {
			d.RecordObservation("agent-1", "latency_ms", v)
		}
	}
	a, err := d.Detect(context.Background(), "agent-1", "latency_ms", 101)
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestAcknowledgeAnomaly_NotFound(t *testing.T) {
	d := New(nil, nil, config.Default())
	err := d.AcknowledgeAnomaly(context.Background(), "missing", "reviewer-1")
	require.Error(t, err)
}

func TestSetBaselineFromValues_RequiresMinSamples(t *testing.T) {
	d := New(nil, nil, config.Default())
	err := d.SetBaselineFromValues("agent-1", "latency_ms", []float64{1, 2, 3})
	var cerr *errcode.Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, errcode.InsufficientBaselineData, cerr.Code)
}

func TestSetBaselineFromValues_MatchesIngestedBaseline(t *testing.T) {
	cfg := config.Default()
	cfg.MinBaselineSamples = 5

	values := []float64{98, 99, 100, 101, 102, 99, 100, 101, 100, 99}

	seeded := New(nil, nil, cfg)
	require.NoError(t, seeded.SetBaselineFromValues("agent-1", "latency_ms", values))

	ingested := New(nil, nil, cfg)
	for _, v := range values {
		ingested.RecordObservation("agent-1", "latency_ms", v)
	}

	a, err := seeded.GetBaseline("agent-1", "latency_ms")
	require.NoError(t, err)
	b, err := ingested.GetBaseline("agent-1", "latency_ms")
	require.NoError(t, err)

	require.Equal(t, b.Mean, a.Mean)
	require.Equal(t, b.StdDev, a.StdDev)
	require.Equal(t, b.Q1, a.Q1)
	require.Equal(t, b.Q3, a.Q3)
	require.Equal(t, b.SampleCount, a.SampleCount)
}

func TestDetect_PersistsAnomalyToStore(t *testing.T) {
	cfg := config.Default()
	cfg.MinBaselineSamples = 5
	store := datastore.NewMemStore()
	d := New(store, nil, cfg)

	values := []float64{98, 99, 100, 101, 102, 99, 100, 101, 100, 99}
	for _, v := range values {
		d.RecordObservation("agent-1", "latency_ms", v)
	}

	a, err := d.Detect(context.Background(), "agent-1", "latency_ms", 100000)
	require.NoError(t, err)
	require.NotNil(t, a)

	stored, err := store.GetAnomalies(context.Background(), datastore.AnomalyQueryFilters{AgentID: "agent-1"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, a.AnomalyID, stored[0].AnomalyID)
}
