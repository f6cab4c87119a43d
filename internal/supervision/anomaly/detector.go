// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package anomaly implements AnomalyDetector: rolling statistical
// baselines per (agent, metric) pair, with z-score and IQR detection
// over those baselines.
package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
)

// AuditSink is the logging seam for detected anomalies.
type AuditSink interface {
	LogAnomalyDetected(ctx context.Context, a domain.Anomaly) (string, error)
}

type baselineKey struct {
	agentID, metric string
}

type baseline struct {
	samples []float64 // bounded FIFO
	stats   domain.BaselineStats
}

// Detector is the AnomalyDetector component.
type Detector struct {
	mu        sync.Mutex
	baselines map[baselineKey]*baseline
	anomalies []domain.Anomaly

	store datastore.Store
	audit AuditSink
	cfg   *config.Config
}

// New builds an AnomalyDetector. store may be nil, in which case
// detected anomalies live only in the process-local slice.
func New(store datastore.Store, audit AuditSink, cfg *config.Config) *Detector {
	return &Detector{baselines: make(map[baselineKey]*baseline), store: store, audit: audit, cfg: cfg}
}

// RecordObservation appends value to the (agentID, metric) baseline,
// recomputing the rolling statistics once enough samples exist.
func (d *Detector) RecordObservation(agentID, metric string, value float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := baselineKey{agentID, metric}
	b, ok := d.baselines[key]
	if !ok {
		b = &baseline{}
		d.baselines[key] = b
	}

	b.samples = append(b.samples, value)
	if len(b.samples) > d.cfg.BaselineSampleSize {
		b.samples = b.samples[len(b.samples)-d.cfg.BaselineSampleSize:]
	}

	if len(b.samples) >= d.cfg.MinBaselineSamples {
		b.stats = computeStats(agentID, metric, b.samples)
	}
}

func computeStats(agentID, metric string, samples []float64) domain.BaselineStats {
	n := len(samples)
	sum := 0.0
	minV, maxV := samples[0], samples[0]
	for _, v := range samples {
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range samples {
		d := v - mean
		sqDiff += d * d
	}
	var stdDev float64
	if n > 1 {
		stdDev = math.Sqrt(sqDiff / float64(n-1))
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)

	return domain.BaselineStats{
		AgentID: agentID, MetricName: metric,
		Mean: mean, StdDev: stdDev, Min: minV, Max: maxV, Q1: q1, Q3: q3,
		SampleCount: n, UpdatedAt: time.Now().UTC(),
	}
}

// quantile computes an interpolating quantile over a sorted sample.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// GetBaseline returns the current baseline stats, if enough samples
// have been recorded.
func (d *Detector) GetBaseline(agentID, metric string) (*domain.BaselineStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.baselines[baselineKey{agentID, metric}]
	if !ok || b.stats.SampleCount < d.cfg.MinBaselineSamples {
		return nil, errcode.New(errcode.InsufficientBaselineData)
	}
	stats := b.stats
	return &stats, nil
}

// SetBaseline seeds a baseline directly (used for warm-starting from
// historical data).
func (d *Detector) SetBaseline(stats domain.BaselineStats) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := baselineKey{stats.AgentID, stats.MetricName}
	b, ok := d.baselines[key]
	if !ok {
		b = &baseline{}
		d.baselines[key] = b
	}
	b.stats = stats
}

// SetBaselineFromValues seeds a baseline from raw historical values,
// replacing whatever rolling window existed. At least
// min_baseline_samples values are required; the resulting statistics
// are identical to what re-ingesting the same values one at a time
// would produce.
func (d *Detector) SetBaselineFromValues(agentID, metric string, values []float64) error {
	if len(values) < d.cfg.MinBaselineSamples {
		return errcode.New(errcode.InsufficientBaselineData).WithDetails(map[string]any{
			"required": d.cfg.MinBaselineSamples, "provided": len(values),
		})
	}
	if len(values) > d.cfg.BaselineSampleSize {
		values = values[len(values)-d.cfg.BaselineSampleSize:]
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := baselineKey{agentID, metric}
	b, ok := d.baselines[key]
	if !ok {
		b = &baseline{}
		d.baselines[key] = b
	}
	b.samples = append([]float64(nil), values...)
	b.stats = computeStats(agentID, metric, b.samples)
	return nil
}

// Detect checks value against the (agentID, metric) baseline, records
// an Anomaly if it deviates enough, and returns it (nil if not
// anomalous). If the baseline has fewer than min_baseline_samples
// samples it returns a nil Anomaly and an InsufficientBaselineData
// error.
func (d *Detector) Detect(ctx context.Context, agentID, metric string, value float64) (*domain.Anomaly, error) {
	stats, err := d.GetBaseline(agentID, metric)
	if err != nil {
		return nil, err
	}

	var zScore float64
	zTriggered := false
	if stats.StdDev > 0 {
		zScore = (value - stats.Mean) / stats.StdDev
		if math.Abs(zScore) > d.cfg.ZScoreThreshold {
			zTriggered = true
		}
	}

	var iqrScore float64
	iqrTriggered := false
	iqr := stats.Q3 - stats.Q1
	if iqr > 0 {
		lowerBound := stats.Q1 - d.cfg.IQRMultiplier*iqr
		upperBound := stats.Q3 + d.cfg.IQRMultiplier*iqr
		if value < lowerBound {
			iqrScore = (lowerBound - value) / iqr
			iqrTriggered = true
		} else if value > upperBound {
			iqrScore = (value - upperBound) / iqr
			iqrTriggered = true
		}
	}

	if !zTriggered && !iqrTriggered {
		return nil, nil
	}

	methodsTriggered := 0
	if zTriggered {
		methodsTriggered++
	}
	if iqrTriggered {
		methodsTriggered++
	}

	absZ := math.Abs(zScore)
	var severity domain.AnomalySeverity
	switch {
	case (methodsTriggered >= 2 && (absZ > 4 || iqrScore > 2)) || absZ > 5:
		severity = domain.SeverityCritical
	case absZ > 3:
		severity = domain.SeverityHigh
	case absZ > 1:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}

	confidence := 0.5 + 0.25*float64(methodsTriggered)

	method := "iqr"
	switch {
	case zTriggered && iqrTriggered:
		method = "z_score+iqr"
	case zTriggered:
		method = "z_score"
	}

	a := domain.Anomaly{
		AnomalyID:       uuid.NewString(),
		AgentID:         agentID,
		MetricName:      metric,
		BaselineValue:   stats.Mean,
		Value:           value,
		ZScore:          zScore,
		IQRScore:        iqrScore,
		DetectionMethod: method,
		Severity:        severity,
		Confidence:      confidence,
		Description:     describeAnomaly(metric, value, stats.Mean, zScore, severity),
		DetectedAt:      time.Now().UTC(),
	}

	d.mu.Lock()
	d.anomalies = append(d.anomalies, a)
	d.mu.Unlock()

	if d.store != nil {
		_ = d.store.StoreAnomaly(ctx, a)
	}
	if d.audit != nil {
		_, _ = d.audit.LogAnomalyDetected(ctx, a)
	}
	return &a, nil
}

func describeAnomaly(metric string, value, mean, zScore float64, severity domain.AnomalySeverity) string {
	pctDeviation := 0.0
	if mean != 0 {
		pctDeviation = (value - mean) / mean * 100
	}
	return fmt.Sprintf("%s anomaly on %s: value=%.2f deviates %.1f%% from baseline mean=%.2f (z=%.2f)",
		severity, metric, value, pctDeviation, mean, zScore)
}

// AcknowledgeAnomaly marks an anomaly as reviewed. The original
// anomaly record is updated in place (acknowledgement is metadata on
// the same row, not a new append-only event); the detection itself
// remains immutable.
func (d *Detector) AcknowledgeAnomaly(ctx context.Context, anomalyID, actorID string) error {
	d.mu.Lock()
	for i, a := range d.anomalies {
		if a.AnomalyID == anomalyID {
			d.anomalies[i].Acknowledged = true
			d.anomalies[i].AcknowledgedBy = actorID
			now := time.Now().UTC()
			d.anomalies[i].AcknowledgedAt = &now
			acked := d.anomalies[i]
			d.mu.Unlock()
			if d.store != nil {
				_ = d.store.UpdateAnomaly(ctx, acked)
			}
			return nil
		}
	}
	d.mu.Unlock()
	return errcode.New(errcode.AnomalyNotFound)
}

// GetAnomalies filters recorded anomalies.
func (d *Detector) GetAnomalies(agentID, severity string, acknowledged *bool, limit int) []domain.Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Anomaly
	for i := len(d.anomalies) - 1; i >= 0; i-- {
		a := d.anomalies[i]
		if agentID != "" && a.AgentID != agentID {
			continue
		}
		if severity != "" && string(a.Severity) != severity {
			continue
		}
		if acknowledged != nil && a.Acknowledged != *acknowledged {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetStats reports detector counters.
func (d *Detector) GetStats() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{"baselines_tracked": len(d.baselines), "anomalies_detected": len(d.anomalies)}
}

// HealthCheck reports detector health.
func (d *Detector) HealthCheck(ctx context.Context) map[string]any {
	return map[string]any{"status": "healthy"}
}
