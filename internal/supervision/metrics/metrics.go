// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package metrics exposes the supervision core's Prometheus metrics,
// matching the performance config block's metrics_enabled/
// metrics_prefix knobs.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the supervision core's counters/histograms. Only the
// policy engine records into them (evaluations, cache hits/misses,
// latency); the constraint, anomaly, escalation and audit counters
// are registered but nothing increments them.
type Metrics struct {
	PolicyEvaluations   *prometheus.CounterVec
	PolicyCacheHits     prometheus.Counter
	PolicyCacheMisses   prometheus.Counter
	EvaluationLatency   prometheus.Histogram
	ConstraintDenials   *prometheus.CounterVec
	AnomaliesDetected   *prometheus.CounterVec
	EscalationsCreated  prometheus.Counter
	EscalationsResolved *prometheus.CounterVec
	AuditEntriesWritten prometheus.Counter
}

var (
	once     sync.Once
	instance *Metrics
)

// New registers and returns the metric set under the given prefix.
// It registers only once per process; subsequent calls return the
// already-registered instance.
func New(prefix string) *Metrics {
	once.Do(func() {
		if prefix == "" {
			prefix = "l08_supervision"
		}
		instance = &Metrics{
			PolicyEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: prefix + "_policy_evaluations_total",
				Help: "Policy evaluations by verdict.",
			}, []string{"verdict"}),
			PolicyCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_policy_cache_hits_total",
				Help: "Active policy snapshot cache hits.",
			}),
			PolicyCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_policy_cache_misses_total",
				Help: "Active policy snapshot cache misses.",
			}),
			EvaluationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    prefix + "_evaluation_latency_ms",
				Help:    "Policy evaluation latency in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			}),
			ConstraintDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: prefix + "_constraint_denials_total",
				Help: "Constraint check denials by type.",
			}, []string{"constraint_type"}),
			AnomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: prefix + "_anomalies_detected_total",
				Help: "Anomalies detected by severity.",
			}, []string{"severity"}),
			EscalationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_escalations_created_total",
				Help: "Escalation workflows created.",
			}),
			EscalationsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: prefix + "_escalations_resolved_total",
				Help: "Escalation workflows resolved by outcome.",
			}, []string{"status"}),
			AuditEntriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
				Name: prefix + "_audit_entries_written_total",
				Help: "Audit entries appended to the hash chain.",
			}),
		}
		prometheus.MustRegister(
			instance.PolicyEvaluations,
			instance.PolicyCacheHits,
			instance.PolicyCacheMisses,
			instance.EvaluationLatency,
			instance.ConstraintDenials,
			instance.AnomaliesDetected,
			instance.EscalationsCreated,
			instance.EscalationsResolved,
			instance.AuditEntriesWritten,
		)
	})
	return instance
}
