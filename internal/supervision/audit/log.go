// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package audit implements AuditLog: a hash-chained, append-only
// record of every supervision decision and action, optionally signed
// via a SigningAdapter. Each entry's integrity_hash commits to the
// previous entry's hash, so altering or removing any entry breaks the
// chain from that point forward; VerifyChain re-derives every hash
// from the genesis marker to detect exactly that.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/signing"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
)

type logger interface {
	Info(clientID, requestID, message string, fields map[string]any)
	Warn(clientID, requestID, message string, fields map[string]any)
}

const recentCacheSize = 100

// Log is the AuditLog component.
type Log struct {
	store  datastore.Store
	signer signing.Signer
	cfg    *config.Config
	log    logger

	mu            sync.Mutex
	lastChainHash string
	recent        []domain.AuditEntry
}

// New builds an AuditLog, seeding the chain from the store's last
// entry (an empty string, the genesis marker, if the store is empty).
func New(ctx context.Context, store datastore.Store, signer signing.Signer, cfg *config.Config, log logger) (*Log, error) {
	l := &Log{store: store, signer: signer, cfg: cfg, log: log}
	last, err := store.GetLastAuditEntry(ctx)
	if err != nil {
		return nil, errcode.Wrap(errcode.AuditTrailWriteFailed, err)
	}
	if last != nil {
		l.lastChainHash = last.IntegrityHash
	}
	return l, nil
}

// canonicalize serializes the chain-relevant fields of e in a stable
// key order, excluding signature/integrity_hash (which depend on this
// output). entry_id is assigned before hashing and is included, so
// rewriting an entry's ID also breaks the chain.
func canonicalize(e domain.AuditEntry) string {
	ordered := map[string]any{
		"entry_id":        e.EntryID,
		"event_type":      e.EventType,
		"agent_id":        e.AgentID,
		"actor_id":        e.ActorID,
		"actor_type":      e.ActorType,
		"resource_type":   e.ResourceType,
		"resource_id":     e.ResourceID,
		"parent_audit_id": e.ParentAuditID,
		"correlation_id":  e.CorrelationID,
		"details":         e.Details,
		"prev_chain_hash": e.PrevChainHash,
		"created_at":      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	keys := make([]string, 0, len(ordered))
	for k := range ordered {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := make(map[string]any, len(ordered))
	for _, k := range keys {
		buf[k] = ordered[k]
	}
	b, _ := json.Marshal(buf)
	return string(b)
}

// append writes a new entry to the chain, signing it if configured to,
// and returns its entry ID.
func (l *Log) append(ctx context.Context, eventType, agentID, actorID string, meta domain.AuditMeta, details map[string]any) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := domain.AuditEntry{
		EntryID:       uuid.NewString(),
		EventType:     eventType,
		AgentID:       agentID,
		ActorID:       actorID,
		ActorType:     meta.ActorType,
		ResourceType:  meta.ResourceType,
		ResourceID:    meta.ResourceID,
		ParentAuditID: meta.ParentAuditID,
		CorrelationID: meta.CorrelationID,
		Details:       details,
		PrevChainHash: l.lastChainHash,
		CreatedAt:     time.Now().UTC(),
	}

	chainInput := l.lastChainHash + ":" + canonicalize(e)
	if l.signer != nil {
		e.IntegrityHash = l.signer.ComputeHash(chainInput)
		if l.cfg == nil || l.cfg.AuditSigningEnabled {
			sig, err := l.signer.Sign(l.signingKeyID(), e.IntegrityHash)
			if err != nil {
				return "", errcode.Wrap(errcode.AuditSignatureInvalid, err)
			}
			e.Signature = sig
			e.SignatureAlgorithm = l.signer.Algorithm()
		}
	} else {
		e.IntegrityHash = fallbackHash(chainInput)
	}

	if err := l.store.WriteAuditEntry(ctx, e); err != nil {
		return "", errcode.Wrap(errcode.AuditTrailWriteFailed, err)
	}

	l.lastChainHash = e.IntegrityHash
	l.recent = append(l.recent, e)
	if len(l.recent) > recentCacheSize {
		l.recent = l.recent[len(l.recent)-recentCacheSize:]
	}

	return e.EntryID, nil
}

func (l *Log) signingKeyID() string {
	if l.cfg != nil && l.cfg.AuditSigningKeyID != "" {
		return l.cfg.AuditSigningKeyID
	}
	return "audit_signer_v1"
}

// LogAction is the general-purpose entry point every component can
// call for events without a dedicated typed wrapper.
func (l *Log) LogAction(ctx context.Context, eventType, agentID, actorID string, meta domain.AuditMeta, details map[string]any) (string, error) {
	return l.append(ctx, eventType, agentID, actorID, meta, details)
}

// LogPolicyEvaluation satisfies policy.AuditSink.
func (l *Log) LogPolicyEvaluation(ctx context.Context, d domain.PolicyDecision) (string, error) {
	return l.append(ctx, "policy_evaluation", d.AgentID, "", domain.AuditMeta{
		ActorType: "agent", ResourceType: "policy_decision", ResourceID: d.DecisionID,
	}, map[string]any{
		"decision_id": d.DecisionID, "verdict": string(d.Verdict), "confidence": d.Confidence,
		"matched_rules": d.MatchedRules, "policies": d.Policies,
	})
}

// LogConstraintViolation satisfies constraint.AuditSink.
func (l *Log) LogConstraintViolation(ctx context.Context, v domain.ConstraintViolation) (string, error) {
	return l.append(ctx, "constraint_violation", v.AgentID, "", domain.AuditMeta{
		ActorType: "agent", ResourceType: "constraint", ResourceID: v.ConstraintID,
	}, map[string]any{
		"violation_id": v.ViolationID, "constraint_id": v.ConstraintID, "constraint_name": v.ConstraintName,
		"violation_type": string(v.ViolationType), "current_usage": v.CurrentUsage, "limit": v.Limit,
	})
}

// LogAnomalyDetected satisfies anomaly.AuditSink.
func (l *Log) LogAnomalyDetected(ctx context.Context, a domain.Anomaly) (string, error) {
	return l.append(ctx, "anomaly_detected", a.AgentID, "", domain.AuditMeta{
		ActorType: "agent", ResourceType: "anomaly", ResourceID: a.AnomalyID,
	}, map[string]any{
		"anomaly_id": a.AnomalyID, "metric_name": a.MetricName, "severity": string(a.Severity),
		"z_score": a.ZScore, "iqr_score": a.IQRScore, "confidence": a.Confidence,
		"detection_method": a.DetectionMethod, "baseline_value": a.BaselineValue, "observed_value": a.Value,
	})
}

// Query returns stored entries matching filters, in the order the
// store returns them (MemStore: oldest first; PostgresStore: newest
// first).
func (l *Log) Query(ctx context.Context, filters datastore.AuditQueryFilters, limit, offset int) ([]domain.AuditEntry, error) {
	entries, err := l.store.QueryAuditLog(ctx, filters, limit, offset)
	if err != nil {
		return nil, errcode.Wrap(errcode.AuditQueryFailed, err)
	}
	return entries, nil
}

// GetEntry fetches a single entry by ID.
func (l *Log) GetEntry(ctx context.Context, entryID string) (*domain.AuditEntry, error) {
	e, err := l.store.GetAuditEntry(ctx, entryID)
	if err != nil {
		return nil, errcode.Wrap(errcode.AuditEntryNotFound, err)
	}
	return e, nil
}

// VerifyEntry re-derives a single entry's integrity hash from its
// recorded prev_chain_hash and checks its signature, without walking
// the rest of the chain.
func (l *Log) VerifyEntry(ctx context.Context, entryID string) (bool, error) {
	e, err := l.GetEntry(ctx, entryID)
	if err != nil {
		return false, err
	}
	chainInput := e.PrevChainHash + ":" + canonicalize(*e)
	var expected string
	if l.signer != nil {
		expected = l.signer.ComputeHash(chainInput)
	} else {
		expected = fallbackHash(chainInput)
	}
	if expected != e.IntegrityHash {
		return false, nil
	}
	if e.Signature != "" && l.signer != nil {
		ok, verr := l.signer.Verify(e.IntegrityHash, e.Signature, l.signingKeyID())
		if verr != nil || !ok {
			return false, nil
		}
	}
	return true, nil
}

// VerifyChain re-derives every entry's integrity hash forward,
// stopping at the first mismatch. start/end (unix seconds, inclusive)
// bound the window; nil means from genesis / to the latest entry. A
// windowed verification seeds the running hash from the first
// entry's recorded prev_chain_hash instead of the genesis marker.
func (l *Log) VerifyChain(ctx context.Context, start, end *int64) (valid bool, entriesChecked int, firstInvalidID string, err error) {
	entries, qerr := l.store.QueryAuditLog(ctx, datastore.AuditQueryFilters{Since: start, Until: end}, 0, 0)
	if qerr != nil {
		return false, 0, "", errcode.Wrap(errcode.AuditVerificationFailed, qerr)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	prevHash := ""
	if start != nil && len(entries) > 0 {
		prevHash = entries[0].PrevChainHash
	}
	for _, e := range entries {
		entriesChecked++
		if e.PrevChainHash != prevHash {
			return false, entriesChecked, e.EntryID, nil
		}
		chainInput := prevHash + ":" + canonicalize(e)

		var expected string
		if l.signer != nil {
			expected = l.signer.ComputeHash(chainInput)
		} else {
			expected = fallbackHash(chainInput)
		}
		if expected != e.IntegrityHash {
			return false, entriesChecked, e.EntryID, nil
		}
		if e.Signature != "" && l.signer != nil {
			ok, verr := l.signer.Verify(e.IntegrityHash, e.Signature, l.signingKeyID())
			if verr != nil || !ok {
				return false, entriesChecked, e.EntryID, nil
			}
		}
		prevHash = e.IntegrityHash
	}
	return true, entriesChecked, "", nil
}

// GetStats reports audit log counters.
func (l *Log) GetStats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return map[string]any{"cached_recent_entries": len(l.recent), "last_chain_hash": l.lastChainHash}
}

// HealthCheck reports audit log health.
func (l *Log) HealthCheck(ctx context.Context) map[string]any {
	return map[string]any{"status": "healthy"}
}

// fallbackHash is used only when no SigningAdapter is configured, e.g.
// unit tests exercising the chain shape without a signer.
func fallbackHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
