// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package escalation implements EscalationOrchestrator: the
// human-in-the-loop workflow state machine, its per-workflow timeout
// monitor, and MFA-gated resolution.
package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/adapters/notifier"
	"guardrail/platform/internal/supervision/config"
	"guardrail/platform/internal/supervision/domain"
	"guardrail/platform/internal/supervision/errcode"
)

// AuditSink is the logging seam for escalation lifecycle events.
type AuditSink interface {
	LogAction(ctx context.Context, eventType, agentID, actorID string, meta domain.AuditMeta, details map[string]any) (string, error)
}

type logger interface {
	Info(clientID, requestID, message string, fields map[string]any)
	Warn(clientID, requestID, message string, fields map[string]any)
}

// Orchestrator is the EscalationOrchestrator component. Each active
// workflow has exactly one timeout-monitor goroutine, tracked by
// cancel function so Resolve can stop it before the workflow reaches
// a terminal state.
type Orchestrator struct {
	store    datastore.Store
	notifier notifier.Notifier
	audit    AuditSink
	cfg      *config.Config
	log      logger

	mu       sync.Mutex
	monitors map[string]context.CancelFunc
	wg       sync.WaitGroup

	// stateMu serialises every re-read-then-mutate of workflow state
	// (Resolve, auto-escalation, timeout), so a monitor firing
	// concurrently with a resolution can never both persist a terminal
	// transition.
	stateMu sync.Mutex

	bg context.Context
}

// New builds an EscalationOrchestrator. bg is the long-lived context
// timeout monitors run under; cancelling it (e.g. at shutdown) stops
// every monitor.
func New(bg context.Context, store datastore.Store, n notifier.Notifier, audit AuditSink, cfg *config.Config, log logger) *Orchestrator {
	return &Orchestrator{bg: bg, store: store, notifier: n, audit: audit, cfg: cfg, log: log, monitors: make(map[string]context.CancelFunc)}
}

// CreateEscalation opens a new workflow, starts its timeout monitor,
// and fires the initial notification off in the background so the
// caller (often the hot EvaluateRequest path) never blocks on
// notifier latency or its retry/backoff loop.
func (o *Orchestrator) CreateEscalation(ctx context.Context, decisionID, reason string, reqContext map[string]any, approvers []string) (*domain.EscalationWorkflow, error) {
	now := time.Now().UTC()
	w := domain.EscalationWorkflow{
		WorkflowID:      uuid.NewString(),
		DecisionID:      decisionID,
		Status:          domain.EscalationPending,
		EscalationLevel: 1,
		Reason:          reason,
		Context:         reqContext,
		Approvers:       approvers,
		CreatedAt:       now,
		TimeoutAt:       now.Add(time.Duration(o.cfg.EscalationTimeoutSeconds) * time.Second),
	}
	if err := o.store.CreateEscalation(ctx, w); err != nil {
		return nil, errcode.Wrap(errcode.EscalationWorkflowFailed, err)
	}
	if o.audit != nil {
		_, _ = o.audit.LogAction(ctx, "escalation_created", "", "", domain.AuditMeta{ActorType: "system", ResourceType: "escalation_workflow", ResourceID: w.WorkflowID, CorrelationID: decisionID}, map[string]any{"workflow_id": w.WorkflowID, "reason": reason})
	}

	o.startMonitor(w.WorkflowID)
	o.spawnNotify(w.WorkflowID, 1)

	return &w, nil
}

// spawnNotify fires notifyApprovers on its own goroutine, tracked by
// wg so Shutdown/Cleanup can drain it, and bound to the orchestrator's
// long-lived background context rather than the caller's request
// context (which may be cancelled long before the retry/backoff loop
// finishes).
func (o *Orchestrator) spawnNotify(workflowID string, priority int) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.notifyApprovers(o.bg, workflowID, priority)
	}()
}

// notifyApprovers sends a notification with retry and exponential
// backoff, transitioning PENDING->NOTIFIED on success; a workflow
// already past PENDING keeps its status and notified_at. It always
// re-reads the workflow from the store immediately before
// acting, so a concurrent Resolve racing ahead of a slow notification
// is never clobbered.
func (o *Orchestrator) notifyApprovers(ctx context.Context, workflowID string, priority int) {
	w, err := o.store.GetEscalation(ctx, workflowID)
	if err != nil {
		return
	}

	var lastErr error
	for attempt := 0; attempt < o.cfg.EscalationRetryCount; attempt++ {
		err := o.notifier.SendEscalationNotification(ctx, workflowID, w.Approvers, w.Reason, w.Context, priority)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		delay := time.Duration(o.cfg.EscalationRetryDelaySeconds) * time.Second * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	if lastErr != nil {
		o.log.Warn("", workflowID, "escalation notification failed after retries", map[string]any{"error": lastErr.Error()})
		return
	}

	cur, err := o.store.GetEscalation(ctx, workflowID)
	if err != nil {
		return
	}
	if !domain.IsValidTransition(cur.Status, domain.EscalationNotified) {
		return
	}
	cur.Status = domain.EscalationNotified
	now := time.Now().UTC()
	cur.NotifiedAt = &now
	if err := o.store.UpdateEscalation(ctx, *cur); err != nil {
		o.log.Warn("", workflowID, "failed to persist notified status", map[string]any{"error": err.Error()})
		return
	}
	if o.audit != nil {
		_, _ = o.audit.LogAction(ctx, "escalation_notified", "", "", domain.AuditMeta{ActorType: "system", ResourceType: "escalation_workflow", ResourceID: workflowID}, map[string]any{"workflow_id": workflowID})
	}
}

func (o *Orchestrator) startMonitor(workflowID string) {
	ctx, cancel := context.WithCancel(o.bg)
	o.mu.Lock()
	o.monitors[workflowID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.monitorTimeout(ctx, workflowID)
}

func (o *Orchestrator) stopMonitor(workflowID string) {
	o.mu.Lock()
	cancel, ok := o.monitors[workflowID]
	if ok {
		delete(o.monitors, workflowID)
	}
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// monitorTimeout is the single goroutine responsible for a workflow's
// reminder/timeout schedule. It always re-reads the workflow from the
// store before acting, so a concurrent Resolve can never be clobbered
// by a stale in-memory view. Auto-escalation extends the deadline and
// continues the same goroutine rather than spawning a replacement, so
// the monitors map entry (and its cancel func) stays valid for the
// workflow's whole life.
func (o *Orchestrator) monitorTimeout(ctx context.Context, workflowID string) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.monitors, workflowID)
		o.mu.Unlock()
	}()

	for {
		w, err := o.store.GetEscalation(ctx, workflowID)
		if err != nil || isTerminal(w.Status) {
			return
		}
		start := time.Now().UTC()
		total := w.TimeoutAt.Sub(start)
		if total <= 0 {
			if !o.handleTimeout(ctx, workflowID) {
				return
			}
			continue
		}

		for _, frac := range []float64{0.5, 0.8, 1.0} {
			target := start.Add(time.Duration(float64(total) * frac))
			if err := sleepUntil(ctx, target); err != nil {
				return // cancelled, e.g. resolved
			}

			cur, err := o.store.GetEscalation(ctx, workflowID)
			if err != nil {
				return
			}
			if isTerminal(cur.Status) {
				return
			}

			if frac < 1.0 {
				remaining := time.Until(cur.TimeoutAt)
				_ = o.notifier.SendEscalationReminder(ctx, workflowID, cur.Approvers, int(remaining.Seconds()))
			}
		}

		// Still non-terminal at 100% of the budget.
		if !o.handleTimeout(ctx, workflowID) {
			return
		}
	}
}

func sleepUntil(ctx context.Context, target time.Time) error {
	d := time.Until(target)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleTimeout fires when a workflow exhausts its deadline. It
// returns true if the workflow was auto-escalated (the monitor should
// keep running against the extended deadline) and false if it reached
// TIMED_OUT or was resolved/failed in the meantime.
func (o *Orchestrator) handleTimeout(ctx context.Context, workflowID string) bool {
	o.stateMu.Lock()

	w, err := o.store.GetEscalation(ctx, workflowID)
	if err != nil || isTerminal(w.Status) {
		o.stateMu.Unlock()
		return false
	}

	if w.EscalationLevel < o.cfg.MaxEscalationLevel {
		w.EscalationLevel++
		w.TimeoutAt = time.Now().UTC().Add(time.Duration(o.cfg.EscalationTimeoutSeconds) * time.Second)
		if err := o.store.UpdateEscalation(ctx, *w); err != nil {
			o.stateMu.Unlock()
			o.log.Warn("", w.WorkflowID, "failed to persist auto-escalation", map[string]any{"error": err.Error()})
			return false
		}
		o.stateMu.Unlock()
		if o.audit != nil {
			_, _ = o.audit.LogAction(ctx, "escalation_auto_escalated", "", "", domain.AuditMeta{ActorType: "system", ResourceType: "escalation_workflow", ResourceID: w.WorkflowID}, map[string]any{"workflow_id": w.WorkflowID, "level": w.EscalationLevel})
		}
		priority := w.EscalationLevel + 1
		if priority > 3 {
			priority = 3
		}
		o.spawnNotify(w.WorkflowID, priority)
		return true
	}

	w.Status = domain.EscalationTimedOut
	w.ResolutionNotes = "Automatically timed out after maximum escalation level"
	now := time.Now().UTC()
	w.ResolvedAt = &now
	if err := o.store.UpdateEscalation(ctx, *w); err != nil {
		o.stateMu.Unlock()
		o.log.Warn("", w.WorkflowID, "failed to persist timeout", map[string]any{"error": err.Error()})
		return false
	}
	o.stateMu.Unlock()
	if o.audit != nil {
		_, _ = o.audit.LogAction(ctx, "escalation_timed_out", "", "", domain.AuditMeta{ActorType: "system", ResourceType: "escalation_workflow", ResourceID: w.WorkflowID}, map[string]any{"workflow_id": w.WorkflowID})
	}
	return false
}

func isTerminal(s domain.EscalationStatus) bool {
	return len(domain.ValidTransitions[s]) == 0
}

// Assign sets the assignee and transitions NOTIFIED->ASSIGNED, the
// only edge into ASSIGNED in domain.ValidTransitions.
func (o *Orchestrator) Assign(ctx context.Context, workflowID, assignedTo string) error {
	w, err := o.store.GetEscalation(ctx, workflowID)
	if err != nil {
		return errcode.Wrap(errcode.EscalationNotFound, err)
	}
	if !domain.IsValidTransition(w.Status, domain.EscalationAssigned) {
		return errcode.New(errcode.EscalationInvalidState)
	}
	w.Status = domain.EscalationAssigned
	w.AssignedTo = assignedTo
	return o.store.UpdateEscalation(ctx, *w)
}

// Resolve approves or rejects a pending escalation. If MFA is
// required, mfaToken must verify via the NotifierAdapter's dev-mode
// check (any well-formed 6-digit token) before the resolution is
// accepted.
func (o *Orchestrator) Resolve(ctx context.Context, workflowID string, approved bool, resolvedBy, notes, mfaToken string) (*domain.EscalationWorkflow, error) {
	w, err := o.store.GetEscalation(ctx, workflowID)
	if err != nil {
		return nil, errcode.Wrap(errcode.EscalationNotFound, err)
	}
	if isTerminal(w.Status) {
		return nil, errcode.New(errcode.EscalationAlreadyResolved)
	}

	target := domain.EscalationRejected
	if approved {
		target = domain.EscalationApproved
	}
	if !domain.IsValidTransition(w.Status, target) {
		return nil, errcode.New(errcode.EscalationInvalidState)
	}

	mfaVerified := false
	if o.cfg.RequireMFAForApproval {
		if mfaToken == "" {
			return nil, errcode.New(errcode.EscalationMFARequired)
		}
		ok, err := o.notifier.VerifyMFA(ctx, resolvedBy, mfaToken, workflowID)
		if err != nil {
			return nil, errcode.Wrap(errcode.EscalationMFAFailed, err)
		}
		if !ok {
			return nil, errcode.New(errcode.EscalationMFAFailed)
		}
		mfaVerified = true
	}

	// MFA is verified outside stateMu (it's a network call); the state
	// is re-read under the lock so a timeout firing in between loses
	// cleanly.
	o.stateMu.Lock()
	w, err = o.store.GetEscalation(ctx, workflowID)
	if err != nil {
		o.stateMu.Unlock()
		return nil, errcode.Wrap(errcode.EscalationNotFound, err)
	}
	if isTerminal(w.Status) {
		o.stateMu.Unlock()
		return nil, errcode.New(errcode.EscalationAlreadyResolved)
	}
	if !domain.IsValidTransition(w.Status, target) {
		o.stateMu.Unlock()
		return nil, errcode.New(errcode.EscalationInvalidState)
	}

	w.Status = target
	w.ResolutionNotes = notes
	w.ResolvedBy = resolvedBy
	w.MFAVerified = mfaVerified
	now := time.Now().UTC()
	w.ResolvedAt = &now

	if err := o.store.UpdateEscalation(ctx, *w); err != nil {
		o.stateMu.Unlock()
		return nil, errcode.Wrap(errcode.EscalationWorkflowFailed, err)
	}
	o.stateMu.Unlock()

	o.stopMonitor(workflowID)
	if o.audit != nil {
		_, _ = o.audit.LogAction(ctx, "escalation_resolved", "", resolvedBy, domain.AuditMeta{
			ActorType: "user", ResourceType: "escalation_workflow", ResourceID: workflowID,
		}, map[string]any{
			"workflow_id": workflowID, "approved": approved, "notes": notes,
		})
	}
	_ = o.notifier.SendEscalationResolved(ctx, workflowID, approved, resolvedBy, notes)

	return w, nil
}

// GetPendingEscalations lists non-terminal workflows.
func (o *Orchestrator) GetPendingEscalations(ctx context.Context) ([]domain.EscalationWorkflow, error) {
	return o.store.GetPendingEscalations(ctx)
}

// GetStats reports active-monitor count.
func (o *Orchestrator) GetStats() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return map[string]any{"active_monitors": len(o.monitors)}
}

// HealthCheck reports orchestrator health.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]any {
	return map[string]any{"status": "healthy"}
}

// Cleanup cancels every running timeout monitor and waits for them to
// exit.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.monitors))
	for _, c := range o.monitors {
		cancels = append(cancels, c)
	}
	o.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	o.wg.Wait()
}
