// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package notifier implements the NotifierAdapter contract: sending
// escalation notifications/reminders/resolutions and anomaly alerts,
// and verifying the MFA token an approver supplies when resolving an
// escalation. The dev-mode implementation signs outbound payloads
// with HMAC and tracks per-escalation notification status in memory,
// with delivery itself stubbed to a logger until a real channel
// (email/Slack/SMS) is wired in.
package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Notifier is the NotifierAdapter contract.
type Notifier interface {
	SendEscalationNotification(ctx context.Context, escalationID string, approvers []string, reason string, context map[string]any, priority int) error
	SendEscalationReminder(ctx context.Context, escalationID string, approvers []string, timeRemainingSeconds int) error
	SendEscalationResolved(ctx context.Context, escalationID string, approved bool, resolvedBy, notes string) error
	SendAnomalyAlert(ctx context.Context, anomalyID, agentID, severity, metricName, description string, recipients []string) error
	VerifyMFA(ctx context.Context, userID, mfaToken, escalationID string) (bool, error)
	GetNotificationStatus(escalationID string) (map[string]any, bool)
	HealthCheck(ctx context.Context) map[string]any
}

type status struct {
	LastEvent string
	SentAt    time.Time
	Payload   map[string]any
}

// DevNotifier is the dev-mode NotifierAdapter: it signs every payload
// and records delivery status, but does not call out to a real
// channel.
type DevNotifier struct {
	secret []byte

	mu     sync.Mutex
	status map[string]status

	log interface {
		Info(clientID, requestID, message string, fields map[string]any)
	}
}

// NewDevNotifier returns a DevNotifier keyed by webhookSecret (shared
// with whatever verifies inbound webhook signatures, if any).
func NewDevNotifier(webhookSecret string, log interface {
	Info(clientID, requestID, message string, fields map[string]any)
}) *DevNotifier {
	if webhookSecret == "" {
		webhookSecret = "dev-notifier-secret"
	}
	return &DevNotifier{secret: []byte(webhookSecret), status: make(map[string]status), log: log}
}

func (n *DevNotifier) sign(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(payload))
	for _, k := range keys {
		ordered[k] = payload[k]
	}
	b, _ := json.Marshal(ordered)
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil))
}

func (n *DevNotifier) record(escalationID, event string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status[escalationID] = status{LastEvent: event, SentAt: time.Now().UTC(), Payload: payload}
}

func (n *DevNotifier) SendEscalationNotification(_ context.Context, escalationID string, approvers []string, reason string, ctxFields map[string]any, priority int) error {
	payload := map[string]any{
		"escalation_id": escalationID, "approvers": approvers, "reason": reason,
		"context": ctxFields, "priority": priority,
	}
	payload["signature"] = n.sign(payload)
	n.record(escalationID, "notification", payload)
	n.log.Info("", escalationID, "escalation notification sent", map[string]any{"approvers": approvers, "priority": priority})
	return nil
}

func (n *DevNotifier) SendEscalationReminder(_ context.Context, escalationID string, approvers []string, timeRemainingSeconds int) error {
	payload := map[string]any{"escalation_id": escalationID, "approvers": approvers, "time_remaining_seconds": timeRemainingSeconds}
	payload["signature"] = n.sign(payload)
	n.record(escalationID, "reminder", payload)
	n.log.Info("", escalationID, "escalation reminder sent", map[string]any{"time_remaining_seconds": timeRemainingSeconds})
	return nil
}

func (n *DevNotifier) SendEscalationResolved(_ context.Context, escalationID string, approved bool, resolvedBy, notes string) error {
	payload := map[string]any{"escalation_id": escalationID, "approved": approved, "resolved_by": resolvedBy, "notes": notes}
	payload["signature"] = n.sign(payload)
	n.record(escalationID, "resolved", payload)
	n.log.Info("", escalationID, "escalation resolution notified", map[string]any{"approved": approved, "resolved_by": resolvedBy})
	return nil
}

func (n *DevNotifier) SendAnomalyAlert(_ context.Context, anomalyID, agentID, severity, metricName, description string, recipients []string) error {
	payload := map[string]any{
		"anomaly_id": anomalyID, "agent_id": agentID, "severity": severity,
		"metric_name": metricName, "description": description, "recipients": recipients,
	}
	payload["signature"] = n.sign(payload)
	n.record(anomalyID, "anomaly_alert", payload)
	n.log.Info("", anomalyID, "anomaly alert sent", map[string]any{"severity": severity, "recipients": recipients})
	return nil
}

// VerifyMFA accepts any well-formed 6-digit numeric token in dev
// mode.
func (n *DevNotifier) VerifyMFA(_ context.Context, userID, mfaToken, escalationID string) (bool, error) {
	if len(mfaToken) != 6 {
		return false, nil
	}
	for _, r := range mfaToken {
		if r < '0' || r > '9' {
			return false, nil
		}
	}
	return true, nil
}

func (n *DevNotifier) GetNotificationStatus(escalationID string) (map[string]any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.status[escalationID]
	if !ok {
		return nil, false
	}
	return map[string]any{"last_event": st.LastEvent, "sent_at": st.SentAt}, true
}

func (n *DevNotifier) HealthCheck(_ context.Context) map[string]any {
	return map[string]any{"status": "healthy", "dev_mode": true}
}
