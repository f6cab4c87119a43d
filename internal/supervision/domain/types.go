// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package domain holds the shared types exchanged between the
// supervision components: policies, constraints, anomalies,
// escalation workflows, audit entries, and compliance status.
package domain

import "time"

// PolicyVerdict is the outcome of evaluating a request against the
// active policy set.
type PolicyVerdict string

const (
	VerdictAllow    PolicyVerdict = "ALLOW"
	VerdictDeny     PolicyVerdict = "DENY"
	VerdictEscalate PolicyVerdict = "ESCALATE"
)

// AnomalySeverity classifies a detected anomaly.
type AnomalySeverity string

const (
	SeverityCritical AnomalySeverity = "CRITICAL"
	SeverityHigh     AnomalySeverity = "HIGH"
	SeverityMedium   AnomalySeverity = "MEDIUM"
	SeverityLow      AnomalySeverity = "LOW"
)

// EscalationStatus is the state of an escalation workflow.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "PENDING"
	EscalationNotified  EscalationStatus = "NOTIFIED"
	EscalationWaiting   EscalationStatus = "WAITING"
	EscalationAssigned  EscalationStatus = "ASSIGNED"
	EscalationInReview  EscalationStatus = "IN_REVIEW"
	EscalationApproved  EscalationStatus = "APPROVED"
	EscalationRejected  EscalationStatus = "REJECTED"
	EscalationTimedOut  EscalationStatus = "TIMED_OUT"
)

// ValidTransitions is the escalation workflow's state machine.
var ValidTransitions = map[EscalationStatus][]EscalationStatus{
	EscalationPending:  {EscalationNotified, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationNotified: {EscalationWaiting, EscalationAssigned, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationWaiting:  {EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationAssigned: {EscalationInReview, EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationInReview: {EscalationApproved, EscalationRejected, EscalationTimedOut},
	EscalationApproved: {},
	EscalationRejected: {},
	EscalationTimedOut: {},
}

// IsValidTransition reports whether from->to is allowed.
func IsValidTransition(from, to EscalationStatus) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ConstraintType distinguishes the kinds of constraint enforced by
// ConstraintEnforcer.
type ConstraintType string

const (
	ConstraintRateLimit         ConstraintType = "RATE_LIMIT"
	ConstraintQuota             ConstraintType = "QUOTA"
	ConstraintResourceCap       ConstraintType = "RESOURCE_CAP"
	ConstraintOperationRestrict ConstraintType = "OPERATION_RESTRICTION"
	ConstraintTemporal          ConstraintType = "TEMPORAL"
)

// PolicyRule is a single condition/action pair within a PolicyDefinition.
type PolicyRule struct {
	RuleID    string        `json:"rule_id"`
	Condition string        `json:"condition"`
	Action    PolicyVerdict `json:"action"`
	Priority  int           `json:"priority"`
	Enabled   bool          `json:"enabled"`
	Reason    string        `json:"reason,omitempty"`
}

// PolicyDefinition groups rules under a named, versioned, scoped
// policy document.
type PolicyDefinition struct {
	PolicyID  string       `json:"policy_id"`
	Name      string       `json:"name"`
	Version   int          `json:"version"`
	Scope     string       `json:"scope"`
	Rules     []PolicyRule `json:"rules"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PolicyDecision is the result of PolicyEngine.Evaluate.
type PolicyDecision struct {
	DecisionID    string                 `json:"decision_id"`
	AgentID       string                 `json:"agent_id"`
	Verdict       PolicyVerdict          `json:"verdict"`
	Confidence    float64                `json:"confidence"`
	MatchedRules  []string               `json:"matched_rules"`
	Policies      []string               `json:"policies"`
	Explanation   string                 `json:"explanation"`
	LatencyMS     float64                `json:"latency_ms"`
	AuditEventID  string                 `json:"audit_event_id,omitempty"`
	RequestContext map[string]any        `json:"request_context,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// TemporalConstraintConfig bounds a constraint to business hours
// and/or allowed weekdays.
type TemporalConstraintConfig struct {
	BusinessHoursOnly bool   `json:"business_hours_only"`
	StartHour         int    `json:"start_hour"`
	EndHour           int    `json:"end_hour"`
	AllowedDays       []int  `json:"allowed_days"` // 0=Mon..6=Sun
	Timezone          string `json:"timezone"`
}

// Constraint is a rate/quota/resource/temporal limit attached to an
// agent or scope.
type Constraint struct {
	ConstraintID   string                    `json:"constraint_id"`
	Name           string                    `json:"name"`
	Description    string                    `json:"description"`
	ConstraintType ConstraintType            `json:"constraint_type"`
	Limit          float64                   `json:"limit"`
	WindowSeconds  int                       `json:"window_seconds"`
	AgentID        string                    `json:"agent_id"`
	Scope          string                    `json:"scope"`
	TemporalConfig *TemporalConstraintConfig `json:"temporal_config,omitempty"`
	// AllowedOperations backs OPERATION_RESTRICTION constraints: the
	// caller-provided operation must appear in this set, or the check
	// is denied. Empty means no operation is allowed.
	AllowedOperations []string `json:"allowed_operations,omitempty"`
	Enabled           bool     `json:"enabled"`
}

// ConstraintViolation records a single failed constraint check.
type ConstraintViolation struct {
	ViolationID    string         `json:"violation_id"`
	ConstraintID   string         `json:"constraint_id"`
	ConstraintName string         `json:"constraint_name"`
	AgentID        string         `json:"agent_id"`
	CurrentUsage   float64        `json:"current_usage"`
	Limit          float64        `json:"limit"`
	ViolationType  ConstraintType `json:"violation_type"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// BaselineStats is the rolling statistical baseline for one
// (agent, metric) pair.
type BaselineStats struct {
	AgentID     string    `json:"agent_id"`
	MetricName  string    `json:"metric_name"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Q1          float64   `json:"q1"`
	Q3          float64   `json:"q3"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Anomaly is a single detected deviation from baseline.
type Anomaly struct {
	AnomalyID       string          `json:"anomaly_id"`
	AgentID         string          `json:"agent_id"`
	MetricName      string          `json:"metric_name"`
	BaselineValue   float64         `json:"baseline_value"`
	Value           float64         `json:"value"`
	ZScore          float64         `json:"z_score"`
	IQRScore        float64         `json:"iqr_score"`
	DetectionMethod string          `json:"detection_method"`
	Severity        AnomalySeverity `json:"severity"`
	Confidence      float64         `json:"confidence"`
	Description     string          `json:"description"`
	Acknowledged    bool            `json:"acknowledged"`
	AcknowledgedBy  string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time      `json:"acknowledged_at,omitempty"`
	DetectedAt      time.Time       `json:"detected_at"`
}

// EscalationWorkflow tracks a human-in-the-loop approval flow.
type EscalationWorkflow struct {
	WorkflowID       string                 `json:"workflow_id"`
	DecisionID       string                 `json:"decision_id"`
	Status           EscalationStatus       `json:"status"`
	EscalationLevel  int                    `json:"escalation_level"`
	Reason           string                 `json:"reason"`
	Context          map[string]any         `json:"context,omitempty"`
	Approvers        []string               `json:"approvers"`
	AssignedTo       string                 `json:"assigned_to,omitempty"`
	ResolutionNotes  string                 `json:"resolution_notes,omitempty"`
	MFAVerified      bool                   `json:"mfa_verified"`
	CreatedAt        time.Time              `json:"created_at"`
	NotifiedAt       *time.Time             `json:"notified_at,omitempty"`
	TimeoutAt        time.Time              `json:"timeout_at"`
	ResolvedAt       *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy       string                 `json:"resolved_by,omitempty"`
}

// AuditEntry is one hash-chained, optionally signed, append-only log
// record.
type AuditEntry struct {
	EntryID   string `json:"entry_id"`
	EventType string `json:"event_type"`
	AgentID   string `json:"agent_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	// ActorType is one of "agent", "user", or "system".
	ActorType          string         `json:"actor_type,omitempty"`
	ResourceType       string         `json:"resource_type,omitempty"`
	ResourceID         string         `json:"resource_id,omitempty"`
	ParentAuditID      string         `json:"parent_audit_id,omitempty"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
	PrevChainHash      string         `json:"prev_chain_hash"`
	IntegrityHash      string         `json:"integrity_hash"`
	Signature          string         `json:"signature,omitempty"`
	SignatureAlgorithm string         `json:"signature_algorithm,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// AuditMeta carries the structured identity and correlation fields of
// an audit entry that QueryAudit can filter on, distinct from the
// free-form Details payload.
type AuditMeta struct {
	// ActorType is one of "agent", "user", or "system".
	ActorType     string
	ResourceType  string
	ResourceID    string
	ParentAuditID string
	CorrelationID string
}

// ComplianceStatus is the rolling scorecard for one entity (usually
// an agent).
type ComplianceStatus struct {
	EntityID             string    `json:"entity_id"`
	EntityType           string    `json:"entity_type"`
	PolicyEvaluations    int       `json:"policy_evaluations"`
	PolicyViolations     int       `json:"policy_violations"`
	PolicyEscalations    int       `json:"policy_escalations"`
	ConstraintChecks     int       `json:"constraint_checks"`
	ConstraintViolations int       `json:"constraint_violations"`
	AnomaliesDetected    int       `json:"anomalies_detected"`
	CriticalAnomalies    int       `json:"critical_anomalies"`
	UnacknowledgedAnoms  int       `json:"unacknowledged_anomalies"`
	PendingEscalations   int       `json:"pending_escalations"`
	ApprovedEscalations  int       `json:"approved_escalations"`
	RejectedEscalations  int       `json:"rejected_escalations"`
	TimeoutEscalations   int       `json:"timeout_escalations"`
	ComplianceScore      float64   `json:"compliance_score"`
	RiskLevel            string    `json:"risk_level"`
	PeriodStart          time.Time `json:"period_start"`
	PeriodEnd            time.Time `json:"period_end"`
	LastUpdated          time.Time `json:"last_updated"`
}

// AgentContext is the minimal per-agent profile PolicyEngine merges
// into the evaluation context.
type AgentContext struct {
	AgentID     string   `json:"agent_id"`
	Team        string   `json:"team"`
	Department  string   `json:"department"`
	Permissions []string `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdminUser is a principal managed by AccessControl.
type AdminUser struct {
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions"`
	Roles       []string  `json:"roles"`
	MFAEnabled  bool      `json:"mfa_enabled"`
	GrantedAt   time.Time `json:"granted_at"`
	GrantedBy   string    `json:"granted_by"`
}
