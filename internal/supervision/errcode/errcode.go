// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package errcode defines the E8xxx error namespace shared by every
// supervision component. The numbers are preserved exactly as
// originally assigned; callers and API consumers depend on them for
// stability, not just the message text.
package errcode

// Code is a stable supervision-core error code.
type Code string

const (
	// Policy errors.
	PolicyNotFound          Code = "E8001"
	PolicyEvaluationFailed  Code = "E8002"
	PolicyCompilationFailed Code = "E8003"
	PolicyConflictDetected  Code = "E8004"
	PolicyInvalidCondition  Code = "E8005"
	PolicyVersionConflict   Code = "E8006"
	PolicyScopeInvalid      Code = "E8007"
	PolicyRuleInvalid       Code = "E8008"
	PolicyDeployFailed      Code = "E8009"
	PolicyRollbackFailed    Code = "E8010"
	PolicyCacheError        Code = "E8011"
	PolicyContextMissing    Code = "E8012"

	// Constraint errors.
	ConstraintViolation        Code = "E8101"
	RateLimitExceeded          Code = "E8102"
	QuotaExceeded              Code = "E8103"
	ResourceCapExceeded        Code = "E8104"
	ConstraintNotFound         Code = "E8105"
	ConstraintInvalid          Code = "E8106"
	ConstraintConflict         Code = "E8107"
	TemporalConstraintViolated Code = "E8108"
	BusinessHoursViolation     Code = "E8109"

	// Escalation errors.
	EscalationWorkflowFailed Code = "E8201"
	EscalationTimeout        Code = "E8202"
	NoApproverAvailable      Code = "E8203"
	EscalationNotFound       Code = "E8204"
	EscalationAlreadyResolved Code = "E8205"
	EscalationInvalidState   Code = "E8206"
	EscalationNotificationFailed Code = "E8207"
	EscalationMFARequired   Code = "E8208"
	EscalationMFAFailed     Code = "E8209"
	EscalationLevelExceeded Code = "E8210"

	// Anomaly errors.
	AnomalyDetectionFailed  Code = "E8301"
	InsufficientBaselineData Code = "E8302"
	BaselineComputationFailed Code = "E8303"
	AnomalyNotFound         Code = "E8304"
	MetricNotTracked        Code = "E8305"
	DetectionThresholdInvalid Code = "E8306"

	// Audit errors.
	AuditTrailWriteFailed   Code = "E8401"
	AuditSignatureInvalid   Code = "E8402"
	AuditEntryNotFound      Code = "E8403"
	AuditIntegrityViolation Code = "E8404"
	AuditQueryFailed        Code = "E8405"
	AuditVerificationFailed Code = "E8406"
	AuditRetentionExpired   Code = "E8407"

	// Access errors.
	AccessDenied           Code = "E8501"
	MFARequired            Code = "E8502"
	InsufficientPrivileges Code = "E8503"
	SessionExpired         Code = "E8504"
	TokenInvalid           Code = "E8505"
	PermissionNotFound     Code = "E8506"
	RoleNotAssigned        Code = "E8507"

	// Integration errors.
	L01ConnectionFailed   Code = "E8601"
	L10ConnectionFailed   Code = "E8602"
	VaultConnectionFailed Code = "E8603"
	RedisConnectionFailed Code = "E8604"
	ConsensusTimeout      Code = "E8605"
	BridgeNotInitialized  Code = "E8606"

	// Config errors.
	ConfigInvalid    Code = "E8701"
	ConfigMissing    Code = "E8702"
	ConfigLoadFailed Code = "E8703"

	// Performance errors.
	EvaluationTimeout Code = "E8801"
	CacheMiss         Code = "E8802"
	SLAViolation      Code = "E8803"

	// Internal errors.
	InternalError    Code = "E8901"
	NotImplemented   Code = "E8902"
	StateCorruption  Code = "E8903"
)

// Descriptions maps every code to its stable human-readable
// description.
var Descriptions = map[Code]string{
	PolicyNotFound:          "Policy not found in registry",
	PolicyEvaluationFailed:  "Policy evaluation failed",
	PolicyCompilationFailed: "Policy condition compilation failed",
	PolicyConflictDetected:  "Conflicting policy rules detected",
	PolicyInvalidCondition:  "Policy condition is invalid or unsafe",
	PolicyVersionConflict:   "Policy version conflict on update",
	PolicyScopeInvalid:      "Policy scope is invalid",
	PolicyRuleInvalid:       "Policy rule is invalid",
	PolicyDeployFailed:      "Policy deployment failed",
	PolicyRollbackFailed:    "Policy rollback failed",
	PolicyCacheError:        "Policy cache operation failed",
	PolicyContextMissing:    "Required policy evaluation context missing",

	ConstraintViolation:        "Constraint violation",
	RateLimitExceeded:          "Rate limit exceeded",
	QuotaExceeded:              "Quota exceeded",
	ResourceCapExceeded:        "Resource cap exceeded",
	ConstraintNotFound:         "Constraint not found",
	ConstraintInvalid:          "Constraint definition is invalid",
	ConstraintConflict:         "Conflicting constraint definitions",
	TemporalConstraintViolated: "Temporal constraint violated",
	BusinessHoursViolation:     "Action attempted outside business hours",

	EscalationWorkflowFailed:     "Escalation workflow failed",
	EscalationTimeout:            "Escalation timed out",
	NoApproverAvailable:          "No approver available for escalation",
	EscalationNotFound:           "Escalation workflow not found",
	EscalationAlreadyResolved:    "Escalation already resolved",
	EscalationInvalidState:       "Invalid escalation state transition",
	EscalationNotificationFailed: "Escalation notification failed",
	EscalationMFARequired:        "MFA required to resolve escalation",
	EscalationMFAFailed:          "MFA verification failed",
	EscalationLevelExceeded:      "Maximum escalation level exceeded",

	AnomalyDetectionFailed:    "Anomaly detection failed",
	InsufficientBaselineData:  "Insufficient baseline data for detection",
	BaselineComputationFailed: "Baseline computation failed",
	AnomalyNotFound:           "Anomaly not found",
	MetricNotTracked:          "Metric not tracked",
	DetectionThresholdInvalid: "Detection threshold is invalid",

	AuditTrailWriteFailed:   "Audit trail write failed",
	AuditSignatureInvalid:   "Audit entry signature invalid",
	AuditEntryNotFound:      "Audit entry not found",
	AuditIntegrityViolation: "Audit chain integrity violation",
	AuditQueryFailed:        "Audit query failed",
	AuditVerificationFailed: "Audit chain verification failed",
	AuditRetentionExpired:   "Audit retention period expired",

	AccessDenied:           "Access denied",
	MFARequired:            "Multi-factor authentication required",
	InsufficientPrivileges: "Insufficient privileges",
	SessionExpired:         "Session expired",
	TokenInvalid:           "Token invalid",
	PermissionNotFound:     "Permission not found",
	RoleNotAssigned:        "Role not assigned",

	L01ConnectionFailed:   "Connection to L01 failed",
	L10ConnectionFailed:   "Connection to L10 failed",
	VaultConnectionFailed: "Connection to Vault failed",
	RedisConnectionFailed: "Connection to Redis failed",
	ConsensusTimeout:      "Consensus operation timed out",
	BridgeNotInitialized:  "Integration bridge not initialized",

	ConfigInvalid:    "Configuration is invalid",
	ConfigMissing:    "Required configuration missing",
	ConfigLoadFailed:  "Configuration load failed",

	EvaluationTimeout: "Evaluation exceeded time budget",
	CacheMiss:         "Cache miss",
	SLAViolation:      "SLA violation",

	InternalError:   "Internal error",
	NotImplemented:  "Not implemented",
	StateCorruption: "Internal state corruption detected",
}

// Error is the supervision core's structured error type. It always
// carries one of the Code constants above plus a message and wraps
// the underlying cause, if any.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}
	return string(e.Code) + ": " + Descriptions[e.Code]
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error from a code, using the stable description as
// the message.
func New(code Code) *Error {
	return &Error{Code: code, Message: Descriptions[code]}
}

// Wrap builds an *Error around an existing error, preserving it via
// Unwrap.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Message: Descriptions[code], Err: err}
}

// WithDetails attaches structured details and returns the receiver
// for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithMessage overrides the default description with a specific
// message and returns the receiver for chaining.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}
