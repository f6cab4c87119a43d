// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads the supervision core's tunables from the
// environment, with an optional YAML overlay for file-based
// deployments.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the supervision components read.
type Config struct {
	DevMode bool `yaml:"dev_mode"`

	// Policy
	EnablePolicyCaching      bool `yaml:"enable_policy_caching"`
	PolicyCacheMaxSize       int  `yaml:"policy_cache_max_size"`
	PolicyCacheTTLSeconds    int  `yaml:"policy_cache_ttl_seconds"`
	MaxPolicyVersionHistory  int  `yaml:"max_policy_version_history"`
	PolicyEvaluationTimeoutMS int `yaml:"policy_evaluation_timeout_ms"`
	DenyWinsRule             bool `yaml:"deny_wins_rule"`

	// Constraint
	EnableConstraintEnforcement bool `yaml:"enable_constraint_enforcement"`
	RateLimitWindowSeconds      int  `yaml:"rate_limit_window_seconds"`
	AllowOnConsensusFail        bool `yaml:"allow_on_consensus_fail"`
	RedisScriptTimeoutMS        int  `yaml:"redis_script_timeout_ms"`

	// Anomaly
	EnableAnomalyDetection   bool    `yaml:"enable_anomaly_detection"`
	AnomalyDetectionWindowHours int  `yaml:"anomaly_detection_window_hours"`
	BaselineSampleSize       int     `yaml:"baseline_sample_size"`
	MinBaselineSamples       int     `yaml:"min_baseline_samples"`
	ZScoreThreshold          float64 `yaml:"z_score_threshold"`
	IQRMultiplier            float64 `yaml:"iqr_multiplier"`
	RollingWindowDays        int     `yaml:"rolling_window_days"`

	// Escalation
	EscalationTimeoutSeconds        int  `yaml:"escalation_timeout_seconds"`
	EscalationRetryCount            int  `yaml:"escalation_retry_count"`
	EscalationRetryDelaySeconds     int  `yaml:"escalation_retry_delay_seconds"`
	EnableEscalationNotifications   bool `yaml:"enable_escalation_notifications"`
	MaxEscalationLevel              int  `yaml:"max_escalation_level"`
	RequireMFAForApproval           bool `yaml:"require_mfa_for_approval"`

	// Audit
	EnableImmutableAudit    bool   `yaml:"enable_immutable_audit"`
	AuditRetentionDays      int    `yaml:"audit_retention_days"`
	AuditSigningEnabled     bool   `yaml:"audit_signing_enabled"`
	AuditSigningKeyID       string `yaml:"audit_signing_key_id"`
	AuditBatchSize          int    `yaml:"audit_batch_size"`
	AuditFlushIntervalSeconds int  `yaml:"audit_flush_interval_seconds"`

	// Access
	RequireMFAForAdmin   bool `yaml:"require_mfa_for_admin"`
	AdminActionLogging   bool `yaml:"admin_action_logging"`
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`

	// Integration
	L01BaseURL        string `yaml:"l01_base_url"`
	L01TimeoutSeconds int    `yaml:"l01_timeout_seconds"`
	L10BaseURL        string `yaml:"l10_base_url"`
	L10TimeoutSeconds int    `yaml:"l10_timeout_seconds"`
	VaultURL          string `yaml:"vault_url"`
	VaultMountPath    string `yaml:"vault_mount_path"`
	RedisURL          string `yaml:"redis_url"`

	// Performance
	MaxConcurrentEvaluations int    `yaml:"max_concurrent_evaluations"`
	EvaluationQueueSize      int    `yaml:"evaluation_queue_size"`
	MetricsEnabled           bool   `yaml:"metrics_enabled"`
	MetricsPrefix            string `yaml:"metrics_prefix"`
}

// Default returns the configuration every tunable starts from when
// no environment or file override is present.
func Default() *Config {
	return &Config{
		DevMode: true,

		EnablePolicyCaching:       true,
		PolicyCacheMaxSize:        1000,
		PolicyCacheTTLSeconds:     300,
		MaxPolicyVersionHistory:   10,
		PolicyEvaluationTimeoutMS: 100,
		DenyWinsRule:              true,

		EnableConstraintEnforcement: true,
		RateLimitWindowSeconds:      60,
		AllowOnConsensusFail:        false,
		RedisScriptTimeoutMS:        50,

		EnableAnomalyDetection:      true,
		AnomalyDetectionWindowHours: 24,
		BaselineSampleSize:          1000,
		MinBaselineSamples:          30,
		ZScoreThreshold:             3.0,
		IQRMultiplier:               1.5,
		RollingWindowDays:           30,

		EscalationTimeoutSeconds:      300,
		EscalationRetryCount:          3,
		EscalationRetryDelaySeconds:   2,
		EnableEscalationNotifications: true,
		MaxEscalationLevel:            3,
		RequireMFAForApproval:         true,

		EnableImmutableAudit:      true,
		AuditRetentionDays:        365,
		AuditSigningEnabled:       true,
		AuditSigningKeyID:         "audit_signer_v1",
		AuditBatchSize:            100,
		AuditFlushIntervalSeconds: 5,

		RequireMFAForAdmin:    true,
		AdminActionLogging:    true,
		SessionTimeoutMinutes: 60,

		L01BaseURL:        "http://localhost:8001",
		L01TimeoutSeconds: 30,
		L10BaseURL:        "http://localhost:8010",
		L10TimeoutSeconds: 30,
		VaultMountPath:    "transit",
		RedisURL:          "redis://localhost:6379/0",

		MaxConcurrentEvaluations: 100,
		EvaluationQueueSize:      1000,
		MetricsEnabled:           true,
		MetricsPrefix:            "l08_supervision",
	}
}

// Load builds a Config starting from Default() and overriding with
// L08_*/L01_*/L10_*/VAULT_*/REDIS_URL environment variables.
func Load() *Config {
	c := Default()

	c.DevMode = envBool("L08_DEV_MODE", c.DevMode)

	c.EnablePolicyCaching = envBool("L08_ENABLE_POLICY_CACHING", c.EnablePolicyCaching)
	c.PolicyCacheMaxSize = envInt("L08_POLICY_CACHE_MAX_SIZE", c.PolicyCacheMaxSize)
	c.PolicyCacheTTLSeconds = envInt("L08_POLICY_CACHE_TTL_SECONDS", c.PolicyCacheTTLSeconds)
	c.MaxPolicyVersionHistory = envInt("L08_MAX_POLICY_VERSION_HISTORY", c.MaxPolicyVersionHistory)
	c.PolicyEvaluationTimeoutMS = envInt("L08_POLICY_EVALUATION_TIMEOUT_MS", c.PolicyEvaluationTimeoutMS)
	c.DenyWinsRule = envBool("L08_DENY_WINS_RULE", c.DenyWinsRule)

	c.EnableConstraintEnforcement = envBool("L08_ENABLE_CONSTRAINT_ENFORCEMENT", c.EnableConstraintEnforcement)
	c.RateLimitWindowSeconds = envInt("L08_RATE_LIMIT_WINDOW_SECONDS", c.RateLimitWindowSeconds)
	c.AllowOnConsensusFail = envBool("L08_ALLOW_ON_CONSENSUS_FAIL", c.AllowOnConsensusFail)
	c.RedisScriptTimeoutMS = envInt("L08_REDIS_SCRIPT_TIMEOUT_MS", c.RedisScriptTimeoutMS)

	c.EnableAnomalyDetection = envBool("L08_ENABLE_ANOMALY_DETECTION", c.EnableAnomalyDetection)
	c.AnomalyDetectionWindowHours = envInt("L08_ANOMALY_DETECTION_WINDOW_HOURS", c.AnomalyDetectionWindowHours)
	c.BaselineSampleSize = envInt("L08_BASELINE_SAMPLE_SIZE", c.BaselineSampleSize)
	c.MinBaselineSamples = envInt("L08_MIN_BASELINE_SAMPLES", c.MinBaselineSamples)
	c.ZScoreThreshold = envFloat("L08_Z_SCORE_THRESHOLD", c.ZScoreThreshold)
	c.IQRMultiplier = envFloat("L08_IQR_MULTIPLIER", c.IQRMultiplier)
	c.RollingWindowDays = envInt("L08_ROLLING_WINDOW_DAYS", c.RollingWindowDays)

	c.EscalationTimeoutSeconds = envInt("L08_ESCALATION_TIMEOUT_SECONDS", c.EscalationTimeoutSeconds)
	c.EscalationRetryCount = envInt("L08_ESCALATION_RETRY_COUNT", c.EscalationRetryCount)
	c.EscalationRetryDelaySeconds = envInt("L08_ESCALATION_RETRY_DELAY_SECONDS", c.EscalationRetryDelaySeconds)
	c.EnableEscalationNotifications = envBool("L08_ENABLE_ESCALATION_NOTIFICATIONS", c.EnableEscalationNotifications)
	c.MaxEscalationLevel = envInt("L08_MAX_ESCALATION_LEVEL", c.MaxEscalationLevel)
	c.RequireMFAForApproval = envBool("L08_REQUIRE_MFA_FOR_APPROVAL", c.RequireMFAForApproval)

	c.EnableImmutableAudit = envBool("L08_ENABLE_IMMUTABLE_AUDIT", c.EnableImmutableAudit)
	c.AuditRetentionDays = envInt("L08_AUDIT_RETENTION_DAYS", c.AuditRetentionDays)
	c.AuditSigningEnabled = envBool("L08_AUDIT_SIGNING_ENABLED", c.AuditSigningEnabled)
	c.AuditSigningKeyID = envStr("L08_AUDIT_SIGNING_KEY_ID", c.AuditSigningKeyID)
	c.AuditBatchSize = envInt("L08_AUDIT_BATCH_SIZE", c.AuditBatchSize)
	c.AuditFlushIntervalSeconds = envInt("L08_AUDIT_FLUSH_INTERVAL_SECONDS", c.AuditFlushIntervalSeconds)

	c.RequireMFAForAdmin = envBool("L08_REQUIRE_MFA_FOR_ADMIN", c.RequireMFAForAdmin)
	c.AdminActionLogging = envBool("L08_ADMIN_ACTION_LOGGING", c.AdminActionLogging)
	c.SessionTimeoutMinutes = envInt("L08_SESSION_TIMEOUT_MINUTES", c.SessionTimeoutMinutes)

	c.L01BaseURL = envStr("L01_BASE_URL", c.L01BaseURL)
	c.L01TimeoutSeconds = envInt("L01_TIMEOUT_SECONDS", c.L01TimeoutSeconds)
	c.L10BaseURL = envStr("L10_BASE_URL", c.L10BaseURL)
	c.L10TimeoutSeconds = envInt("L10_TIMEOUT_SECONDS", c.L10TimeoutSeconds)
	c.VaultURL = envStr("VAULT_URL", c.VaultURL)
	c.VaultMountPath = envStr("VAULT_MOUNT_PATH", c.VaultMountPath)
	c.RedisURL = envStr("REDIS_URL", c.RedisURL)

	c.MaxConcurrentEvaluations = envInt("L08_MAX_CONCURRENT_EVALUATIONS", c.MaxConcurrentEvaluations)
	c.EvaluationQueueSize = envInt("L08_EVALUATION_QUEUE_SIZE", c.EvaluationQueueSize)
	c.MetricsEnabled = envBool("L08_METRICS_ENABLED", c.MetricsEnabled)
	c.MetricsPrefix = envStr("L08_METRICS_PREFIX", c.MetricsPrefix)

	return c
}

// LoadYAML overlays file-based overrides on top of c.
func (c *Config) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "True" || v == "TRUE"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
