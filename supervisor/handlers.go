// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package supervisor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"guardrail/platform/internal/supervision/adapters/datastore"
	"guardrail/platform/internal/supervision/errcode"
	"guardrail/platform/internal/supervision/service"
)

type handlers struct {
	svc *service.SupervisionService
}

// statusFor maps an errcode.Error's namespace to an HTTP status; a
// plain (non-errcode) error is always a 500, since every expected
// failure mode in this service is expressed as an errcode.Error.
func statusFor(err error) int {
	var e *errcode.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case errcode.PolicyNotFound, errcode.ConstraintNotFound, errcode.EscalationNotFound, errcode.AuditEntryNotFound, errcode.AnomalyNotFound, errcode.PermissionNotFound:
		return http.StatusNotFound
	case errcode.AccessDenied, errcode.InsufficientPrivileges, errcode.TokenInvalid, errcode.SessionExpired:
		return http.StatusForbidden
	case errcode.RateLimitExceeded:
		return http.StatusTooManyRequests
	case errcode.QuotaExceeded, errcode.ResourceCapExceeded, errcode.EscalationInvalidState, errcode.EscalationAlreadyResolved, errcode.EscalationMFARequired, errcode.EscalationMFAFailed:
		return http.StatusConflict
	case errcode.PolicyInvalidCondition, errcode.ConstraintInvalid, errcode.InsufficientBaselineData, errcode.ConstraintViolation, errcode.TemporalConstraintViolated, errcode.BusinessHoursViolation:
		return http.StatusBadRequest
	case errcode.L01ConnectionFailed, errcode.L10ConnectionFailed, errcode.VaultConnectionFailed, errcode.RedisConnectionFailed, errcode.ConsensusTimeout, errcode.BridgeNotInitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

type evaluateRequest struct {
	AgentID   string         `json:"agent_id"`
	Operation string         `json:"operation"`
	Resource  map[string]any `json:"resource"`
	Context   map[string]any `json:"context,omitempty"`
	Approvers []string       `json:"approvers"`
}

func (h *handlers) evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.svc.EvaluateRequest(r.Context(), req.AgentID, req.Operation, req.Resource, req.Context, req.Approvers)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type checkConstraintRequest struct {
	AgentID      string  `json:"agent_id"`
	ConstraintID string  `json:"constraint_id"`
	Usage        float64 `json:"usage"`
	Operation    string  `json:"operation,omitempty"`
}

func (h *handlers) checkConstraint(w http.ResponseWriter, r *http.Request) {
	var req checkConstraintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.CheckConstraint(r.Context(), req.AgentID, req.ConstraintID, req.Usage, req.Operation); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
}

type recordMetricRequest struct {
	AgentID string  `json:"agent_id"`
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Detect  *bool   `json:"detect,omitempty"` // default true
}

func (h *handlers) recordMetric(w http.ResponseWriter, r *http.Request) {
	var req recordMetricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detect := req.Detect == nil || *req.Detect
	anomaly, err := h.svc.RecordMetric(r.Context(), req.AgentID, req.Metric, req.Value, detect)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomaly": anomaly})
}

type setBaselineRequest struct {
	AgentID string    `json:"agent_id"`
	Metric  string    `json:"metric"`
	Values  []float64 `json:"values"`
}

func (h *handlers) setBaseline(w http.ResponseWriter, r *http.Request) {
	var req setBaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.svc.SetBaseline(req.AgentID, req.Metric, req.Values); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createEscalationRequest struct {
	DecisionID string         `json:"decision_id"`
	Reason     string         `json:"reason"`
	Context    map[string]any `json:"context"`
	Approvers  []string       `json:"approvers"`
}

func (h *handlers) createEscalation(w http.ResponseWriter, r *http.Request) {
	var req createEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workflow, err := h.svc.CreateEscalation(r.Context(), req.DecisionID, req.Reason, req.Context, req.Approvers)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, workflow)
}

type resolveEscalationRequest struct {
	Approved   bool   `json:"approved"`
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
	MFAToken   string `json:"mfa_token"`
}

func (h *handlers) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]
	var req resolveEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	workflow, err := h.svc.Resolve(r.Context(), workflowID, req.Approved, req.ResolvedBy, req.Notes, req.MFAToken)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

func (h *handlers) queryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := q.Get("action")
	if action == "" {
		action = q.Get("event_type")
	}
	filters := datastore.AuditQueryFilters{
		AgentID:       q.Get("agent_id"),
		ActorID:       q.Get("actor_id"),
		EventType:     action,
		ResourceType:  q.Get("resource_type"),
		ResourceID:    q.Get("resource_id"),
		CorrelationID: q.Get("correlation_id"),
	}
	if start, err := strconv.ParseInt(q.Get("start"), 10, 64); err == nil {
		filters.Since = &start
	}
	if end, err := strconv.ParseInt(q.Get("end"), 10, 64); err == nil {
		filters.Until = &end
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := h.svc.QueryAudit(r.Context(), filters, limit, offset)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handlers) verifyAudit(w http.ResponseWriter, r *http.Request) {
	var start, end *int64
	if v, err := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64); err == nil {
		start = &v
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64); err == nil {
		end = &v
	}
	valid, checked, firstInvalid, err := h.svc.VerifyAuditChain(r.Context(), start, end)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":            valid,
		"entries_checked":  checked,
		"first_invalid_id": firstInvalid,
	})
}

func (h *handlers) compliance(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityID"]
	periodHours, _ := strconv.Atoi(r.URL.Query().Get("period_hours"))
	if periodHours <= 0 {
		periodHours = 24
	}
	writeJSON(w, http.StatusOK, h.svc.GenerateComplianceReport(entityID, periodHours))
}
