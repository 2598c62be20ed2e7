package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/user/flowd/internal/engine"
	"github.com/user/flowd/internal/storage"
	"github.com/user/flowd/internal/trigger"
)

// 1 MiB is plenty for a trigger payload.
const maxBodyBytes = 1 << 20

func (s *Server) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")

	var input map[string]any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			s.jsonError(w, "request body must be a JSON object", http.StatusBadRequest)
			return
		}
	}
	if input == nil {
		input = map[string]any{}
	}

	result, err := s.engine.ExecuteWorkflow(r.Context(), workflowID, input, userID(r), storage.TriggerManual)
	if err != nil {
		ExecutionsTotal.WithLabelValues(storage.StatusFailed, storage.TriggerManual).Inc()
		s.jsonError(w, err.Error(), executionStatusCode(err))
		return
	}
	ExecutionsTotal.WithLabelValues(storage.StatusCompleted, storage.TriggerManual).Inc()
	RunDurationSeconds.Observe(result.DurationMs / 1000)

	data := map[string]any{"execution": result}
	if url := s.webhookURL(r, workflowID); url != "" {
		data["webhook_url"] = url
	}
	s.writeJSON(w, http.StatusOK, data)
}

// webhookURL returns the workflow's ingestion URL when a webhook row exists.
func (s *Server) webhookURL(r *http.Request, workflowID string) string {
	if _, err := s.store.GetWebhook(r.Context(), workflowID); err != nil {
		return ""
	}
	wf, err := s.store.GetWorkflow(r.Context(), workflowID)
	if err != nil || wf.PublicID == "" {
		return ""
	}
	return "/api/webhook/" + wf.PublicID
}

func executionStatusCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrWorkflowInactive),
		errors.Is(err, engine.ErrEmptyWorkflow),
		errors.Is(err, engine.ErrCyclicWorkflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.jsonError(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req := trigger.WebhookRequest{
		PublicID:  r.PathValue("publicId"),
		Method:    r.Method,
		Headers:   r.Header,
		Body:      body,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}

	result, err := s.webhooks.Handle(r.Context(), req)
	if err != nil {
		outcome, code := webhookOutcome(err)
		WebhookCallsTotal.WithLabelValues(outcome).Inc()
		s.jsonError(w, err.Error(), code)
		return
	}
	WebhookCallsTotal.WithLabelValues("ok").Inc()
	RunDurationSeconds.Observe(result.DurationMs / 1000)
	s.writeJSON(w, http.StatusOK, result)
}

func webhookOutcome(err error) (string, int) {
	switch {
	case errors.Is(err, trigger.ErrWebhookNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, trigger.ErrBadSignature):
		return "unauthorized", http.StatusUnauthorized
	case errors.Is(err, trigger.ErrRateLimited):
		return "rate_limited", http.StatusTooManyRequests
	default:
		return "error", http.StatusInternalServerError
	}
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	filter := storage.ExecutionFilter{
		WorkflowID:  r.URL.Query().Get("workflow_id"),
		Status:      r.URL.Query().Get("status"),
		TriggerType: r.URL.Query().Get("trigger_type"),
	}
	filter.Page = 1
	filter.Limit = 100
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		filter.Limit = l
	}

	executions, total, err := s.engine.ListExecutions(r.Context(), filter)
	if err != nil {
		s.jsonError(w, "failed to list executions", http.StatusInternalServerError)
		return
	}
	if executions == nil {
		executions = []storage.Execution{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "total": total})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.GetExecutionStatus(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, "failed to load execution", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) getExecutionLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}

	logs, err := s.engine.GetExecutionLogs(r.Context(), r.PathValue("id"), limit)
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, "execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.jsonError(w, "failed to load logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []storage.ExecutionLog{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) listNodeTypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"types": s.registry.Types()})
}

func (s *Server) getNodeDefaults(w http.ResponseWriter, r *http.Request) {
	typeKey := r.PathValue("type")
	defaults, ok := s.registry.Defaults(typeKey)
	if !ok {
		s.jsonError(w, "unknown node type", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"type": typeKey, "defaults": defaults})
}
