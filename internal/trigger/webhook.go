// Package trigger hosts the inbound trigger adapters: webhook ingestion and
// the cron schedule sweeper. Both hand off to the execution engine; they own
// admission (resolution, rate limit, signature) and their own audit trail.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/user/flowd"
	"github.com/user/flowd/internal/engine"
	"github.com/user/flowd/internal/storage"
)

// Admission failures, mapped to HTTP statuses at the API boundary.
var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrBadSignature    = errors.New("invalid webhook signature")
	ErrRateLimited     = errors.New("webhook rate limit exceeded")
)

const (
	// DefaultMaxCallsPerHour caps inbound calls per workflow per trailing hour.
	DefaultMaxCallsPerHour = 100
	signatureHeader        = "X-Webhook-Signature"
)

// WebhookRequest is the distilled inbound call handed to the service.
type WebhookRequest struct {
	PublicID  string
	Method    string
	Headers   http.Header
	Body      []byte
	IPAddress string
	UserAgent string
}

// WebhookService admits inbound webhook calls and runs the target workflow.
type WebhookService struct {
	store  storage.Storage
	engine *engine.Engine
	log    flowd.Logger
}

func NewWebhookService(store storage.Storage, eng *engine.Engine, log flowd.Logger) *WebhookService {
	if log == nil {
		log = engine.NewDefaultLogger()
	}
	return &WebhookService{store: store, engine: eng, log: log}
}

// Handle resolves the public id, enforces the hourly cap and the signature,
// then invokes the workflow with the parsed payload. Every call, admitted or
// not, leaves a webhook_logs row carrying the final response.
func (s *WebhookService) Handle(ctx context.Context, req WebhookRequest) (*engine.RunResult, error) {
	wf, err := s.store.GetWorkflowByPublicID(ctx, req.PublicID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve webhook target: %w", err)
	}
	if !wf.Active || wf.TriggerType != storage.TriggerWebhook {
		return nil, ErrWebhookNotFound
	}

	wh, err := s.ensureWebhook(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	// The cap counts prior calls only, so the current call is admitted while
	// count < max and the call after the max-th is the first rejected one.
	// Check-then-log is not atomic; a small overshoot under concurrency is
	// accepted.
	count, err := s.store.CountWebhookCallsSince(ctx, wf.ID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count webhook calls: %w", err)
	}
	if count >= wh.MaxCallsPerHour {
		s.logCall(ctx, wh.ID, req, http.StatusTooManyRequests, `{"success":false,"error":"rate limit exceeded"}`)
		return nil, ErrRateLimited
	}

	logID := s.logCall(ctx, wh.ID, req, 0, "")

	if wh.SecretToken != "" {
		if !verifySignature(req.Body, req.Headers.Get(signatureHeader), wh.SecretToken) {
			s.finishCall(ctx, logID, http.StatusUnauthorized, `{"success":false,"error":"invalid signature"}`)
			return nil, ErrBadSignature
		}
	}

	payload := parsePayload(req.Body)
	result, err := s.engine.ExecuteWorkflow(ctx, wf.ID, payload, "", storage.TriggerWebhook)
	if err != nil {
		body, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
		s.finishCall(ctx, logID, http.StatusInternalServerError, string(body))
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{"success": true, "data": result})
	s.finishCall(ctx, logID, http.StatusOK, string(body))
	if err := s.store.TouchWebhookLastCalled(ctx, wf.ID, now); err != nil {
		s.log.Warn("failed to update webhook last_called", "workflow_id", wf.ID, "error", err)
	}
	return result, nil
}

// ensureWebhook returns the workflow's webhook row, provisioning one with a
// generated key and default limits on first contact.
func (s *WebhookService) ensureWebhook(ctx context.Context, workflowID string) (storage.Webhook, error) {
	wh, err := s.store.GetWebhook(ctx, workflowID)
	if err == nil {
		return wh, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Webhook{}, fmt.Errorf("failed to load webhook: %w", err)
	}

	wh = storage.Webhook{
		ID:              uuid.New().String(),
		WorkflowID:      workflowID,
		WebhookKey:      generateWebhookKey(),
		MaxCallsPerHour: DefaultMaxCallsPerHour,
		CreatedAt:       time.Now(),
	}
	if err := s.store.CreateWebhook(ctx, wh); err != nil {
		return storage.Webhook{}, fmt.Errorf("failed to provision webhook: %w", err)
	}
	s.log.Info("webhook provisioned", "workflow_id", workflowID, "webhook_key", wh.WebhookKey)
	return wh, nil
}

func (s *WebhookService) logCall(ctx context.Context, webhookID string, req WebhookRequest, code int, body string) string {
	headers, _ := json.Marshal(req.Headers)
	log := storage.WebhookLog{
		ID:             uuid.New().String(),
		WebhookID:      webhookID,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		RequestMethod:  req.Method,
		RequestHeaders: string(headers),
		RequestBody:    string(req.Body),
		ResponseCode:   code,
		ResponseBody:   body,
		CreatedAt:      time.Now(),
	}
	if err := s.store.CreateWebhookLog(ctx, log); err != nil {
		s.log.Error("failed to record webhook call", "webhook_id", webhookID, "error", err)
	}
	return log.ID
}

func (s *WebhookService) finishCall(ctx context.Context, logID string, code int, body string) {
	if err := s.store.UpdateWebhookLogResponse(ctx, logID, code, body); err != nil {
		s.log.Error("failed to record webhook response", "log_id", logID, "error", err)
	}
}

// verifySignature compares the hex HMAC-SHA256 of the raw body in constant
// time.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Signature computes the hex HMAC-SHA256 a caller must send for a body.
func Signature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// parsePayload decodes a JSON body; anything else is carried under "raw".
func parsePayload(body []byte) map[string]any {
	if len(body) == 0 {
		return map[string]any{}
	}
	if gjson.ValidBytes(body) {
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err == nil && payload != nil {
			return payload
		}
	}
	return map[string]any{"raw": string(body)}
}

func generateWebhookKey() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "wh_" + uuid.New().String()
	}
	return "wh_" + hex.EncodeToString(buf)
}
