package node

import (
	"context"
	"strings"

	"github.com/user/flowd"
)

var webhookMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
}

type webhookTriggerConfig struct {
	Name         string `json:"name"`
	WebhookPath  string `json:"webhook_path"`
	Method       string `json:"method"`
	ResponseCode int    `json:"response_code"`
	ResponseBody string `json:"response_body"`
}

// WebhookTriggerNode implements the flowd.Node interface as the entry point
// of webhook-triggered workflows. It passes the inbound payload through
// unchanged.
type WebhookTriggerNode struct {
	raw map[string]any
	cfg webhookTriggerConfig
}

// NewWebhookTriggerNode builds a webhook_trigger node from its configuration blob.
func NewWebhookTriggerNode(config map[string]any) (*WebhookTriggerNode, error) {
	cfg := webhookTriggerConfig{
		Method:       "POST",
		ResponseCode: 200,
		ResponseBody: `{"status": "ok"}`,
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	return &WebhookTriggerNode{raw: config, cfg: cfg}, nil
}

func (n *WebhookTriggerNode) Type() string           { return TypeWebhookTrigger }
func (n *WebhookTriggerNode) Config() map[string]any { return n.raw }

func (n *WebhookTriggerNode) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return "Webhook Trigger"
}

// Validate checks the path and accepted method.
func (n *WebhookTriggerNode) Validate() error {
	if n.cfg.WebhookPath == "" {
		return configErr(TypeWebhookTrigger, "webhook path is required")
	}
	if !webhookMethods[n.cfg.Method] {
		return configErr(TypeWebhookTrigger, "unsupported method %q", n.cfg.Method)
	}
	return nil
}

// Execute returns the inbound payload tagged as received.
func (n *WebhookTriggerNode) Execute(ctx context.Context, input map[string]any) (flowd.Result, error) {
	return flowd.Result{
		"success":          true,
		"data":             input,
		"webhook_received": true,
		"timestamp":        timestamp(),
	}, nil
}

func (n *WebhookTriggerNode) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":          map[string]any{"type": "boolean"},
			"data":             map[string]any{"type": "mixed"},
			"webhook_received": map[string]any{"type": "boolean"},
			"timestamp":        map[string]any{"type": "string"},
		},
	}
}

var _ flowd.Node = (*WebhookTriggerNode)(nil)
