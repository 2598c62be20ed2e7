package node

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/gsoultan/gsmail"
	"github.com/user/flowd"
)

type emailConfig struct {
	Name    string `json:"name"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from"`
	CC      string `json:"cc"`
	BCC     string `json:"bcc"`
	IsHTML  bool   `json:"is_html"`
}

// EmailNode implements the flowd.Node interface for email dispatch through
// the shared SMTP transport.
type EmailNode struct {
	raw         map[string]any
	cfg         emailConfig
	sender      gsmail.Sender
	defaultFrom string
}

// NewEmailNode builds an email_sender node. The sender is shared across all
// email nodes and comes from the application SMTP settings.
func NewEmailNode(config map[string]any, sender gsmail.Sender, defaultFrom string) (*EmailNode, error) {
	var cfg emailConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	return &EmailNode{raw: config, cfg: cfg, sender: sender, defaultFrom: defaultFrom}, nil
}

func (n *EmailNode) Type() string           { return TypeEmailSender }
func (n *EmailNode) Config() map[string]any { return n.raw }

func (n *EmailNode) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return "Email Sender"
}

// Validate checks recipient, sender and content requirements.
func (n *EmailNode) Validate() error {
	return validateEmailConfig(n.cfg)
}

func validateEmailConfig(cfg emailConfig) error {
	if cfg.To == "" {
		return configErr(TypeEmailSender, "recipient email is required")
	}
	for _, addr := range splitAddresses(cfg.To) {
		if _, err := mail.ParseAddress(addr); err != nil {
			return configErr(TypeEmailSender, "invalid recipient email %q", addr)
		}
	}
	if cfg.From != "" {
		if _, err := mail.ParseAddress(cfg.From); err != nil {
			return configErr(TypeEmailSender, "invalid sender email %q", cfg.From)
		}
	}
	if cfg.Subject == "" {
		return configErr(TypeEmailSender, "subject is required")
	}
	if cfg.Body == "" {
		return configErr(TypeEmailSender, "body is required")
	}
	return nil
}

// Execute substitutes placeholders into the address and content fields and
// dispatches a single email.
func (n *EmailNode) Execute(ctx context.Context, input map[string]any) (flowd.Result, error) {
	if n.sender == nil {
		return nil, fmt.Errorf("no SMTP transport configured")
	}

	data := dataMap(input)
	cfg := n.cfg
	cfg.To = substitute(cfg.To, data)
	cfg.Subject = substitute(cfg.Subject, data)
	cfg.Body = substitute(cfg.Body, data)
	cfg.From = substitute(cfg.From, data)
	cfg.CC = substitute(cfg.CC, data)
	cfg.BCC = substitute(cfg.BCC, data)

	if err := validateEmailConfig(cfg); err != nil {
		return nil, err
	}

	from := cfg.From
	if from == "" {
		from = n.defaultFrom
	}

	// gsmail carries a flat recipient list; cc/bcc fold into it.
	recipients := splitAddresses(cfg.To)
	recipients = append(recipients, splitAddresses(cfg.CC)...)
	recipients = append(recipients, splitAddresses(cfg.BCC)...)

	email := gsmail.Email{
		From:    from,
		To:      recipients,
		Subject: cfg.Subject,
	}
	if cfg.IsHTML {
		if err := email.SetBody(cfg.Body, map[string]any{}); err != nil {
			return nil, fmt.Errorf("failed to set email body: %w", err)
		}
	} else {
		email.Body = []byte(cfg.Body)
	}

	if err := n.sender.Send(ctx, email); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	return flowd.Result{
		"success": true,
		"data": map[string]any{
			"to":      cfg.To,
			"subject": cfg.Subject,
			"sent_at": timestamp(),
		},
	}, nil
}

func splitAddresses(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (n *EmailNode) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"data": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      map[string]any{"type": "string"},
					"subject": map[string]any{"type": "string"},
					"sent_at": map[string]any{"type": "string"},
				},
			},
		},
	}
}

var _ flowd.Node = (*EmailNode)(nil)
