package node

import (
	"fmt"

	"github.com/gsoultan/gsmail"
	"github.com/gsoultan/gsmail/smtp"
	"github.com/user/flowd"
)

// Meta describes a node type for catalog listings.
type Meta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
	Inputs      int    `json:"inputs"`
	Outputs     int    `json:"outputs"`
}

// Definition binds a node type key to its metadata, default configuration and
// constructor.
type Definition struct {
	Meta     Meta
	Defaults map[string]any
	New      func(config map[string]any) (flowd.Node, error)
}

// SMTPSettings configures the shared mail transport used by email_sender nodes.
type SMTPSettings struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
	SSL      bool   `json:"ssl" yaml:"ssl"`
}

// Deps carries the shared collaborators node constructors may need.
type Deps struct {
	SMTP   SMTPSettings
	Mailer gsmail.Sender
	Logger flowd.Logger
}

// Registry maps node type keys to their definitions. The set of types is
// fixed at construction; adding a type means adding an executor and an entry
// here, not runtime plugin loading.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry builds the registry with the six built-in node types.
func NewRegistry(deps Deps) *Registry {
	mailer := deps.Mailer
	if mailer == nil && deps.SMTP.Host != "" {
		mailer = smtp.NewSender(deps.SMTP.Host, deps.SMTP.Port, deps.SMTP.Username, deps.SMTP.Password, deps.SMTP.SSL)
	}

	r := &Registry{defs: make(map[string]Definition)}

	r.register(TypeHTTPRequest, Definition{
		Meta: Meta{
			Name:        "HTTP Request",
			Description: "Make HTTP requests to APIs",
			Icon:        "🌐",
			Category:    "Integration",
			Inputs:      1,
			Outputs:     1,
		},
		Defaults: map[string]any{
			"method":           "GET",
			"url":              "",
			"headers":          map[string]any{},
			"body":             "",
			"timeout":          30,
			"follow_redirects": true,
			"verify_tls":       true,
			"retry_count":      0,
			"retry_delay":      1,
		},
		New: func(config map[string]any) (flowd.Node, error) { return NewHTTPNode(config) },
	})

	r.register(TypeWebhookTrigger, Definition{
		Meta: Meta{
			Name:        "Webhook Trigger",
			Description: "Trigger workflow via webhook",
			Icon:        "🔗",
			Category:    "Trigger",
			Inputs:      0,
			Outputs:     1,
		},
		Defaults: map[string]any{
			"webhook_path":  "",
			"method":        "POST",
			"response_code": 200,
			"response_body": `{"status": "ok"}`,
		},
		New: func(config map[string]any) (flowd.Node, error) { return NewWebhookTriggerNode(config) },
	})

	r.register(TypeEmailSender, Definition{
		Meta: Meta{
			Name:        "Email Sender",
			Description: "Send email notifications",
			Icon:        "📧",
			Category:    "Communication",
			Inputs:      1,
			Outputs:     1,
		},
		Defaults: map[string]any{
			"to":      "",
			"subject": "",
			"body":    "",
			"from":    "",
			"cc":      "",
			"bcc":     "",
			"is_html": false,
		},
		New: func(config map[string]any) (flowd.Node, error) {
			return NewEmailNode(config, mailer, deps.SMTP.From)
		},
	})

	r.register(TypeMySQLQuery, Definition{
		Meta: Meta{
			Name:        "MySQL Query",
			Description: "Execute MySQL queries",
			Icon:        "🗄️",
			Category:    "Database",
			Inputs:      1,
			Outputs:     1,
		},
		Defaults: map[string]any{
			"query":    "",
			"host":     "localhost",
			"database": "",
			"username": "",
			"password": "",
			"port":     3306,
			"charset":  "utf8mb4",
		},
		New: func(config map[string]any) (flowd.Node, error) { return NewMySQLNode(config) },
	})

	r.register(TypeDelay, Definition{
		Meta: Meta{
			Name:        "Delay",
			Description: "Add delay to workflow",
			Icon:        "⏱️",
			Category:    "Utility",
			Inputs:      1,
			Outputs:     1,
		},
		Defaults: map[string]any{
			"delay_type": "seconds",
			"value":      5,
		},
		New: func(config map[string]any) (flowd.Node, error) { return NewDelayNode(config) },
	})

	r.register(TypeFunction, Definition{
		Meta: Meta{
			Name:        "Function",
			Description: "Execute custom Lua code in a sandbox",
			Icon:        "⚙️",
			Category:    "Code",
			Inputs:      1,
			Outputs:     1,
		},
		Defaults: map[string]any{
			"code":           "-- your code here",
			"input_mapping":  map[string]any{},
			"output_mapping": map[string]any{},
		},
		New: func(config map[string]any) (flowd.Node, error) { return NewFunctionNode(config) },
	})

	return r
}

func (r *Registry) register(typeKey string, def Definition) {
	r.defs[typeKey] = def
}

// New constructs a node of the given type from its configuration blob.
func (r *Registry) New(typeKey string, config map[string]any) (flowd.Node, error) {
	def, ok := r.defs[typeKey]
	if !ok {
		return nil, fmt.Errorf("unknown node type: %s", typeKey)
	}
	return def.New(config)
}

// Has reports whether the type key is registered.
func (r *Registry) Has(typeKey string) bool {
	_, ok := r.defs[typeKey]
	return ok
}

// Types returns the catalog metadata for every registered node type.
func (r *Registry) Types() map[string]Meta {
	out := make(map[string]Meta, len(r.defs))
	for key, def := range r.defs {
		out[key] = def.Meta
	}
	return out
}

// Defaults returns the default configuration for a node type.
func (r *Registry) Defaults(typeKey string) (map[string]any, bool) {
	def, ok := r.defs[typeKey]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(def.Defaults))
	for k, v := range def.Defaults {
		out[k] = v
	}
	return out, true
}

// Node type keys.
const (
	TypeHTTPRequest    = "http_request"
	TypeWebhookTrigger = "webhook_trigger"
	TypeEmailSender    = "email_sender"
	TypeMySQLQuery     = "mysql_query"
	TypeDelay          = "delay"
	TypeFunction       = "function"
)
