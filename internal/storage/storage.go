// Package storage defines the persisted domain model and the Storage
// interface the engine and trigger adapters depend on. Workflow, node and
// connection rows are written by the management surface; the engine reads
// them as an immutable snapshot per run and owns the execution tables.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Trigger kinds recorded on workflows and executions.
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
)

// Execution statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type CommonFilter struct {
	Page   int
	Limit  int
	Search string
}

type ExecutionFilter struct {
	CommonFilter
	WorkflowID  string
	UserID      string
	Status      string
	TriggerType string
}

type Workflow struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	PublicID     string     `json:"public_id"`
	TriggerType  string     `json:"trigger_type"`
	Active       bool       `json:"is_active"`
	ScheduleCron string     `json:"schedule_cron,omitempty"`
	LastExecuted *time.Time `json:"last_executed,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Node struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Config     map[string]any `json:"config,omitempty"`
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
}

type Connection struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	FromOutput string `json:"from_output,omitempty"`
	ToInput    string `json:"to_input,omitempty"`
}

type Execution struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	UserID       string     `json:"user_id,omitempty"`
	TriggerType  string     `json:"trigger_type"`
	Status       string     `json:"status"`
	InputData    string     `json:"input_data,omitempty"`
	OutputData   string     `json:"output_data,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	DurationMs   float64    `json:"execution_time_ms"`
}

type ExecutionLog struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id,omitempty"`
	NodeName    string    `json:"node_name,omitempty"`
	LogType     string    `json:"log_type"` // info or error
	Message     string    `json:"message"`
	Data        string    `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type Webhook struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	WebhookKey      string     `json:"webhook_key"`
	SecretToken     string     `json:"secret_token,omitempty"`
	MaxCallsPerHour int        `json:"max_calls_per_hour"`
	LastCalled      *time.Time `json:"last_called,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type WebhookLog struct {
	ID             string    `json:"id"`
	WebhookID      string    `json:"webhook_id"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent,omitempty"`
	RequestMethod  string    `json:"request_method"`
	RequestHeaders string    `json:"request_headers,omitempty"`
	RequestBody    string    `json:"request_body,omitempty"`
	ResponseCode   int       `json:"response_code"`
	ResponseBody   string    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Storage is the persistence contract shared by the engine, the trigger
// adapters and the HTTP API.
type Storage interface {
	Init(ctx context.Context) error

	// Workflow, node and connection authoring lives in the management
	// surface; only creation is exposed here so seeding and imports work.
	CreateWorkflow(ctx context.Context, wf Workflow) error
	CreateNode(ctx context.Context, n Node) error
	CreateConnection(ctx context.Context, c Connection) error

	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	GetWorkflowByPublicID(ctx context.Context, publicID string) (Workflow, error)
	ListScheduledWorkflows(ctx context.Context) ([]Workflow, error)
	TouchWorkflowLastExecuted(ctx context.Context, id string, at time.Time) error

	ListNodes(ctx context.Context, workflowID string) ([]Node, error)
	ListConnections(ctx context.Context, workflowID string) ([]Connection, error)
	CountNodes(ctx context.Context, workflowID string) (int, error)

	CreateExecution(ctx context.Context, exec Execution) error
	FinishExecution(ctx context.Context, exec Execution) error
	GetExecution(ctx context.Context, id string) (Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]Execution, int, error)

	CreateExecutionLog(ctx context.Context, log ExecutionLog) error
	ListExecutionLogs(ctx context.Context, executionID string, limit int) ([]ExecutionLog, error)
	CountExecutedNodes(ctx context.Context, executionID string) (int, error)

	GetWebhook(ctx context.Context, workflowID string) (Webhook, error)
	CreateWebhook(ctx context.Context, wh Webhook) error
	TouchWebhookLastCalled(ctx context.Context, workflowID string, at time.Time) error
	CreateWebhookLog(ctx context.Context, log WebhookLog) error
	UpdateWebhookLogResponse(ctx context.Context, id string, code int, body string) error
	CountWebhookCallsSince(ctx context.Context, workflowID string, since time.Time) (int, error)
}
