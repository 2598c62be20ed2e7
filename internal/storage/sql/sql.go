// Package sql implements storage.Storage on database/sql. It is written
// against sqlite for development and single-node deployments; the same
// statements run on MySQL and, through placeholder and type rewriting, on
// PostgreSQL via pgx.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/flowd/internal/storage"
)

type sqlStorage struct {
	db     *sql.DB
	driver string
}

// NewSQLStorage wraps an open database handle. The driver name decides
// placeholder and column-type dialect: "sqlite", "mysql" or "pgx".
func NewSQLStorage(db *sql.DB, driver string) storage.Storage {
	return &sqlStorage{db: db, driver: driver}
}

// preparePlaceholders rewrites ? placeholders into the driver's dialect.
func (s *sqlStorage) preparePlaceholders(query string) string {
	switch s.driver {
	case "pgx", "postgres":
		var b strings.Builder
		n := 0
		for _, r := range query {
			if r == '?' {
				n++
				fmt.Fprintf(&b, "$%d", n)
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	default:
		return query
	}
}

// prepareQuery adapts column types for the driver and rewrites placeholders.
func (s *sqlStorage) prepareQuery(query string) string {
	if s.driver == "pgx" || s.driver == "postgres" {
		query = strings.ReplaceAll(query, "BLOB", "BYTEA")
		query = strings.ReplaceAll(query, "REAL", "DOUBLE PRECISION")
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
	}
	return s.preparePlaceholders(query)
}

func (s *sqlStorage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.prepareQuery(query), args...)
}

func (s *sqlStorage) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.prepareQuery(query), args...)
}

func (s *sqlStorage) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.prepareQuery(query), args...)
}

func (s *sqlStorage) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			name TEXT NOT NULL,
			description TEXT,
			public_id TEXT UNIQUE,
			trigger_type TEXT DEFAULT 'manual',
			is_active BOOLEAN DEFAULT FALSE,
			schedule_cron TEXT,
			last_executed DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT,
			config TEXT,
			position_x REAL DEFAULT 0,
			position_y REAL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			from_node_id TEXT NOT NULL,
			to_node_id TEXT NOT NULL,
			from_output TEXT,
			to_input TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			user_id TEXT,
			trigger_type TEXT,
			status TEXT,
			input_data TEXT,
			output_data TEXT,
			error_message TEXT,
			started_at DATETIME,
			ended_at DATETIME,
			execution_time_ms REAL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			node_id TEXT,
			node_name TEXT,
			log_type TEXT,
			message TEXT,
			data TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL UNIQUE,
			webhook_key TEXT NOT NULL UNIQUE,
			secret_token TEXT,
			max_calls_per_hour INTEGER DEFAULT 100,
			last_called DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_logs (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			request_method TEXT,
			request_headers TEXT,
			request_body TEXT,
			response_code INTEGER DEFAULT 0,
			response_body TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_workflow_id ON nodes(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_workflow_id ON connections(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_execution_id ON execution_logs(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_logs_webhook_id ON webhook_logs(webhook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_logs_created_at ON webhook_logs(created_at)`,
	}

	for _, q := range queries {
		if _, err := s.exec(ctx, q); err != nil {
			return fmt.Errorf("failed to execute init query: %w", err)
		}
	}
	return nil
}

func (s *sqlStorage) CreateWorkflow(ctx context.Context, wf storage.Workflow) error {
	_, err := s.exec(ctx,
		`INSERT INTO workflows (id, user_id, name, description, public_id, trigger_type, is_active, schedule_cron, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.UserID, wf.Name, wf.Description, wf.PublicID, wf.TriggerType,
		wf.Active, wf.ScheduleCron, wf.CreatedAt, wf.UpdatedAt)
	return err
}

func (s *sqlStorage) CreateNode(ctx context.Context, n storage.Node) error {
	configBytes, err := json.Marshal(n.Config)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO nodes (id, workflow_id, type, name, config, position_x, position_y)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.WorkflowID, n.Type, n.Name, string(configBytes), n.X, n.Y)
	return err
}

func (s *sqlStorage) CreateConnection(ctx context.Context, c storage.Connection) error {
	_, err := s.exec(ctx,
		`INSERT INTO connections (id, workflow_id, from_node_id, to_node_id, from_output, to_input)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkflowID, c.FromNodeID, c.ToNodeID, c.FromOutput, c.ToInput)
	return err
}

const workflowColumns = "id, user_id, name, description, public_id, trigger_type, is_active, schedule_cron, last_executed, created_at, updated_at"

func scanWorkflow(row interface{ Scan(...any) error }) (storage.Workflow, error) {
	var wf storage.Workflow
	var userID, description, publicID, cron sql.NullString
	var lastExecuted, createdAt, updatedAt sql.NullTime
	err := row.Scan(&wf.ID, &userID, &wf.Name, &description, &publicID, &wf.TriggerType,
		&wf.Active, &cron, &lastExecuted, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return storage.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Workflow{}, err
	}
	wf.UserID = userID.String
	wf.Description = description.String
	wf.PublicID = publicID.String
	wf.ScheduleCron = cron.String
	if lastExecuted.Valid {
		t := lastExecuted.Time
		wf.LastExecuted = &t
	}
	wf.CreatedAt = createdAt.Time
	wf.UpdatedAt = updatedAt.Time
	return wf, nil
}

func (s *sqlStorage) GetWorkflow(ctx context.Context, id string) (storage.Workflow, error) {
	return scanWorkflow(s.queryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE id = ?", id))
}

func (s *sqlStorage) GetWorkflowByPublicID(ctx context.Context, publicID string) (storage.Workflow, error) {
	return scanWorkflow(s.queryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE public_id = ?", publicID))
}

func (s *sqlStorage) ListScheduledWorkflows(ctx context.Context) ([]storage.Workflow, error) {
	rows, err := s.query(ctx, "SELECT "+workflowColumns+
		" FROM workflows WHERE trigger_type = ? AND is_active = ? AND schedule_cron IS NOT NULL AND schedule_cron != ''",
		storage.TriggerSchedule, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []storage.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *sqlStorage) TouchWorkflowLastExecuted(ctx context.Context, id string, at time.Time) error {
	_, err := s.exec(ctx, "UPDATE workflows SET last_executed = ?, updated_at = ? WHERE id = ?", at, at, id)
	return err
}

func (s *sqlStorage) ListNodes(ctx context.Context, workflowID string) ([]storage.Node, error) {
	rows, err := s.query(ctx,
		"SELECT id, workflow_id, type, name, config, position_x, position_y FROM nodes WHERE workflow_id = ?",
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []storage.Node
	for rows.Next() {
		var n storage.Node
		var name, configStr sql.NullString
		if err := rows.Scan(&n.ID, &n.WorkflowID, &n.Type, &name, &configStr, &n.X, &n.Y); err != nil {
			return nil, err
		}
		n.Name = name.String
		if configStr.Valid && configStr.String != "" {
			if err := json.Unmarshal([]byte(configStr.String), &n.Config); err != nil {
				return nil, fmt.Errorf("invalid config for node %s: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (s *sqlStorage) ListConnections(ctx context.Context, workflowID string) ([]storage.Connection, error) {
	rows, err := s.query(ctx,
		"SELECT id, workflow_id, from_node_id, to_node_id, from_output, to_input FROM connections WHERE workflow_id = ?",
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []storage.Connection
	for rows.Next() {
		var c storage.Connection
		var fromOutput, toInput sql.NullString
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.FromNodeID, &c.ToNodeID, &fromOutput, &toInput); err != nil {
			return nil, err
		}
		c.FromOutput = fromOutput.String
		c.ToInput = toInput.String
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *sqlStorage) CountNodes(ctx context.Context, workflowID string) (int, error) {
	var count int
	err := s.queryRow(ctx, "SELECT COUNT(*) FROM nodes WHERE workflow_id = ?", workflowID).Scan(&count)
	return count, err
}

func (s *sqlStorage) CreateExecution(ctx context.Context, exec storage.Execution) error {
	_, err := s.exec(ctx,
		`INSERT INTO executions (id, workflow_id, user_id, trigger_type, status, input_data, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.UserID, exec.TriggerType, exec.Status, exec.InputData, exec.StartedAt)
	return err
}

func (s *sqlStorage) FinishExecution(ctx context.Context, exec storage.Execution) error {
	res, err := s.exec(ctx,
		`UPDATE executions SET status = ?, output_data = ?, error_message = ?, ended_at = ?, execution_time_ms = ?
		 WHERE id = ?`,
		exec.Status, exec.OutputData, exec.ErrorMessage, exec.EndedAt, exec.DurationMs, exec.ID)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const executionColumns = "id, workflow_id, user_id, trigger_type, status, input_data, output_data, error_message, started_at, ended_at, execution_time_ms"

func scanExecution(row interface{ Scan(...any) error }) (storage.Execution, error) {
	var exec storage.Execution
	var userID, triggerType, status, input, output, errMsg sql.NullString
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&exec.ID, &exec.WorkflowID, &userID, &triggerType, &status,
		&input, &output, &errMsg, &startedAt, &endedAt, &exec.DurationMs)
	if err == sql.ErrNoRows {
		return storage.Execution{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Execution{}, err
	}
	exec.UserID = userID.String
	exec.TriggerType = triggerType.String
	exec.Status = status.String
	exec.InputData = input.String
	exec.OutputData = output.String
	exec.ErrorMessage = errMsg.String
	exec.StartedAt = startedAt.Time
	if endedAt.Valid {
		t := endedAt.Time
		exec.EndedAt = &t
	}
	return exec, nil
}

func (s *sqlStorage) GetExecution(ctx context.Context, id string) (storage.Execution, error) {
	return scanExecution(s.queryRow(ctx, "SELECT "+executionColumns+" FROM executions WHERE id = ?", id))
}

func (s *sqlStorage) ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.Execution, int, error) {
	baseQuery := "SELECT " + executionColumns + " FROM executions"
	countQuery := "SELECT COUNT(*) FROM executions"
	var args []any
	var where []string

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, filter.TriggerType)
	}
	if filter.Search != "" {
		where = append(where, "(id LIKE ? OR error_message LIKE ?)")
		search := "%" + filter.Search + "%"
		args = append(args, search, search)
	}

	if len(where) > 0 {
		clause := " WHERE " + strings.Join(where, " AND ")
		baseQuery += clause
		countQuery += clause
	}

	var total int
	if err := s.queryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	baseQuery += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		baseQuery += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Page > 0 {
			baseQuery += " OFFSET ?"
			args = append(args, (filter.Page-1)*filter.Limit)
		}
	}

	rows, err := s.query(ctx, baseQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var executions []storage.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		executions = append(executions, exec)
	}
	return executions, total, rows.Err()
}

func (s *sqlStorage) CreateExecutionLog(ctx context.Context, log storage.ExecutionLog) error {
	_, err := s.exec(ctx,
		`INSERT INTO execution_logs (id, execution_id, node_id, node_name, log_type, message, data, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.ExecutionID, log.NodeID, log.NodeName, log.LogType, log.Message, log.Data, log.Timestamp)
	return err
}

func (s *sqlStorage) ListExecutionLogs(ctx context.Context, executionID string, limit int) ([]storage.ExecutionLog, error) {
	query := "SELECT id, execution_id, node_id, node_name, log_type, message, data, timestamp" +
		" FROM execution_logs WHERE execution_id = ? ORDER BY timestamp ASC"
	args := []any{executionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []storage.ExecutionLog
	for rows.Next() {
		var l storage.ExecutionLog
		var nodeID, nodeName, data sql.NullString
		var ts sql.NullTime
		if err := rows.Scan(&l.ID, &l.ExecutionID, &nodeID, &nodeName, &l.LogType, &l.Message, &data, &ts); err != nil {
			return nil, err
		}
		l.NodeID = nodeID.String
		l.NodeName = nodeName.String
		l.Data = data.String
		l.Timestamp = ts.Time
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *sqlStorage) CountExecutedNodes(ctx context.Context, executionID string) (int, error) {
	var count int
	err := s.queryRow(ctx,
		"SELECT COUNT(DISTINCT node_id) FROM execution_logs WHERE execution_id = ? AND node_id IS NOT NULL AND node_id != ''",
		executionID).Scan(&count)
	return count, err
}

func (s *sqlStorage) GetWebhook(ctx context.Context, workflowID string) (storage.Webhook, error) {
	var wh storage.Webhook
	var secret sql.NullString
	var lastCalled, createdAt sql.NullTime
	err := s.queryRow(ctx,
		"SELECT id, workflow_id, webhook_key, secret_token, max_calls_per_hour, last_called, created_at FROM webhooks WHERE workflow_id = ?",
		workflowID).
		Scan(&wh.ID, &wh.WorkflowID, &wh.WebhookKey, &secret, &wh.MaxCallsPerHour, &lastCalled, &createdAt)
	if err == sql.ErrNoRows {
		return storage.Webhook{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Webhook{}, err
	}
	wh.SecretToken = secret.String
	if lastCalled.Valid {
		t := lastCalled.Time
		wh.LastCalled = &t
	}
	wh.CreatedAt = createdAt.Time
	return wh, nil
}

func (s *sqlStorage) CreateWebhook(ctx context.Context, wh storage.Webhook) error {
	_, err := s.exec(ctx,
		`INSERT INTO webhooks (id, workflow_id, webhook_key, secret_token, max_calls_per_hour, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		wh.ID, wh.WorkflowID, wh.WebhookKey, wh.SecretToken, wh.MaxCallsPerHour, wh.CreatedAt)
	return err
}

func (s *sqlStorage) TouchWebhookLastCalled(ctx context.Context, workflowID string, at time.Time) error {
	_, err := s.exec(ctx, "UPDATE webhooks SET last_called = ? WHERE workflow_id = ?", at, workflowID)
	return err
}

func (s *sqlStorage) CreateWebhookLog(ctx context.Context, log storage.WebhookLog) error {
	_, err := s.exec(ctx,
		`INSERT INTO webhook_logs (id, webhook_id, ip_address, user_agent, request_method, request_headers, request_body, response_code, response_body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.WebhookID, log.IPAddress, log.UserAgent, log.RequestMethod,
		log.RequestHeaders, log.RequestBody, log.ResponseCode, log.ResponseBody, log.CreatedAt)
	return err
}

func (s *sqlStorage) UpdateWebhookLogResponse(ctx context.Context, id string, code int, body string) error {
	_, err := s.exec(ctx, "UPDATE webhook_logs SET response_code = ?, response_body = ? WHERE id = ?", code, body, id)
	return err
}

func (s *sqlStorage) CountWebhookCallsSince(ctx context.Context, workflowID string, since time.Time) (int, error) {
	var count int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM webhook_logs wl
		 JOIN webhooks w ON wl.webhook_id = w.id
		 WHERE w.workflow_id = ? AND wl.created_at >= ?`,
		workflowID, since).Scan(&count)
	return count, err
}
