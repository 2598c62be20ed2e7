package sql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/user/flowd/internal/storage"
	_ "modernc.org/sqlite"
)

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewSQLStorage(db, "sqlite")
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("failed to init storage: %v", err)
	}
	return s
}

func TestSQLStorage_WorkflowRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	wf := storage.Workflow{
		ID:          "wf1",
		UserID:      "u1",
		Name:        "Order intake",
		Description: "webhook to email",
		PublicID:    "pub-1",
		TriggerType: storage.TriggerWebhook,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	got, err := s.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if got.Name != "Order intake" || !got.Active || got.TriggerType != storage.TriggerWebhook {
		t.Errorf("unexpected workflow: %+v", got)
	}
	if got.LastExecuted != nil {
		t.Errorf("expected nil last_executed, got %v", got.LastExecuted)
	}

	byPublic, err := s.GetWorkflowByPublicID(ctx, "pub-1")
	if err != nil {
		t.Fatalf("failed to get workflow by public id: %v", err)
	}
	if byPublic.ID != "wf1" {
		t.Errorf("expected wf1, got %s", byPublic.ID)
	}

	if _, err := s.GetWorkflow(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	at := now.Add(time.Minute)
	if err := s.TouchWorkflowLastExecuted(ctx, "wf1", at); err != nil {
		t.Fatalf("failed to touch last_executed: %v", err)
	}
	got, err = s.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to get workflow: %v", err)
	}
	if got.LastExecuted == nil {
		t.Fatal("expected last_executed to be set")
	}
}

func TestSQLStorage_NodesAndConnections(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	wf := storage.Workflow{ID: "wf1", Name: "graph", TriggerType: storage.TriggerManual}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	nodes := []storage.Node{
		{ID: "n1", WorkflowID: "wf1", Type: "http_request", Name: "Fetch", Config: map[string]any{"url": "https://example.com", "timeout": float64(10)}},
		{ID: "n2", WorkflowID: "wf1", Type: "delay", Name: "Wait", Config: map[string]any{"delay_type": "seconds", "value": float64(1)}},
	}
	for _, n := range nodes {
		if err := s.CreateNode(ctx, n); err != nil {
			t.Fatalf("failed to create node %s: %v", n.ID, err)
		}
	}
	if err := s.CreateConnection(ctx, storage.Connection{ID: "c1", WorkflowID: "wf1", FromNodeID: "n1", ToNodeID: "n2"}); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	gotNodes, err := s.ListNodes(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to list nodes: %v", err)
	}
	if len(gotNodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(gotNodes))
	}
	var fetch storage.Node
	for _, n := range gotNodes {
		if n.ID == "n1" {
			fetch = n
		}
	}
	if fetch.Config["url"] != "https://example.com" {
		t.Errorf("config did not round-trip: %+v", fetch.Config)
	}

	conns, err := s.ListConnections(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to list connections: %v", err)
	}
	if len(conns) != 1 || conns[0].FromNodeID != "n1" || conns[0].ToNodeID != "n2" {
		t.Errorf("unexpected connections: %+v", conns)
	}

	count, err := s.CountNodes(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to count nodes: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 nodes, got %d", count)
	}
}

func TestSQLStorage_ExecutionLifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	exec := storage.Execution{
		ID:          "ex1",
		WorkflowID:  "wf1",
		UserID:      "u1",
		TriggerType: storage.TriggerManual,
		Status:      storage.StatusRunning,
		InputData:   `{"initial":{}}`,
		StartedAt:   started,
	}
	if err := s.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}

	got, err := s.GetExecution(ctx, "ex1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got.Status != storage.StatusRunning || got.EndedAt != nil {
		t.Errorf("unexpected execution: %+v", got)
	}

	ended := started.Add(2 * time.Second)
	exec.Status = storage.StatusCompleted
	exec.OutputData = `{"total_nodes":1}`
	exec.EndedAt = &ended
	exec.DurationMs = 2000
	if err := s.FinishExecution(ctx, exec); err != nil {
		t.Fatalf("failed to finish execution: %v", err)
	}

	got, err = s.GetExecution(ctx, "ex1")
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if got.Status != storage.StatusCompleted || got.EndedAt == nil || got.DurationMs != 2000 {
		t.Errorf("unexpected finished execution: %+v", got)
	}

	missing := exec
	missing.ID = "nope"
	if err := s.FinishExecution(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound finishing missing execution, got %v", err)
	}
}

func TestSQLStorage_ListExecutionsFilterAndOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, exec := range []storage.Execution{
		{ID: "ex1", WorkflowID: "wf1", Status: storage.StatusCompleted, TriggerType: storage.TriggerManual},
		{ID: "ex2", WorkflowID: "wf1", Status: storage.StatusFailed, TriggerType: storage.TriggerWebhook},
		{ID: "ex3", WorkflowID: "wf2", Status: storage.StatusCompleted, TriggerType: storage.TriggerManual},
	} {
		exec.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("failed to create execution %s: %v", exec.ID, err)
		}
	}

	execs, total, err := s.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if total != 2 || len(execs) != 2 {
		t.Fatalf("expected 2 executions for wf1, got %d (total %d)", len(execs), total)
	}
	if execs[0].ID != "ex2" {
		t.Errorf("expected newest first, got %s", execs[0].ID)
	}

	execs, total, err = s.ListExecutions(ctx, storage.ExecutionFilter{Status: storage.StatusFailed})
	if err != nil {
		t.Fatalf("failed to list executions by status: %v", err)
	}
	if total != 1 || execs[0].ID != "ex2" {
		t.Errorf("expected only ex2 failed, got %+v", execs)
	}

	execs, _, err = s.ListExecutions(ctx, storage.ExecutionFilter{
		CommonFilter: storage.CommonFilter{Limit: 1, Page: 2},
		WorkflowID:   "wf1",
	})
	if err != nil {
		t.Fatalf("failed to page executions: %v", err)
	}
	if len(execs) != 1 || execs[0].ID != "ex1" {
		t.Errorf("expected page 2 to hold ex1, got %+v", execs)
	}
}

func TestSQLStorage_ExecutionLogsAndProgress(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	logs := []storage.ExecutionLog{
		{ID: "l1", ExecutionID: "ex1", NodeID: "n1", NodeName: "Fetch", LogType: "info", Message: "executed", Timestamp: base},
		{ID: "l2", ExecutionID: "ex1", NodeID: "n1", NodeName: "Fetch", LogType: "info", Message: "retry", Timestamp: base.Add(time.Second)},
		{ID: "l3", ExecutionID: "ex1", NodeID: "n2", NodeName: "Wait", LogType: "error", Message: "boom", Timestamp: base.Add(2 * time.Second)},
		{ID: "l4", ExecutionID: "ex1", LogType: "error", Message: "run failed", Timestamp: base.Add(3 * time.Second)},
	}
	for _, l := range logs {
		if err := s.CreateExecutionLog(ctx, l); err != nil {
			t.Fatalf("failed to create log %s: %v", l.ID, err)
		}
	}

	got, err := s.ListExecutionLogs(ctx, "ex1", 0)
	if err != nil {
		t.Fatalf("failed to list logs: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 logs, got %d", len(got))
	}
	if got[0].ID != "l1" || got[3].ID != "l4" {
		t.Errorf("expected chronological order, got %s..%s", got[0].ID, got[3].ID)
	}

	got, err = s.ListExecutionLogs(ctx, "ex1", 2)
	if err != nil {
		t.Fatalf("failed to list limited logs: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 logs with limit, got %d", len(got))
	}

	// n1 and n2 only; the run-level error row has no node id.
	count, err := s.CountExecutedNodes(ctx, "ex1")
	if err != nil {
		t.Fatalf("failed to count executed nodes: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 distinct executed nodes, got %d", count)
	}
}

func TestSQLStorage_WebhooksAndCallWindow(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	wh := storage.Webhook{
		ID:              "whk1",
		WorkflowID:      "wf1",
		WebhookKey:      "wh_abc",
		SecretToken:     "s3cret",
		MaxCallsPerHour: 3,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.CreateWebhook(ctx, wh); err != nil {
		t.Fatalf("failed to create webhook: %v", err)
	}

	got, err := s.GetWebhook(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to get webhook: %v", err)
	}
	if got.WebhookKey != "wh_abc" || got.MaxCallsPerHour != 3 || got.SecretToken != "s3cret" {
		t.Errorf("unexpected webhook: %+v", got)
	}
	if _, err := s.GetWebhook(ctx, "other"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	now := time.Now().UTC()
	calls := []time.Time{
		now.Add(-2 * time.Hour), // outside the window
		now.Add(-30 * time.Minute),
		now.Add(-time.Minute),
	}
	for i, at := range calls {
		log := storage.WebhookLog{
			ID:            string(rune('a' + i)),
			WebhookID:     "whk1",
			IPAddress:     "127.0.0.1",
			RequestMethod: "POST",
			CreatedAt:     at,
		}
		if err := s.CreateWebhookLog(ctx, log); err != nil {
			t.Fatalf("failed to create webhook log: %v", err)
		}
	}

	count, err := s.CountWebhookCallsSince(ctx, "wf1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to count webhook calls: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 calls in the trailing hour, got %d", count)
	}

	if err := s.UpdateWebhookLogResponse(ctx, "a", 200, `{"success":true}`); err != nil {
		t.Fatalf("failed to update webhook log: %v", err)
	}
	if err := s.TouchWebhookLastCalled(ctx, "wf1", now); err != nil {
		t.Fatalf("failed to touch last_called: %v", err)
	}
	got, err = s.GetWebhook(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to get webhook: %v", err)
	}
	if got.LastCalled == nil {
		t.Error("expected last_called to be set")
	}
}
