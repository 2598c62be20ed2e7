package engine

import (
	"context"
	dbsql "database/sql"
	"errors"
	"testing"
	"time"

	"github.com/user/flowd/internal/storage"
	sqlstore "github.com/user/flowd/internal/storage/sql"
	"github.com/user/flowd/pkg/node"
	_ "modernc.org/sqlite"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, storage.Storage) {
	t.Helper()
	db, err := dbsql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := sqlstore.NewSQLStorage(db, "sqlite")
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init storage: %v", err)
	}

	registry := node.NewRegistry(node.Deps{})
	return New(store, registry, nil, opts), store
}

// seedWorkflow inserts an active workflow owned by u1 with pass-through
// nodes and the given edges. Edge pairs are from,to node ids.
func seedWorkflow(t *testing.T, store storage.Storage, nodeIDs []string, edges [][2]string) {
	t.Helper()
	ctx := context.Background()
	wf := storage.Workflow{
		ID:          "wf1",
		UserID:      "u1",
		Name:        "test workflow",
		TriggerType: storage.TriggerManual,
		Active:      true,
	}
	if err := store.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	for _, id := range nodeIDs {
		n := storage.Node{
			ID:         id,
			WorkflowID: "wf1",
			Type:       node.TypeWebhookTrigger,
			Name:       "node " + id,
			Config:     map[string]any{"webhook_path": "/hook/" + id},
		}
		if err := store.CreateNode(ctx, n); err != nil {
			t.Fatalf("failed to create node %s: %v", id, err)
		}
	}
	for i, e := range edges {
		c := storage.Connection{
			ID:         "c" + string(rune('0'+i)),
			WorkflowID: "wf1",
			FromNodeID: e[0],
			ToNodeID:   e[1],
		}
		if err := store.CreateConnection(ctx, c); err != nil {
			t.Fatalf("failed to create connection %v: %v", e, err)
		}
	}
}

func TestExecuteWorkflow_LinearRun(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	seedWorkflow(t, store, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})
	ctx := context.Background()

	result, err := e.ExecuteWorkflow(ctx, "wf1", map[string]any{"order_id": 42}, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalNodes != 3 || result.ExecutedNodes != 3 {
		t.Errorf("expected 3/3 nodes, got %d/%d", result.TotalNodes, result.ExecutedNodes)
	}
	if len(result.Results) != 1 || result.Results[0].NodeID != "c" {
		t.Fatalf("expected single terminal result from c, got %+v", result.Results)
	}
	if success, _ := result.Results[0].Output["success"].(bool); !success {
		t.Errorf("expected terminal success, got %v", result.Results[0].Output)
	}
	if result.Results[0].Output["_metadata"] == nil {
		t.Error("expected _metadata on terminal output")
	}

	exec, err := store.GetExecution(ctx, result.ExecutionID)
	if err != nil {
		t.Fatalf("failed to load execution: %v", err)
	}
	if exec.Status != storage.StatusCompleted || exec.EndedAt == nil {
		t.Errorf("unexpected execution row: %+v", exec)
	}

	wf, err := store.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("failed to load workflow: %v", err)
	}
	if wf.LastExecuted == nil {
		t.Error("expected last_executed to be set after success")
	}

	logs, err := store.ListExecutionLogs(ctx, result.ExecutionID, 0)
	if err != nil {
		t.Fatalf("failed to list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("expected one log per node, got %d", len(logs))
	}
}

func TestExecuteWorkflow_StartNodeGetsInitialPayload(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	seedWorkflow(t, store, []string{"a"}, nil)

	result, err := e.ExecuteWorkflow(context.Background(), "wf1", map[string]any{"k": "v"}, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the pass-through node echoes its input, so the trigger payload must
	// appear under "initial"
	data, ok := result.Results[0].Output["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data map, got %v", result.Results[0].Output["data"])
	}
	initial, ok := data["initial"].(map[string]any)
	if !ok || initial["k"] != "v" {
		t.Errorf("expected trigger payload under initial, got %v", data)
	}
}

func TestExecuteWorkflow_DiamondMergesInputs(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	seedWorkflow(t, store, []string{"a", "b", "c", "d"},
		[][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})

	result, err := e.ExecuteWorkflow(context.Background(), "wf1", nil, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExecutedNodes != 4 {
		t.Errorf("expected 4 executed nodes, got %d", result.ExecutedNodes)
	}
	if len(result.Results) != 1 || result.Results[0].NodeID != "d" {
		t.Fatalf("expected single terminal result from d, got %+v", result.Results)
	}

	// b and c both report success=true; the merge collects the clash into a
	// slice instead of overwriting
	data, ok := result.Results[0].Output["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data map, got %v", result.Results[0].Output["data"])
	}
	if _, ok := data["success"].([]any); !ok {
		t.Errorf("expected merged success values as a slice, got %T", data["success"])
	}
}

func TestExecuteWorkflow_JoinLeavesSiblingBranchIntact(t *testing.T) {
	// a1 fans out to a join (m, also fed by a2) and to a plain consumer (t).
	// The join's input merge must not rewrite a1's stored result, so t only
	// ever sees a1's own output.
	e, store := newTestEngine(t, Options{})
	seedWorkflow(t, store, []string{"a1", "a2", "m", "t"},
		[][2]string{{"a1", "m"}, {"a2", "m"}, {"a1", "t"}})

	result, err := e.ExecuteWorkflow(context.Background(), "wf1", nil, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var terminal *NodeResult
	for i := range result.Results {
		if result.Results[i].NodeID == "t" {
			terminal = &result.Results[i]
		}
	}
	if terminal == nil {
		t.Fatalf("expected a terminal result from t, got %+v", result.Results)
	}

	data, ok := terminal.Output["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data map on t's output, got %v", terminal.Output["data"])
	}
	meta, ok := data["_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected a1's _metadata in t's input, got %T", data["_metadata"])
	}
	if meta["node_id"] != "a1" {
		t.Errorf("t's input carries another branch's identity: %v", meta["node_id"])
	}
	if _, ok := data["success"].([]any); ok {
		t.Error("t's input collected values from a branch it is not connected to")
	}
}

func TestExecuteWorkflow_CycleFailsFast(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	seedWorkflow(t, store, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
	ctx := context.Background()

	_, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if !errors.Is(err, ErrCyclicWorkflow) {
		t.Fatalf("expected ErrCyclicWorkflow, got %v", err)
	}

	execs, total, err := store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if total != 1 || execs[0].Status != storage.StatusFailed {
		t.Fatalf("expected one failed execution, got %+v", execs)
	}

	// no node ran before the cycle was detected
	count, err := store.CountExecutedNodes(ctx, execs[0].ID)
	if err != nil {
		t.Fatalf("failed to count executed nodes: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 executed nodes, got %d", count)
	}
}

func TestExecuteWorkflow_PreflightFailures(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()

	if _, err := e.ExecuteWorkflow(ctx, "missing", nil, "u1", storage.TriggerManual); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}

	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf-owned", UserID: "owner", Name: "owned", Active: true,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	if _, err := e.ExecuteWorkflow(ctx, "wf-owned", nil, "intruder", storage.TriggerManual); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}

	// a user-attributed call is denied even when the workflow has no owner
	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf-unowned", Name: "unowned", Active: true,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	if _, err := e.ExecuteWorkflow(ctx, "wf-unowned", nil, "u1", storage.TriggerManual); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied for unowned workflow, got %v", err)
	}

	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf-off", UserID: "u1", Name: "inactive", Active: false,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	if _, err := e.ExecuteWorkflow(ctx, "wf-off", nil, "u1", storage.TriggerManual); !errors.Is(err, ErrWorkflowInactive) {
		t.Errorf("expected ErrWorkflowInactive, got %v", err)
	}

	// none of these may leave an execution row behind
	_, total, err := store.ListExecutions(ctx, storage.ExecutionFilter{})
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if total != 0 {
		t.Errorf("expected no execution rows after pre-flight failures, got %d", total)
	}
}

func TestExecuteWorkflow_EmptyWorkflowRecordsFailure(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf1", UserID: "u1", Name: "empty", Active: true,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}

	_, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if !errors.Is(err, ErrEmptyWorkflow) {
		t.Fatalf("expected ErrEmptyWorkflow, got %v", err)
	}

	execs, total, err := store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if total != 1 || execs[0].Status != storage.StatusFailed || execs[0].ErrorMessage == "" {
		t.Errorf("expected one failed execution with an error message, got %+v", execs)
	}
}

func TestExecuteWorkflow_NodeFailurePropagatesAsData(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf1", UserID: "u1", Name: "failing", Active: true,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	// http node with no url fails validation; the downstream node still runs
	if err := store.CreateNode(ctx, storage.Node{
		ID: "bad", WorkflowID: "wf1", Type: node.TypeHTTPRequest, Name: "Broken fetch",
		Config: map[string]any{},
	}); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	if err := store.CreateNode(ctx, storage.Node{
		ID: "sink", WorkflowID: "wf1", Type: node.TypeWebhookTrigger, Name: "Sink",
		Config: map[string]any{"webhook_path": "/sink"},
	}); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	if err := store.CreateConnection(ctx, storage.Connection{
		ID: "c1", WorkflowID: "wf1", FromNodeID: "bad", ToNodeID: "sink",
	}); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	result, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("node failure must not abort the run, got %v", err)
	}
	if result.ExecutedNodes != 2 {
		t.Errorf("expected both nodes executed, got %d", result.ExecutedNodes)
	}

	// the sink echoed the failure payload it received
	data, ok := result.Results[0].Output["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data map, got %v", result.Results[0].Output["data"])
	}
	if success, _ := data["success"].(bool); success {
		t.Errorf("expected upstream failure payload, got %v", data)
	}
	if data["error"] == nil {
		t.Errorf("expected error key in failure payload, got %v", data)
	}

	logs, err := store.ListExecutionLogs(ctx, result.ExecutionID, 0)
	if err != nil {
		t.Fatalf("failed to list logs: %v", err)
	}
	var errorLogs int
	for _, l := range logs {
		if l.LogType == "error" {
			errorLogs++
		}
	}
	if errorLogs != 1 {
		t.Errorf("expected one error log, got %d", errorLogs)
	}
}

func TestExecuteWorkflow_UnknownNodeType(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf1", UserID: "u1", Name: "odd", Active: true,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	if err := store.CreateNode(ctx, storage.Node{
		ID: "x", WorkflowID: "wf1", Type: "teleporter", Name: "Nope",
	}); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}

	result, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("unknown type must fold into a failure payload, got %v", err)
	}
	if success, _ := result.Results[0].Output["success"].(bool); success {
		t.Errorf("expected failure payload for unknown type, got %v", result.Results[0].Output)
	}
}

func TestExecuteWorkflow_NodeLimit(t *testing.T) {
	e, store := newTestEngine(t, Options{MaxNodesPerRun: 2})
	seedWorkflow(t, store, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})
	ctx := context.Background()

	_, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if !errors.Is(err, ErrNodeLimit) {
		t.Fatalf("expected ErrNodeLimit, got %v", err)
	}

	execs, _, err := store.ListExecutions(ctx, storage.ExecutionFilter{WorkflowID: "wf1"})
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if execs[0].Status != storage.StatusFailed {
		t.Errorf("expected failed execution, got %+v", execs[0])
	}
}

func TestGetExecutionStatus_Progress(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	seedWorkflow(t, store, []string{"a", "b"}, [][2]string{{"a", "b"}})
	ctx := context.Background()

	result, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := e.GetExecutionStatus(ctx, result.ExecutionID)
	if err != nil {
		t.Fatalf("failed to get status: %v", err)
	}
	if status.Execution.Status != storage.StatusCompleted {
		t.Errorf("expected completed, got %s", status.Execution.Status)
	}
	if status.Progress != 1 {
		t.Errorf("expected progress 1, got %f", status.Progress)
	}
	if len(status.Logs) != 2 {
		t.Errorf("expected 2 logs, got %d", len(status.Logs))
	}

	if _, err := e.GetExecutionStatus(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteWorkflow_DeadlineAborts(t *testing.T) {
	e, store := newTestEngine(t, Options{MaxRunDuration: 50 * time.Millisecond})
	ctx := context.Background()
	if err := store.CreateWorkflow(ctx, storage.Workflow{
		ID: "wf1", UserID: "u1", Name: "slow", Active: true,
	}); err != nil {
		t.Fatalf("failed to create workflow: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := store.CreateNode(ctx, storage.Node{
			ID: id, WorkflowID: "wf1", Type: node.TypeDelay, Name: "Sleep " + id,
			Config: map[string]any{"delay_type": "seconds", "value": float64(1)},
		}); err != nil {
			t.Fatalf("failed to create node: %v", err)
		}
	}
	if err := store.CreateConnection(ctx, storage.Connection{
		ID: "c1", WorkflowID: "wf1", FromNodeID: "a", ToNodeID: "b",
	}); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}

	start := time.Now()
	_, err := e.ExecuteWorkflow(ctx, "wf1", nil, "u1", storage.TriggerManual)
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("run was not cut off by the deadline, took %v", elapsed)
	}
}
