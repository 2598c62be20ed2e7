// Package engine runs workflows: it loads the graph snapshot, orders it,
// feeds each node the merged outputs of its predecessors and records the run
// in the executions and execution_logs tables.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/user/flowd"
	"github.com/user/flowd/internal/storage"
	"github.com/user/flowd/pkg/node"
)

const (
	// DefaultMaxNodesPerRun caps successful node executions in one run.
	DefaultMaxNodesPerRun = 100
	// DefaultMaxRunDuration is the hard deadline for a whole run.
	DefaultMaxRunDuration = 300 * time.Second
	// statusLogLimit caps the log rows returned with an execution status.
	statusLogLimit = 50
	// defaultLogLimit applies when a log listing has no explicit limit.
	defaultLogLimit = 100
)

// Options tune run limits. Zero values fall back to the defaults.
type Options struct {
	MaxNodesPerRun int
	MaxRunDuration time.Duration
}

type Engine struct {
	store    storage.Storage
	registry *node.Registry
	log      flowd.Logger
	opts     Options
}

func New(store storage.Storage, registry *node.Registry, log flowd.Logger, opts Options) *Engine {
	if opts.MaxNodesPerRun <= 0 {
		opts.MaxNodesPerRun = DefaultMaxNodesPerRun
	}
	if opts.MaxRunDuration <= 0 {
		opts.MaxRunDuration = DefaultMaxRunDuration
	}
	if log == nil {
		log = NewDefaultLogger()
	}
	return &Engine{store: store, registry: registry, log: log, opts: opts}
}

// NodeResult is one terminal node's output within a run result.
type NodeResult struct {
	NodeID   string         `json:"node_id"`
	NodeName string         `json:"node_name"`
	Output   map[string]any `json:"output"`
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	ExecutionID   string       `json:"execution_id"`
	Status        string       `json:"status"`
	TotalNodes    int          `json:"total_nodes"`
	ExecutedNodes int          `json:"executed_nodes"`
	Results       []NodeResult `json:"results"`
	DurationMs    float64      `json:"execution_time_ms"`
}

// ExecutionStatus bundles an execution row with its recent logs and a
// progress ratio of distinct executed nodes over the workflow's node count.
type ExecutionStatus struct {
	Execution storage.Execution      `json:"execution"`
	Logs      []storage.ExecutionLog `json:"logs"`
	Progress  float64                `json:"progress"`
}

// ExecuteWorkflow runs one workflow to completion. userID, when non-empty,
// must match the workflow owner. Pre-flight failures (missing, foreign,
// inactive) surface before any execution row exists; everything after is
// recorded against the row.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any, userID, trigger string) (*RunResult, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if userID != "" && wf.UserID != userID {
		return nil, ErrAccessDenied
	}
	if !wf.Active {
		return nil, ErrWorkflowInactive
	}

	started := time.Now()
	inputJSON, _ := json.Marshal(input)
	exec := storage.Execution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		UserID:      userID,
		TriggerType: trigger,
		Status:      storage.StatusRunning,
		InputData:   string(inputJSON),
		StartedAt:   started,
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.MaxRunDuration)
	defer cancel()

	e.log.Info("workflow execution started",
		"workflow_id", wf.ID, "execution_id", exec.ID, "trigger", trigger)

	result, runErr := e.run(runCtx, wf, exec.ID, input)
	duration := float64(time.Since(started)) / float64(time.Millisecond)

	ended := time.Now()
	exec.EndedAt = &ended
	exec.DurationMs = duration

	if runErr != nil {
		exec.Status = storage.StatusFailed
		exec.ErrorMessage = runErr.Error()
		e.appendLog(ctx, exec.ID, "", "", "error", runErr.Error(), nil)
		if err := e.store.FinishExecution(ctx, exec); err != nil {
			e.log.Error("failed to record failed execution", "execution_id", exec.ID, "error", err)
		}
		e.log.Error("workflow execution failed",
			"workflow_id", wf.ID, "execution_id", exec.ID, "error", runErr)
		return nil, runErr
	}

	result.ExecutionID = exec.ID
	result.Status = storage.StatusCompleted
	result.DurationMs = duration

	outputJSON, _ := json.Marshal(result)
	exec.Status = storage.StatusCompleted
	exec.OutputData = string(outputJSON)
	if err := e.store.FinishExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to record execution result: %w", err)
	}
	if err := e.store.TouchWorkflowLastExecuted(ctx, wf.ID, ended); err != nil {
		e.log.Warn("failed to update last_executed", "workflow_id", wf.ID, "error", err)
	}

	e.log.Info("workflow execution completed",
		"workflow_id", wf.ID, "execution_id", exec.ID,
		"executed_nodes", result.ExecutedNodes, "duration_ms", duration)
	return result, nil
}

// run walks the ordered graph. Node-level failures become failure payloads
// and the walk continues; only structural problems and limits abort the run.
func (e *Engine) run(ctx context.Context, wf storage.Workflow, executionID string, input map[string]any) (*RunResult, error) {
	nodes, err := e.store.ListNodes(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	if len(nodes) == 0 {
		return nil, ErrEmptyWorkflow
	}
	conns, err := e.store.ListConnections(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connections: %w", err)
	}

	graph := buildGraph(nodes, conns)
	order, err := topoOrder(graph)
	if err != nil {
		return nil, err
	}

	successes := 0
	executed := 0
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution deadline exceeded: %w", err)
		}

		gn := graph[id]
		nodeInput := e.collectInput(graph, gn, input)
		result := e.executeNode(ctx, executionID, gn.node, nodeInput)

		gn.executed = true
		gn.result = result
		executed++
		if success, _ := result["success"].(bool); success {
			successes++
			if successes > e.opts.MaxNodesPerRun {
				return nil, ErrNodeLimit
			}
		}
	}

	run := &RunResult{TotalNodes: len(nodes), ExecutedNodes: executed}
	for _, id := range order {
		gn := graph[id]
		if len(gn.outgoing) == 0 {
			run.Results = append(run.Results, NodeResult{
				NodeID:   gn.node.ID,
				NodeName: gn.node.Name,
				Output:   gn.result,
			})
		}
	}
	return run, nil
}

// collectInput merges every executed predecessor's result. Genuine start
// nodes receive the trigger payload under "initial".
func (e *Engine) collectInput(graph map[string]*graphNode, gn *graphNode, trigger map[string]any) map[string]any {
	if len(gn.incoming) == 0 {
		return map[string]any{"initial": trigger}
	}
	input := make(map[string]any)
	for _, fromID := range gn.incoming {
		from, ok := graph[fromID]
		if !ok || !from.executed || from.result == nil {
			continue
		}
		input = mergeInputs(input, from.result)
	}
	return input
}

// executeNode builds, validates and runs one node's executor. Any failure is
// folded into a failure payload so downstream nodes see it as data.
func (e *Engine) executeNode(ctx context.Context, executionID string, n storage.Node, input map[string]any) map[string]any {
	started := time.Now()

	result, err := func() (flowd.Result, error) {
		executor, err := e.registry.New(n.Type, n.Config)
		if err != nil {
			return nil, err
		}
		if err := executor.Validate(); err != nil {
			return nil, err
		}
		return executor.Execute(ctx, input)
	}()

	elapsed := float64(time.Since(started)) / float64(time.Millisecond)
	if err != nil {
		failure := map[string]any{"success": false, "error": err.Error()}
		attachMetadata(failure, n, elapsed)
		e.appendLog(ctx, executionID, n.ID, n.Name, "error",
			fmt.Sprintf("node execution failed: %v", err), failure)
		e.log.Warn("node execution failed",
			"execution_id", executionID, "node_id", n.ID, "type", n.Type, "error", err)
		return failure
	}

	out := map[string]any(result)
	attachMetadata(out, n, elapsed)
	e.appendLog(ctx, executionID, n.ID, n.Name, "info", "node executed", out)
	e.log.Debug("node executed",
		"execution_id", executionID, "node_id", n.ID, "type", n.Type, "duration_ms", elapsed)
	return out
}

func attachMetadata(result map[string]any, n storage.Node, elapsedMs float64) {
	result["_metadata"] = map[string]any{
		"node_id":           n.ID,
		"node_name":         n.Name,
		"node_type":         n.Type,
		"execution_time_ms": elapsedMs,
		"timestamp":         time.Now().Format(time.RFC3339),
	}
}

func (e *Engine) appendLog(ctx context.Context, executionID, nodeID, nodeName, logType, message string, data map[string]any) {
	var dataJSON string
	if data != nil {
		b, err := json.Marshal(data)
		if err == nil {
			dataJSON = string(b)
		}
	}
	log := storage.ExecutionLog{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		NodeName:    nodeName,
		LogType:     logType,
		Message:     message,
		Data:        dataJSON,
		Timestamp:   time.Now(),
	}
	if err := e.store.CreateExecutionLog(ctx, log); err != nil {
		e.log.Error("failed to append execution log", "execution_id", executionID, "error", err)
	}
}

// GetExecutionStatus returns an execution with its most recent logs and a
// progress ratio.
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	logs, err := e.store.ListExecutionLogs(ctx, executionID, statusLogLimit)
	if err != nil {
		return nil, err
	}

	progress := 0.0
	total, err := e.store.CountNodes(ctx, exec.WorkflowID)
	if err == nil && total > 0 {
		done, err := e.store.CountExecutedNodes(ctx, executionID)
		if err == nil {
			progress = float64(done) / float64(total)
			if progress > 1 {
				progress = 1
			}
		}
	}
	return &ExecutionStatus{Execution: exec, Logs: logs, Progress: progress}, nil
}

// GetExecutionLogs lists an execution's log rows, oldest first.
func (e *Engine) GetExecutionLogs(ctx context.Context, executionID string, limit int) ([]storage.ExecutionLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if _, err := e.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return e.store.ListExecutionLogs(ctx, executionID, limit)
}

// ListExecutions lists a workflow's executions, newest first.
func (e *Engine) ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.Execution, int, error) {
	return e.store.ListExecutions(ctx, filter)
}
