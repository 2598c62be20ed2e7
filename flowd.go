package flowd

import "context"

// Result is the outcome of a single node execution. Every result carries a
// "success" bool and a "data" payload; node types may add extra keys.
type Result map[string]any

// Success reports the result's success flag.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Node is a typed unit of work in a workflow graph. Implementations are
// constructed from a configuration map by the node registry and must be safe
// to discard after a single Execute call.
type Node interface {
	// Execute runs the node against the merged upstream input.
	Execute(ctx context.Context, input map[string]any) (Result, error)
	// Validate checks the node configuration before execution.
	Validate() error
	// Type returns the registry type key.
	Type() string
	// Name returns the display name.
	Name() string
	// Config returns the raw configuration map the node was built from.
	Config() map[string]any
	// OutputSchema describes the shape of the node's result.
	OutputSchema() map[string]any
}

// Logger defines the interface for logging in flowd.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
