package engine

import "errors"

// Run-fatal conditions. Anything detected before the execution row exists
// surfaces without bookkeeping; anything after marks the row failed.
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrWorkflowInactive = errors.New("workflow is not active")
	ErrEmptyWorkflow    = errors.New("no nodes found in workflow")
	ErrCyclicWorkflow   = errors.New("workflow contains a cycle")
	ErrNodeLimit        = errors.New("maximum node executions exceeded")
)
