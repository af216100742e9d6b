// Package workflow defines workflow definitions, runs, steps, checkpoints,
// and the workflow store interface. It is the durable-execution core of
// Stepwise: named workflow bodies are registered once, started under a
// caller-supplied idempotency key, and executed as a sequence of
// checkpointed steps that are skipped on replay.
package workflow

// Definition is a typed workflow definition with a handler function.
// T is the input type (must be JSON-serializable for Run.Input storage).
type Definition[T any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Version distinguishes revisions of the same workflow body.
	// Zero is treated as version 1. Runs are stamped with the version
	// they started on and resume on that version.
	Version int

	// Handler executes the workflow logic. It receives a *Workflow
	// which provides checkpointed Step execution, and returns the
	// result envelope persisted on the run. A non-nil error fails the
	// run; it is captured at the runner boundary and never propagates
	// to the caller of Start.
	Handler func(wf *Workflow, input T) (Result, error)
}

// NewWorkflow creates a typed workflow definition at version 1.
func NewWorkflow[T any](name string, handler func(wf *Workflow, input T) (Result, error)) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}

// NewWorkflowVersion creates a typed workflow definition at a specific
// version.
func NewWorkflowVersion[T any](name string, version int, handler func(wf *Workflow, input T) (Result, error)) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Version: version,
		Handler: handler,
	}
}
