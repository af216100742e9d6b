package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/stepwise-io/stepwise/event"
)

// StepEmitter is called by the Workflow to emit step lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
}

// Workflow is the execution context passed to workflow handler
// functions. It provides durable step execution: each step checkpoints
// its result so a resumed run skips work that already happened.
type Workflow struct {
	ctx     context.Context
	run     *Run
	store   Store
	events  *event.Stream
	emitter StepEmitter
	logger  *slog.Logger
}

// NewWorkflowContext creates a new Workflow execution context.
// This is called by the workflow runner, not by users.
func NewWorkflowContext(
	ctx context.Context,
	run *Run,
	store Store,
	events *event.Stream,
	emitter StepEmitter,
	logger *slog.Logger,
) *Workflow {
	return &Workflow{
		ctx:     ctx,
		run:     run,
		store:   store,
		events:  events,
		emitter: emitter,
		logger:  logger,
	}
}

// Context returns the underlying context.Context.
func (w *Workflow) Context() context.Context { return w.ctx }

// Key returns the run's idempotency key.
func (w *Workflow) Key() string { return w.run.Key }

// Run returns the workflow run.
func (w *Workflow) Run() *Run { return w.run }
