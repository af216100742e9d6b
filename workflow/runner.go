package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/tenant"
)

// RunEmitter emits workflow-level lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type RunEmitter interface {
	StepEmitter
	EmitWorkflowStarted(ctx context.Context, run *Run)
	EmitWorkflowCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, run *Run, err error)
}

// Reporter records a failed run to tracing/observability and the error
// event stream. Satisfied by report.Reporter. Called exactly once per
// failed run, at the outermost boundary; implementations never return
// errors and never panic.
type Reporter interface {
	ReportRunFailure(ctx context.Context, run *Run, err error)
}

// Interceptor wraps run execution with cross-cutting logic (logging,
// tracing, metrics, panic recovery). The middleware package provides
// implementations; Chain them and install the result with
// SetInterceptor.
type Interceptor func(ctx context.Context, run *Run, next func(ctx context.Context) error) error

// Runner orchestrates workflow execution: creating runs under
// idempotency keys, building the Workflow context, invoking handlers,
// and converting every failure into a Result envelope. Errors from
// workflow bodies never propagate to callers of Start.
type Runner struct {
	registry    *Registry
	store       Store
	events      *event.Stream
	emitter     RunEmitter
	reporter    Reporter
	logger      *slog.Logger
	interceptor Interceptor

	// inflight tracks runs started by this process so a duplicate
	// Start can join the in-progress execution instead of failing.
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// NewRunner creates a workflow runner. reporter may be nil, in which
// case failures are still recorded on the error event stream directly.
func NewRunner(
	registry *Registry,
	store Store,
	eventStore event.Store,
	emitter RunEmitter,
	reporter Reporter,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		registry: registry,
		store:    store,
		events:   event.NewStream(eventStore),
		emitter:  emitter,
		reporter: reporter,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
	}
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// SetInterceptor installs the middleware chain wrapped around every run
// execution. Call before the first Start.
func (r *Runner) SetInterceptor(i Interceptor) { r.interceptor = i }

// Start starts a workflow run with a typed input under the given
// idempotency key. The input is JSON-marshaled and stored on the Run.
func Start[T any](ctx context.Context, runner *Runner, name, key string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}

	return runner.StartRaw(ctx, name, key, data)
}

// StartRaw starts a workflow run with pre-serialized JSON input.
//
// Idempotency contract:
//   - If a run with this key already completed (or failed), its stored
//     Run — including the Result envelope — is returned without
//     re-invoking the body. No side effect runs twice.
//   - If a run with this key is still executing in this process, the
//     call joins it: it blocks until the execution finishes and returns
//     the same Run.
//   - If a run with this key is executing in another process, the call
//     is rejected with stepwise.ErrRunInFlight; callers poll Status or
//     retry later with the same key.
//   - Otherwise a new run is created (atomically, first writer wins)
//     and executed synchronously.
func (r *Runner) StartRaw(ctx context.Context, name, key string, input []byte) (*Run, error) {
	if key == "" {
		return nil, fmt.Errorf("workflow %q: empty idempotency key", name)
	}

	runner, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", name, stepwise.ErrWorkflowNotFound)
	}

	for {
		existing, err := r.store.GetRun(ctx, key)
		switch {
		case err == nil:
			if existing.State.Terminal() {
				return existing, nil
			}
			if ch := r.waiter(key); ch != nil {
				// Started by this process — join the in-progress run.
				select {
				case <-ch:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return existing, fmt.Errorf("workflow %q key %q: %w", name, key, stepwise.ErrRunInFlight)
		case errors.Is(err, stepwise.ErrRunNotFound):
			// Fall through to create.
		default:
			return nil, fmt.Errorf("get run %q: %w", key, err)
		}

		ch, owner := r.claim(key)
		if !owner {
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		orgID, actorID := tenant.Capture(ctx)
		run := &Run{
			Entity:    stepwise.NewEntity(),
			ID:        id.NewRunID(),
			Key:       key,
			Name:      name,
			Version:   r.registry.LatestVersion(name),
			State:     RunStatePending,
			Input:     input,
			OrgID:     orgID,
			ActorID:   actorID,
			StartedAt: time.Now().UTC(),
		}

		if createErr := r.store.CreateRun(ctx, run); createErr != nil {
			r.release(key)
			if errors.Is(createErr, stepwise.ErrRunExists) {
				// Lost the cross-process race — re-read and reuse.
				continue
			}
			return nil, fmt.Errorf("create run for workflow %q: %w", name, createErr)
		}

		r.executeRun(ctx, run, runner, input)
		r.release(key)
		return run, nil
	}
}

// waiter returns the in-flight channel for key, or nil.
func (r *Runner) waiter(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[key]
}

// claim registers an in-flight marker for key. owner is true when this
// caller created the marker and is responsible for executing the run.
func (r *Runner) claim(key string) (chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.inflight[key]; ok {
		return ch, false
	}
	ch := make(chan struct{})
	r.inflight[key] = ch
	return ch, true
}

// release closes and removes the in-flight marker for key.
func (r *Runner) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.inflight[key]; ok {
		close(ch)
		delete(r.inflight, key)
	}
}

// executeRun runs the workflow handler and handles completion/failure.
// Every failure mode — handler error, panic, store trouble — ends with
// the run in a terminal state carrying a Result envelope; nothing
// escapes to the caller of Start.
func (r *Runner) executeRun(ctx context.Context, run *Run, runner RunnerFunc, input []byte) {
	ctx = tenant.Restore(ctx, run.OrgID, run.ActorID)

	run.State = RunStateRunning
	if err := r.store.UpdateRun(ctx, run); err != nil {
		r.logger.Error("failed to mark run as running",
			slog.String("run_key", run.Key),
			slog.String("error", err.Error()),
		)
	}
	r.publishStatus(ctx, run.Key, map[string]any{"state": string(RunStateRunning), "workflow": run.Name})
	r.emitter.EmitWorkflowStarted(ctx, run)

	start := time.Now()
	result, err := r.invokeBody(ctx, run, runner, input)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	run.CompletedAt = &now

	// A body reports failure either as a Go error (or panic) escaping
	// the handler, or as a Result envelope with Success=false. Both end
	// the run in RunStateFailed; the envelope the body returned is
	// stored as-is.
	if err == nil && !result.Success {
		if result.Error == "" {
			result.Error = "workflow reported failure"
		}
		err = errors.New(result.Error)
	}

	if err != nil {
		if result.Error == "" {
			result = FailErr(err)
		}
		result.Success = false
		run.State = RunStateFailed
		run.Error = err.Error()
		run.Result = &result

		if updateErr := r.store.UpdateRun(ctx, run); updateErr != nil {
			r.logger.Error("failed to update run as failed",
				slog.String("run_key", run.Key),
				slog.String("error", updateErr.Error()),
			)
		}

		r.report(ctx, run, err)
		r.publishStatus(ctx, run.Key, map[string]any{"state": string(RunStateFailed), "error": err.Error()})
		r.emitter.EmitWorkflowFailed(ctx, run, err)
		return
	}

	run.State = RunStateCompleted
	run.Result = &result

	if updateErr := r.store.UpdateRun(ctx, run); updateErr != nil {
		r.logger.Error("failed to update run as completed",
			slog.String("run_key", run.Key),
			slog.String("error", updateErr.Error()),
		)
	}

	r.publishStatus(ctx, run.Key, map[string]any{"state": string(RunStateCompleted), "entity_id": result.EntityID})
	r.emitter.EmitWorkflowCompleted(ctx, run, elapsed)
}

// invokeBody calls the handler through the interceptor chain and
// converts panics into errors.
func (r *Runner) invokeBody(ctx context.Context, run *Run, runner RunnerFunc, input []byte) (result Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("workflow %s panicked: %v", run.Name, p)
		}
	}()

	next := func(ctx context.Context) error {
		wf := NewWorkflowContext(ctx, run, r.store, r.events, r.emitter, r.logger)
		res, bodyErr := runner(wf, input)
		result = res
		return bodyErr
	}

	if r.interceptor != nil {
		err = r.interceptor(ctx, run, next)
		return result, err
	}
	return result, next(ctx)
}

// report forwards the failure to the configured Reporter, or falls back
// to appending the error event directly so pollers always see failures.
func (r *Runner) report(ctx context.Context, run *Run, err error) {
	if r.reporter != nil {
		r.reporter.ReportRunFailure(ctx, run, err)
		return
	}
	if _, pubErr := r.events.Publish(ctx, run.Key, event.TopicError, map[string]any{
		"error":    err.Error(),
		"workflow": run.Name,
	}); pubErr != nil {
		r.logger.Warn("failed to publish error event",
			slog.String("run_key", run.Key),
			slog.String("error", pubErr.Error()),
		)
	}
}

// publishStatus appends a status event; failures are logged, not fatal.
func (r *Runner) publishStatus(ctx context.Context, key string, payload map[string]any) {
	if _, err := r.events.Publish(ctx, key, event.TopicStatus, payload); err != nil {
		r.logger.Warn("failed to publish status event",
			slog.String("run_key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Status returns the payload of the newest status event for the run,
// or nil if none exists yet.
func (r *Runner) Status(ctx context.Context, key string) (map[string]any, error) {
	return r.latestPayload(ctx, key, event.TopicStatus)
}

// LastError returns the payload of the newest error event for the run,
// or nil if the run has not recorded an error.
func (r *Runner) LastError(ctx context.Context, key string) (map[string]any, error) {
	return r.latestPayload(ctx, key, event.TopicError)
}

func (r *Runner) latestPayload(ctx context.Context, key string, topic event.Topic) (map[string]any, error) {
	evt, err := r.events.Latest(ctx, key, topic)
	if err != nil {
		return nil, fmt.Errorf("read %s events for %q: %w", topic, key, err)
	}
	if evt == nil {
		return nil, nil
	}
	var payload map[string]any
	if len(evt.Payload) > 0 {
		if decErr := json.Unmarshal(evt.Payload, &payload); decErr != nil {
			return nil, fmt.Errorf("decode %s event for %q: %w", topic, key, decErr)
		}
	}
	return payload, nil
}

// Resume resumes a workflow run that is in "pending" or "running" state
// (crash recovery). It re-executes the handler from the top; steps with
// checkpoints are skipped automatically. The run continues on its
// stamped version, not necessarily the latest.
func (r *Runner) Resume(ctx context.Context, key string) error {
	run, err := r.store.GetRun(ctx, key)
	if err != nil {
		return fmt.Errorf("get run %q: %w", key, err)
	}
	if run.State.Terminal() {
		return fmt.Errorf("run %q is in state %q, not resumable", key, run.State)
	}

	runner, ok := r.registry.GetVersion(run.Name, run.Version)
	if !ok {
		return fmt.Errorf("no workflow registered for %q version %d (run %q)", run.Name, run.Version, key)
	}

	ch, owner := r.claim(key)
	if !owner {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer r.release(key)

	r.executeRun(ctx, run, runner, run.Input)
	return nil
}

// ResumeAll finds all non-terminal runs and resumes them, up to
// concurrency at a time. Called at startup for crash recovery.
func (r *Runner) ResumeAll(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var pending []*Run
	for _, state := range []RunState{RunStatePending, RunStateRunning} {
		runs, err := r.store.ListRuns(ctx, ListOpts{State: state})
		if err != nil {
			return fmt.Errorf("list %s workflow runs: %w", state, err)
		}
		pending = append(pending, runs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, run := range pending {
		key := run.Key
		name := run.Name
		g.Go(func() error {
			r.logger.Info("resuming workflow run",
				slog.String("run_key", key),
				slog.String("workflow", name),
			)
			if err := r.Resume(gctx, key); err != nil {
				r.logger.Error("failed to resume workflow run",
					slog.String("run_key", key),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	return g.Wait()
}
