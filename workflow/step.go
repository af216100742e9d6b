package workflow

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/stepwise-io/stepwise/event"
)

// Step executes a named step function exactly once per run. If a
// checkpoint exists for this step name, the step is skipped (idempotent
// replay). Otherwise the function is executed and a checkpoint is saved
// on success; on failure no checkpoint is written and the error
// propagates to the runner, which fails the whole run. Steps are never
// individually retried: retry means re-running the body from the top,
// which is safe because completed steps short-circuit here.
//
// Step names must be stable across replays of the same body — the same
// logical step must use the same name every time, or resumption loses
// its checkpoint.
func (w *Workflow) Step(name string, fn func(ctx context.Context) error) error {
	_, ok, err := w.store.GetCheckpoint(w.ctx, w.run.Key, name)
	if err != nil {
		return fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, name, err)
	}
	if ok {
		w.logger.Debug("skipping checkpointed step",
			slog.String("run_key", w.run.Key),
			slog.String("step", name),
		)
		return nil
	}

	start := time.Now()
	stepErr := fn(w.ctx)
	elapsed := time.Since(start)

	if stepErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
		return fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
	}

	if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.Key, name, []byte{}); saveErr != nil {
		return fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, name, saveErr)
	}

	w.finishStep(name, elapsed)
	return nil
}

// StepWithResult executes a named step that returns a typed value.
// The result is serialized via encoding/gob and saved as a checkpoint.
// On replay, the cached result is deserialized and returned without
// re-executing the step function.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](w *Workflow, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, ok, err := w.store.GetCheckpoint(w.ctx, w.run.Key, name)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: get checkpoint %q: %w", w.run.Name, name, err)
	}
	if ok {
		var result T
		dec := gob.NewDecoder(bytes.NewReader(data))
		if decErr := dec.Decode(&result); decErr != nil {
			return zero, fmt.Errorf("workflow %s: decode checkpoint %q: %w", w.run.Name, name, decErr)
		}
		w.logger.Debug("returning checkpointed result",
			slog.String("run_key", w.run.Key),
			slog.String("step", name),
		)
		return result, nil
	}

	start := time.Now()
	result, stepErr := fn(w.ctx)
	elapsed := time.Since(start)

	if stepErr != nil {
		w.emitter.EmitStepFailed(w.ctx, w.run, name, stepErr)
		return zero, fmt.Errorf("workflow %s step %q: %w", w.run.Name, name, stepErr)
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if encErr := enc.Encode(result); encErr != nil {
		return zero, fmt.Errorf("workflow %s: encode checkpoint %q: %w", w.run.Name, name, encErr)
	}

	if saveErr := w.store.SaveCheckpoint(w.ctx, w.run.Key, name, buf.Bytes()); saveErr != nil {
		return zero, fmt.Errorf("workflow %s: save checkpoint %q: %w", w.run.Name, name, saveErr)
	}

	w.finishStep(name, elapsed)
	return result, nil
}

// finishStep publishes the step-completion status event and notifies
// the emitter. The event append is best-effort relative to the
// checkpoint: the checkpoint is the durability record, the event is the
// progress signal for pollers.
func (w *Workflow) finishStep(name string, elapsed time.Duration) {
	if _, pubErr := w.events.Publish(w.ctx, w.run.Key, event.TopicStatus, map[string]any{
		"step":       name,
		"elapsed_ms": elapsed.Milliseconds(),
	}); pubErr != nil {
		w.logger.Warn("failed to publish step status event",
			slog.String("run_key", w.run.Key),
			slog.String("step", name),
			slog.String("error", pubErr.Error()),
		)
	}
	w.emitter.EmitStepCompleted(w.ctx, w.run, name, elapsed)
}
