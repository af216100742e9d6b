package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/store/memory"
	"github.com/stepwise-io/stepwise/workflow"
)

type noopEmitter struct{}

func (noopEmitter) EmitStepCompleted(context.Context, *workflow.Run, string, time.Duration) {}
func (noopEmitter) EmitStepFailed(context.Context, *workflow.Run, string, error)            {}
func (noopEmitter) EmitWorkflowStarted(context.Context, *workflow.Run)                      {}
func (noopEmitter) EmitWorkflowCompleted(context.Context, *workflow.Run, time.Duration)     {}
func (noopEmitter) EmitWorkflowFailed(context.Context, *workflow.Run, error)                {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T) (*workflow.Runner, *memory.Store) {
	t.Helper()
	s := memory.New()
	reg := workflow.NewRegistry()
	return workflow.NewRunner(reg, s, s, noopEmitter{}, nil, testLogger()), s
}

type greetInput struct {
	Name string `json:"name"`
}

func TestStartCompletesRun(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("greet",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			return workflow.OKWithFields("greeting-1", map[string]any{"name": in.Name}), nil
		}))

	run, err := workflow.Start(ctx, runner, "greet", "greet-1", greetInput{Name: "ada"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateCompleted {
		t.Fatalf("run state: got %s, want completed", run.State)
	}
	if run.Result == nil || !run.Result.Success || run.Result.EntityID != "greeting-1" {
		t.Fatalf("run result: %+v", run.Result)
	}
	if run.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}

	status, err := runner.Status(ctx, "greet-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status["state"] != string(workflow.RunStateCompleted) {
		t.Fatalf("latest status: %v", status)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	var calls atomic.Int64
	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("create-invoice",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			calls.Add(1)
			return workflow.OK(id.NewInvoiceID().String()), nil
		}))

	first, err := workflow.Start(ctx, runner, "create-invoice", "inv-key-1", greetInput{})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := workflow.Start(ctx, runner, "create-invoice", "inv-key-1", greetInput{})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("body executed %d times, want 1", calls.Load())
	}
	if second.Result.EntityID != first.Result.EntityID {
		t.Fatalf("duplicate start returned different entity: %s vs %s",
			second.Result.EntityID, first.Result.EntityID)
	}
}

func TestStartFailureIsCaptured(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("doomed",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			return workflow.Result{}, errors.New("insufficient inventory")
		}))

	run, err := workflow.Start(ctx, runner, "doomed", "doomed-1", greetInput{})
	if err != nil {
		t.Fatalf("Start must not surface body errors, got: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state: got %s, want failed", run.State)
	}
	if run.Result == nil || run.Result.Success || run.Result.Error != "insufficient inventory" {
		t.Fatalf("run result: %+v", run.Result)
	}

	lastErr, err := runner.LastError(ctx, "doomed-1")
	if err != nil {
		t.Fatalf("LastError: %v", err)
	}
	if lastErr == nil || lastErr["error"] != "insufficient inventory" {
		t.Fatalf("LastError payload: %v", lastErr)
	}

	// A failed run is terminal: a retry with the same key returns the
	// stored failure without re-executing.
	again, err := workflow.Start(ctx, runner, "doomed", "doomed-1", greetInput{})
	if err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if again.Result.Error != "insufficient inventory" {
		t.Fatalf("retry result: %+v", again.Result)
	}
}

func TestStartBusinessFailureEnvelope(t *testing.T) {
	runner, s := newTestRunner(t)
	ctx := context.Background()

	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("reserve-stock",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			return workflow.Fail("insufficient inventory"), nil
		}))

	run, err := workflow.Start(ctx, runner, "reserve-stock", "reserve-1", greetInput{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state: got %s, want failed", run.State)
	}
	if run.Result == nil || run.Result.Success || run.Result.Error != "insufficient inventory" {
		t.Fatalf("run result: %+v", run.Result)
	}
	if run.Error != "insufficient inventory" {
		t.Fatalf("run error: %q", run.Error)
	}

	stored, err := s.GetRun(ctx, "reserve-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.State != workflow.RunStateFailed || stored.Result.Success {
		t.Fatalf("stored run: state=%s result=%+v", stored.State, stored.Result)
	}

	lastErr, err := runner.LastError(ctx, "reserve-1")
	if err != nil {
		t.Fatalf("LastError: %v", err)
	}
	if lastErr == nil || lastErr["error"] != "insufficient inventory" {
		t.Fatalf("LastError payload: %v", lastErr)
	}
}

func TestStartRecoversPanics(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("explosive",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			panic("kaboom")
		}))

	run, err := workflow.Start(ctx, runner, "explosive", "boom-1", greetInput{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.State != workflow.RunStateFailed {
		t.Fatalf("run state: got %s, want failed", run.State)
	}
	if run.Result == nil || run.Result.Success {
		t.Fatalf("run result: %+v", run.Result)
	}
}

func TestStartUnknownWorkflow(t *testing.T) {
	runner, _ := newTestRunner(t)

	_, err := workflow.Start(context.Background(), runner, "nope", "k", greetInput{})
	if !errors.Is(err, stepwise.ErrWorkflowNotFound) {
		t.Fatalf("got %v, want ErrWorkflowNotFound", err)
	}
}

func TestConcurrentStartSameKey(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	var calls atomic.Int64
	gate := make(chan struct{})
	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("create-proposal",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			calls.Add(1)
			<-gate
			return workflow.OK(id.NewProposalID().String()), nil
		}))

	const callers = 4
	results := make([]*workflow.Run, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = workflow.Start(ctx, runner, "create-proposal", "prop-123", greetInput{})
		}(i)
	}
	// Let the goroutines pile up on the key, then release the body.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("body executed %d times, want 1", calls.Load())
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Result.EntityID != results[0].Result.EntityID {
			t.Fatalf("caller %d saw entity %s, caller 0 saw %s",
				i, results[i].Result.EntityID, results[0].Result.EntityID)
		}
	}
}

func TestStartRejectsRunInFlightElsewhere(t *testing.T) {
	runner, s := newTestRunner(t)
	ctx := context.Background()

	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("slow",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			return workflow.OK("x"), nil
		}))

	// A run in "running" state with no in-process execution looks like
	// another process holds it.
	run := &workflow.Run{
		Entity:    stepwise.NewEntity(),
		ID:        id.NewRunID(),
		Key:       "held-1",
		Name:      "slow",
		Version:   1,
		State:     workflow.RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	_, err := workflow.Start(ctx, runner, "slow", "held-1", greetInput{})
	if !errors.Is(err, stepwise.ErrRunInFlight) {
		t.Fatalf("got %v, want ErrRunInFlight", err)
	}
}

func TestResumeSkipsCheckpointedSteps(t *testing.T) {
	runner, s := newTestRunner(t)
	ctx := context.Background()

	var stepOne, stepTwo atomic.Int64
	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("two-step",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			if err := wf.Step("one", func(ctx context.Context) error {
				stepOne.Add(1)
				return nil
			}); err != nil {
				return workflow.Result{}, err
			}
			if err := wf.Step("two", func(ctx context.Context) error {
				stepTwo.Add(1)
				return nil
			}); err != nil {
				return workflow.Result{}, err
			}
			return workflow.OK("done"), nil
		}))

	// Simulate a crash after step one: the run exists in "running" with
	// step one checkpointed, and the process restarted.
	run := &workflow.Run{
		Entity:    stepwise.NewEntity(),
		ID:        id.NewRunID(),
		Key:       "crashed-1",
		Name:      "two-step",
		Version:   1,
		State:     workflow.RunStateRunning,
		Input:     []byte(`{}`),
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "crashed-1", "one", []byte{}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	if err := runner.Resume(ctx, "crashed-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if stepOne.Load() != 0 {
		t.Fatalf("checkpointed step re-executed %d times", stepOne.Load())
	}
	if stepTwo.Load() != 1 {
		t.Fatalf("remaining step executed %d times, want 1", stepTwo.Load())
	}

	resumed, err := s.GetRun(ctx, "crashed-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if resumed.State != workflow.RunStateCompleted {
		t.Fatalf("resumed run state: %s", resumed.State)
	}
}

func TestResumeRejectsTerminalRuns(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx := context.Background()

	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("quick",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			return workflow.OK("x"), nil
		}))

	if _, err := workflow.Start(ctx, runner, "quick", "q-1", greetInput{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := runner.Resume(ctx, "q-1"); err == nil {
		t.Fatal("Resume of a completed run must fail")
	}
}

func TestResumeAll(t *testing.T) {
	runner, s := newTestRunner(t)
	ctx := context.Background()

	var calls atomic.Int64
	workflow.MustRegisterDefinition(runner.Registry(), workflow.NewWorkflow("batch",
		func(wf *workflow.Workflow, in greetInput) (workflow.Result, error) {
			calls.Add(1)
			return workflow.OK("x"), nil
		}))

	for _, key := range []string{"b-1", "b-2", "b-3"} {
		run := &workflow.Run{
			Entity:    stepwise.NewEntity(),
			ID:        id.NewRunID(),
			Key:       key,
			Name:      "batch",
			Version:   1,
			State:     workflow.RunStateRunning,
			Input:     []byte(`{}`),
			StartedAt: time.Now().UTC(),
		}
		if err := s.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun %s: %v", key, err)
		}
	}

	if err := runner.ResumeAll(ctx, 2); err != nil {
		t.Fatalf("ResumeAll: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("resumed %d runs, want 3", calls.Load())
	}
	for _, key := range []string{"b-1", "b-2", "b-3"} {
		run, err := s.GetRun(ctx, key)
		if err != nil {
			t.Fatalf("GetRun %s: %v", key, err)
		}
		if run.State != workflow.RunStateCompleted {
			t.Fatalf("run %s state: %s", key, run.State)
		}
	}
}
