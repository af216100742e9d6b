package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/store/memory"
	"github.com/stepwise-io/stepwise/workflow"
)

func newTestWorkflow(t *testing.T, key string) (*workflow.Workflow, *memory.Store) {
	t.Helper()
	s := memory.New()
	run := &workflow.Run{
		Entity:    stepwise.NewEntity(),
		ID:        id.NewRunID(),
		Key:       key,
		Name:      "test.workflow",
		Version:   1,
		State:     workflow.RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	wf := workflow.NewWorkflowContext(context.Background(), run, s, event.NewStream(s), noopEmitter{}, testLogger())
	return wf, s
}

func TestStepRunsOncePerName(t *testing.T) {
	wf, _ := newTestWorkflow(t, "run-1")

	calls := 0
	step := func(ctx context.Context) error {
		calls++
		return nil
	}

	if err := wf.Step("create-entity", step); err != nil {
		t.Fatalf("first Step: %v", err)
	}
	if err := wf.Step("create-entity", step); err != nil {
		t.Fatalf("replayed Step: %v", err)
	}
	if calls != 1 {
		t.Fatalf("step executed %d times, want 1", calls)
	}
}

func TestStepPublishesStatusEvent(t *testing.T) {
	wf, s := newTestWorkflow(t, "run-1")

	if err := wf.Step("notify", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("Step: %v", err)
	}

	evt, err := s.LatestEvent(context.Background(), "run-1", event.TopicStatus)
	if err != nil {
		t.Fatalf("LatestEvent: %v", err)
	}
	if evt == nil {
		t.Fatal("no status event published")
	}
}

func TestStepFailureWritesNoCheckpoint(t *testing.T) {
	wf, s := newTestWorkflow(t, "run-1")

	boom := errors.New("db constraint violated")
	err := wf.Step("flaky", func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Step: got %v, want wrapped boom", err)
	}

	if _, ok, _ := s.GetCheckpoint(context.Background(), "run-1", "flaky"); ok {
		t.Fatal("checkpoint written for failed step")
	}

	// The step runs again on replay.
	calls := 0
	if err := wf.Step("flaky", func(ctx context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("replayed Step: %v", err)
	}
	if calls != 1 {
		t.Fatalf("step executed %d times on replay, want 1", calls)
	}
}

func TestStepWithResultCachesTypedValue(t *testing.T) {
	wf, _ := newTestWorkflow(t, "run-1")

	type summary struct {
		EntityID string
		Total    int64
	}

	calls := 0
	fn := func(ctx context.Context) (summary, error) {
		calls++
		return summary{EntityID: "inv-1", Total: 100}, nil
	}

	first, err := workflow.StepWithResult(wf, "apply", fn)
	if err != nil {
		t.Fatalf("first StepWithResult: %v", err)
	}
	second, err := workflow.StepWithResult(wf, "apply", fn)
	if err != nil {
		t.Fatalf("replayed StepWithResult: %v", err)
	}

	if calls != 1 {
		t.Fatalf("step executed %d times, want 1", calls)
	}
	if second != first {
		t.Fatalf("cached result differs: %+v vs %+v", second, first)
	}
}

func TestStepsShareNothingAcrossRuns(t *testing.T) {
	wf1, _ := newTestWorkflow(t, "run-1")
	wf2, _ := newTestWorkflow(t, "run-2")

	calls := 0
	step := func(ctx context.Context) error {
		calls++
		return nil
	}

	if err := wf1.Step("shared-name", step); err != nil {
		t.Fatalf("run-1 Step: %v", err)
	}
	if err := wf2.Step("shared-name", step); err != nil {
		t.Fatalf("run-2 Step: %v", err)
	}
	if calls != 2 {
		t.Fatalf("step executed %d times across two runs, want 2", calls)
	}
}
