package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stepwise-io/stepwise/ext"
	"github.com/stepwise-io/stepwise/workflow"
)

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnWorkflowStarted(_ context.Context, _ *workflow.Run) error {
	e.calls = append(e.calls, "OnWorkflowStarted")
	return nil
}

func (e *allHooksExt) OnWorkflowStepCompleted(_ context.Context, _ *workflow.Run, _ string, _ time.Duration) error {
	e.calls = append(e.calls, "OnWorkflowStepCompleted")
	return nil
}

func (e *allHooksExt) OnWorkflowStepFailed(_ context.Context, _ *workflow.Run, _ string, _ error) error {
	e.calls = append(e.calls, "OnWorkflowStepFailed")
	return nil
}

func (e *allHooksExt) OnWorkflowCompleted(_ context.Context, _ *workflow.Run, _ time.Duration) error {
	e.calls = append(e.calls, "OnWorkflowCompleted")
	return nil
}

func (e *allHooksExt) OnWorkflowFailed(_ context.Context, _ *workflow.Run, _ error) error {
	e.calls = append(e.calls, "OnWorkflowFailed")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// startOnlyExt only implements the run-started hook.
type startOnlyExt struct {
	calls []string
}

func (e *startOnlyExt) Name() string { return "start-only" }

func (e *startOnlyExt) OnWorkflowStarted(_ context.Context, _ *workflow.Run) error {
	e.calls = append(e.calls, "OnWorkflowStarted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnWorkflowStarted(_ context.Context, _ *workflow.Run) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	so := &startOnlyExt{}
	r.Register(all)
	r.Register(so)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}

	// Both implement OnWorkflowStarted → both called.
	r.EmitWorkflowStarted(ctx, run)
	if len(all.calls) != 1 || all.calls[0] != "OnWorkflowStarted" {
		t.Fatalf("all: expected [OnWorkflowStarted], got %v", all.calls)
	}
	if len(so.calls) != 1 || so.calls[0] != "OnWorkflowStarted" {
		t.Fatalf("so: expected [OnWorkflowStarted], got %v", so.calls)
	}

	// Only all implements OnWorkflowCompleted → so not called.
	r.EmitWorkflowCompleted(ctx, run, time.Second)
	if len(all.calls) != 2 || all.calls[1] != "OnWorkflowCompleted" {
		t.Fatalf("all: expected OnWorkflowCompleted as 2nd, got %v", all.calls)
	}
	if len(so.calls) != 1 {
		t.Fatalf("so: should still have 1 call, got %v", so.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}

	r.EmitWorkflowStarted(ctx, run)
	r.EmitWorkflowStepCompleted(ctx, run, "step1", time.Second)
	r.EmitWorkflowStepFailed(ctx, run, "step2", errors.New("step fail"))
	r.EmitWorkflowCompleted(ctx, run, 2*time.Second)
	r.EmitWorkflowFailed(ctx, run, errors.New("wf fail"))
	r.EmitShutdown(ctx)

	expected := []string{
		"OnWorkflowStarted", "OnWorkflowStepCompleted",
		"OnWorkflowStepFailed", "OnWorkflowCompleted", "OnWorkflowFailed",
		"OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	run := &workflow.Run{Name: "test-wf"}

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitWorkflowStarted(ctx, run)

	if len(all.calls) != 1 || all.calls[0] != "OnWorkflowStarted" {
		t.Fatalf("all: expected [OnWorkflowStarted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitWorkflowStarted(ctx, &workflow.Run{})
	r.EmitWorkflowStepCompleted(ctx, &workflow.Run{}, "s", time.Second)
	r.EmitWorkflowStepFailed(ctx, &workflow.Run{}, "s", errors.New("x"))
	r.EmitWorkflowCompleted(ctx, &workflow.Run{}, time.Second)
	r.EmitWorkflowFailed(ctx, &workflow.Run{}, errors.New("x"))
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ext1 := &allHooksExt{}
	ext2 := &allHooksExt{}
	r.Register(ext1)
	r.Register(ext2)

	ctx := context.Background()
	r.EmitWorkflowStarted(ctx, &workflow.Run{})

	// Both should be called.
	if len(ext1.calls) != 1 {
		t.Errorf("ext1: expected 1 call, got %d", len(ext1.calls))
	}
	if len(ext2.calls) != 1 {
		t.Errorf("ext2: expected 1 call, got %d", len(ext2.calls))
	}
}
