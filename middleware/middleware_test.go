package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/middleware"
	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRun() *workflow.Run {
	return &workflow.Run{
		ID:      id.NewRunID(),
		Key:     "run-key-1",
		Name:    "send-estimate",
		Version: 1,
		OrgID:   "org_456",
		ActorID: "actor_789",
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *workflow.Run, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *workflow.Run, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newTestRun(), handler); err != nil {
		t.Fatalf("chain: %v", err)
	}

	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(want) {
		t.Fatalf("order: got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestChain_ErrorShortCircuitsHandler(t *testing.T) {
	boom := errors.New("rejected")
	blocker := func(ctx context.Context, _ *workflow.Run, next middleware.Handler) error {
		return boom
	}

	called := false
	err := middleware.Chain(blocker)(context.Background(), newTestRun(), func(_ context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if called {
		t.Fatal("handler called despite short-circuit")
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	m := middleware.Recover(testLogger())

	err := m(context.Background(), newTestRun(), func(_ context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("error does not name the panic: %v", err)
	}
}

func TestRecover_PassesThroughErrors(t *testing.T) {
	m := middleware.Recover(testLogger())
	boom := errors.New("normal failure")

	err := m(context.Background(), newTestRun(), func(_ context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}

func TestLogging_PassesThroughResult(t *testing.T) {
	m := middleware.Logging(testLogger())

	if err := m(context.Background(), newTestRun(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("success path: %v", err)
	}

	boom := errors.New("failed")
	if err := m(context.Background(), newTestRun(), func(_ context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("failure path: got %v", err)
	}
}

func TestScope_RestoresTenantScope(t *testing.T) {
	m := middleware.Scope()
	run := newTestRun()

	err := m(context.Background(), run, func(ctx context.Context) error {
		s, ok := tenant.FromContext(ctx)
		if !ok {
			t.Fatal("no tenant scope in context")
		}
		if s.OrgID != run.OrgID || s.ActorID != run.ActorID {
			t.Fatalf("scope: %+v", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scope middleware: %v", err)
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	m := middleware.Timeout(10 * time.Millisecond)

	err := m(context.Background(), newTestRun(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_ZeroIsPassThrough(t *testing.T) {
	m := middleware.Timeout(0)

	err := m(context.Background(), newTestRun(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("deadline set for zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("timeout middleware: %v", err)
	}
}
