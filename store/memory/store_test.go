package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/billing"
	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/workflow"
)

func newRun(key string) *workflow.Run {
	return &workflow.Run{
		Entity:    stepwise.NewEntity(),
		ID:        id.NewRunID(),
		Key:       key,
		Name:      "test.workflow",
		Version:   1,
		State:     workflow.RunStatePending,
		StartedAt: time.Now().UTC(),
	}
}

func TestRunLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	run := newRun("run-1")
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, newRun("run-1")); !errors.Is(err, stepwise.ErrRunExists) {
		t.Fatalf("duplicate CreateRun: got %v, want ErrRunExists", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Key != "run-1" || got.State != workflow.RunStatePending {
		t.Fatalf("GetRun: got %+v", got)
	}

	got.State = workflow.RunStateCompleted
	now := time.Now().UTC()
	got.CompletedAt = &now
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	// The store must not share memory with callers.
	got.State = workflow.RunStateFailed
	again, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if again.State != workflow.RunStateCompleted {
		t.Fatalf("store shared memory with caller: state = %s", again.State)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, stepwise.ErrRunNotFound) {
		t.Fatalf("GetRun missing: got %v, want ErrRunNotFound", err)
	}
}

func TestListRunsFiltersByState(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := s.CreateRun(ctx, newRun(key)); err != nil {
			t.Fatalf("CreateRun %s: %v", key, err)
		}
	}
	b, _ := s.GetRun(ctx, "b")
	b.State = workflow.RunStateRunning
	if err := s.UpdateRun(ctx, b); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	running, err := s.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateRunning})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(running) != 1 || running[0].Key != "b" {
		t.Fatalf("ListRuns running: got %d runs", len(running))
	}

	all, err := s.ListRuns(ctx, workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns all: got %d, want 3", len(all))
	}
}

func TestCheckpointFirstWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SaveCheckpoint(ctx, "run-1", "step-a", []byte("first")); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "run-1", "step-a", []byte("second")); err != nil {
		t.Fatalf("duplicate SaveCheckpoint: %v", err)
	}

	data, ok, err := s.GetCheckpoint(ctx, "run-1", "step-a")
	if err != nil || !ok {
		t.Fatalf("GetCheckpoint: ok=%v err=%v", ok, err)
	}
	if string(data) != "first" {
		t.Fatalf("checkpoint overwritten: got %q", data)
	}

	_, ok, err = s.GetCheckpoint(ctx, "run-1", "step-b")
	if err != nil || ok {
		t.Fatalf("missing checkpoint: ok=%v err=%v", ok, err)
	}
}

func TestCheckpointOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, step := range []string{"one", "two", "three"} {
		if err := s.SaveCheckpoint(ctx, "run-1", step, nil); err != nil {
			t.Fatalf("SaveCheckpoint %s: %v", step, err)
		}
	}

	cps, err := s.ListCheckpoints(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(cps))
	}
	for i, cp := range cps {
		if cp.Seq != i+1 {
			t.Fatalf("checkpoint %d has seq %d", i, cp.Seq)
		}
	}
}

func TestEventSequencing(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		evt, err := s.AppendEvent(ctx, "run-1", event.TopicStatus, []byte(`{}`))
		if err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if evt.Seq != int64(i+1) {
			t.Fatalf("event %d assigned seq %d", i, evt.Seq)
		}
	}

	// Sequences are independent per topic.
	evt, err := s.AppendEvent(ctx, "run-1", event.TopicError, []byte(`{}`))
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if evt.Seq != 1 {
		t.Fatalf("error topic seq: got %d, want 1", evt.Seq)
	}

	got, err := s.ReadEvent(ctx, "run-1", event.TopicStatus, 2)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if got == nil || got.Seq != 2 {
		t.Fatalf("ReadEvent from 2: got %+v", got)
	}

	none, err := s.ReadEvent(ctx, "run-1", event.TopicStatus, 10)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if none != nil {
		t.Fatalf("ReadEvent past end: got %+v, want nil", none)
	}

	latest, err := s.LatestEvent(ctx, "run-1", event.TopicStatus)
	if err != nil {
		t.Fatalf("LatestEvent: %v", err)
	}
	if latest == nil || latest.Seq != 3 {
		t.Fatalf("LatestEvent: got %+v", latest)
	}
}

func TestPurgeRunsBefore(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := newRun("old")
	if err := s.CreateRun(ctx, old); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	old.State = workflow.RunStateCompleted
	past := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &past
	if err := s.UpdateRun(ctx, old); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "old", "step", nil); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	if err := s.CreateRun(ctx, newRun("live")); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	purged, err := s.PurgeRunsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeRunsBefore: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d runs, want 1", purged)
	}
	if _, err := s.GetRun(ctx, "old"); !errors.Is(err, stepwise.ErrRunNotFound) {
		t.Fatalf("purged run still present: %v", err)
	}
	if _, ok, _ := s.GetCheckpoint(ctx, "old", "step"); ok {
		t.Fatal("purged run's checkpoint still present")
	}
	if _, err := s.GetRun(ctx, "live"); err != nil {
		t.Fatalf("live run purged: %v", err)
	}
}

func TestInTenantRequiresScope(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTenant(ctx, tenant.Scope{}, func(ctx context.Context) error { return nil })
	if !errors.Is(err, stepwise.ErrNoTenantScope) {
		t.Fatalf("InTenant without org: got %v, want ErrNoTenantScope", err)
	}

	// Writes outside a tenant transaction are rejected.
	if err := s.CreateProposal(ctx, billing.NewProposal("org-1", "t", "b")); !errors.Is(err, stepwise.ErrNoTenantScope) {
		t.Fatalf("CreateProposal outside tx: got %v, want ErrNoTenantScope", err)
	}
}

func TestInTenantCommitAndRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	scope := tenant.Scope{OrgID: "org-1", ActorID: "actor-1"}

	p := billing.NewProposal("org-1", "keep", "")
	err := s.InTenant(ctx, scope, func(ctx context.Context) error {
		return s.CreateProposal(ctx, p)
	})
	if err != nil {
		t.Fatalf("InTenant: %v", err)
	}

	boom := errors.New("boom")
	err = s.InTenant(ctx, scope, func(ctx context.Context) error {
		if err := s.CreateProposal(ctx, billing.NewProposal("org-1", "discard", "")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTenant: got %v, want boom", err)
	}

	err = s.InTenant(ctx, scope, func(ctx context.Context) error {
		all, err := s.ListProposals(ctx)
		if err != nil {
			return err
		}
		if len(all) != 1 || all[0].Title != "keep" {
			t.Fatalf("rollback failed: %d proposals", len(all))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTenant: %v", err)
	}
}

func TestInTenantRollsBackOnPanic(t *testing.T) {
	s := New()
	ctx := context.Background()
	scope := tenant.Scope{OrgID: "org-1"}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic was swallowed")
			}
		}()
		_ = s.InTenant(ctx, scope, func(ctx context.Context) error {
			if err := s.CreateProposal(ctx, billing.NewProposal("org-1", "doomed", "")); err != nil {
				return err
			}
			panic("midway")
		})
	}()

	err := s.InTenant(ctx, scope, func(ctx context.Context) error {
		all, err := s.ListProposals(ctx)
		if err != nil {
			return err
		}
		if len(all) != 0 {
			t.Fatalf("panic write survived: %d proposals", len(all))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTenant: %v", err)
	}
}

func TestRollbackConfinedToOrg(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Org B's transaction is held open while org A commits; B's rollback
	// must not take A's committed rows with it.
	bEntered := make(chan struct{})
	aCommitted := make(chan struct{})
	bDone := make(chan error, 1)
	go func() {
		bDone <- s.InTenant(ctx, tenant.Scope{OrgID: "org-b"}, func(ctx context.Context) error {
			close(bEntered)
			if err := s.CreateEstimate(ctx, billing.NewEstimate("org-b", "cust-b", 50)); err != nil {
				return err
			}
			<-aCommitted
			return errors.New("boom")
		})
	}()

	<-bEntered
	est := billing.NewEstimate("org-a", "cust-a", 100)
	err := s.InTenant(ctx, tenant.Scope{OrgID: "org-a"}, func(ctx context.Context) error {
		return s.CreateEstimate(ctx, est)
	})
	if err != nil {
		t.Fatalf("InTenant org-a: %v", err)
	}
	close(aCommitted)
	if err := <-bDone; err == nil {
		t.Fatal("org-b transaction did not fail")
	}

	err = s.InTenant(ctx, tenant.Scope{OrgID: "org-a"}, func(ctx context.Context) error {
		got, err := s.GetEstimate(ctx, est.ID)
		if err != nil {
			return err
		}
		if got.ID != est.ID {
			t.Fatalf("GetEstimate: got %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("org-a committed estimate lost to org-b rollback: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()

	inv := billing.NewInvoice("org-1", "cust-1", 100)
	err := s.InTenant(ctx, tenant.Scope{OrgID: "org-1"}, func(ctx context.Context) error {
		return s.CreateInvoice(ctx, inv)
	})
	if err != nil {
		t.Fatalf("InTenant: %v", err)
	}

	// Another org cannot see or touch it.
	err = s.InTenant(ctx, tenant.Scope{OrgID: "org-2"}, func(ctx context.Context) error {
		if _, err := s.GetInvoice(ctx, inv.ID); !errors.Is(err, stepwise.ErrEntityNotFound) {
			t.Fatalf("cross-org read: got %v, want ErrEntityNotFound", err)
		}
		if err := s.UpdateInvoice(ctx, inv); !errors.Is(err, stepwise.ErrEntityNotFound) {
			t.Fatalf("cross-org write: got %v, want ErrEntityNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTenant: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, stepwise.ErrStoreClosed) {
		t.Fatalf("Ping after close: got %v", err)
	}
	if err := s.CreateRun(ctx, newRun("x")); !errors.Is(err, stepwise.ErrStoreClosed) {
		t.Fatalf("CreateRun after close: got %v", err)
	}
}
