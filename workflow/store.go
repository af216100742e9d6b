package workflow

import (
	"context"
	"time"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// State filters by run state. Empty means all states.
	State RunState
}

// Store defines the persistence contract for workflow runs and step
// checkpoints. Implementations must be durable for crash recovery to
// hold (the memory store is a test/development exception).
type Store interface {
	// CreateRun persists a new workflow run. The insert must be atomic
	// on Key: when two callers race with the same key, exactly one
	// insert succeeds and the other receives stepwise.ErrRunExists.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a workflow run by idempotency key.
	// Returns stepwise.ErrRunNotFound if no run exists.
	GetRun(ctx context.Context, key string) (*Run, error)

	// UpdateRun persists changes to an existing workflow run.
	UpdateRun(ctx context.Context, run *Run) error

	// ListRuns returns workflow runs matching the given options,
	// ordered by creation time.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// SaveCheckpoint persists checkpoint data for a workflow step.
	// Writing a checkpoint that already exists for (runKey, stepName)
	// is a no-op: the first write wins.
	SaveCheckpoint(ctx context.Context, runKey, stepName string, data []byte) error

	// GetCheckpoint retrieves checkpoint data for a workflow step.
	// ok is false when no checkpoint exists; data may legitimately be
	// empty for steps without results.
	GetCheckpoint(ctx context.Context, runKey, stepName string) (data []byte, ok bool, err error)

	// ListCheckpoints returns all checkpoints for a run in completion
	// order.
	ListCheckpoints(ctx context.Context, runKey string) ([]*Checkpoint, error)

	// PurgeRunsBefore removes terminal runs completed before the given
	// time, along with their checkpoints. Returns the number of runs
	// removed. Retention is operator-driven; nothing purges
	// automatically.
	PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error)
}
