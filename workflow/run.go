package workflow

import (
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStatePending means the run record exists but the body has not
	// started executing yet.
	RunStatePending RunState = "pending"
	// RunStateRunning means the workflow is currently executing.
	RunStateRunning RunState = "running"
	// RunStateCompleted means the workflow finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the workflow failed terminally.
	RunStateFailed RunState = "failed"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Run represents a single workflow instance. Its identity is the
// caller-chosen idempotency Key: a second Start with the same key never
// re-executes side effects, it returns the stored Result.
type Run struct {
	stepwise.Entity

	// ID is the internal record identifier.
	ID id.RunID `json:"id"`

	// Key is the caller-supplied idempotency key. Unique across all
	// runs; uniqueness is the exactly-once guarantee.
	Key string `json:"key"`

	Name    string   `json:"name"`
	Version int      `json:"version"`
	State   RunState `json:"state"`
	Input   []byte   `json:"input,omitempty"`

	// Result is the envelope returned by the body, persisted alongside
	// the run so duplicate starts can return it without re-executing.
	Result *Result `json:"result,omitempty"`

	// Error is the failure reason for failed runs.
	Error string `json:"error,omitempty"`

	// OrgID and ActorID capture the tenant scope the run was started
	// under, restored into the context on resume.
	OrgID   string `json:"org_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
