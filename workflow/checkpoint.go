package workflow

import (
	"time"

	"github.com/stepwise-io/stepwise/id"
)

// Checkpoint stores the serialized result of a completed workflow step,
// enabling crash recovery by skipping already-done steps on replay.
// At most one checkpoint exists per (RunKey, StepName); it is written
// once, on step success, and never afterwards.
type Checkpoint struct {
	ID       id.CheckpointID `json:"id"`
	RunKey   string          `json:"run_key"`
	StepName string          `json:"step_name"`
	// Seq orders checkpoints within one run by completion.
	Seq       int       `json:"seq"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}
