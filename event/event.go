package event

import (
	"time"

	"github.com/stepwise-io/stepwise/id"
)

// Topic is the channel an event belongs to within one workflow run.
type Topic string

const (
	// TopicStatus carries progress notifications ("which step ran").
	TopicStatus Topic = "status"
	// TopicError carries structured failure notifications.
	TopicError Topic = "error"
)

// Event is one entry in the append-only, per-workflow-instance event
// stream. Events are never mutated or deleted; consumers track their own
// last-seen sequence number.
type Event struct {
	ID          id.EventID `json:"id"`
	WorkflowKey string     `json:"workflow_key"`
	Topic       Topic      `json:"topic"`
	// Seq is monotonically increasing per (WorkflowKey, Topic),
	// starting at 1.
	Seq        int64     `json:"seq"`
	Payload    []byte    `json:"payload,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
