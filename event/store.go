package event

import "context"

// Store defines the persistence contract for workflow event streams.
type Store interface {
	// AppendEvent persists a new event on the given stream, assigning
	// the next sequence number for (workflowKey, topic) atomically.
	// Returns the stored event including its assigned Seq.
	AppendEvent(ctx context.Context, workflowKey string, topic Topic, payload []byte) (*Event, error)

	// ReadEvent returns the first event on the stream with
	// Seq >= fromSeq, or nil if none exists yet. This supports polling
	// clients asking "has anything new happened since last check."
	ReadEvent(ctx context.Context, workflowKey string, topic Topic, fromSeq int64) (*Event, error)

	// LatestEvent returns the newest event on the stream, or nil if
	// the stream is empty.
	LatestEvent(ctx context.Context, workflowKey string, topic Topic) (*Event, error)
}
