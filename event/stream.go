// Package event provides the append-only, sequence-numbered event
// streams that make workflow progress and failures queryable by
// external pollers. Each workflow run owns one stream per topic.
package event

import (
	"context"
	"encoding/json"
	"fmt"
)

// Stream provides high-level publish/read operations over an event
// Store for one topic layout. The workflow runner publishes status and
// error events through it; pollers read them back by sequence number.
type Stream struct {
	store Store
}

// NewStream creates an event stream facade backed by the given store.
func NewStream(store Store) *Stream {
	return &Stream{store: store}
}

// Publish marshals payload to JSON and appends it to the
// (workflowKey, topic) stream.
func (s *Stream) Publish(ctx context.Context, workflowKey string, topic Topic, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal payload for %s/%s: %w", workflowKey, topic, err)
	}
	return s.store.AppendEvent(ctx, workflowKey, topic, data)
}

// Read returns the first event at or after fromSeq, or nil if none
// exists yet.
func (s *Stream) Read(ctx context.Context, workflowKey string, topic Topic, fromSeq int64) (*Event, error) {
	return s.store.ReadEvent(ctx, workflowKey, topic, fromSeq)
}

// Latest returns the newest event on the stream, or nil if the stream
// is empty.
func (s *Stream) Latest(ctx context.Context, workflowKey string, topic Topic) (*Event, error) {
	return s.store.LatestEvent(ctx, workflowKey, topic)
}

// Store returns the underlying event store.
func (s *Stream) Store() Store { return s.store }
