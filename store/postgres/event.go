package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/id"
)

// appendRetries bounds the sequence-claim retry loop under contention.
const appendRetries = 5

// AppendEvent persists a new event, assigning the next sequence number
// for (workflowKey, topic). The MAX+1 claim can race a concurrent
// append; the primary key on (workflow_key, topic, seq) detects the
// collision and the insert retries with a fresh sequence.
func (s *Store) AppendEvent(ctx context.Context, workflowKey string, topic event.Topic, payload []byte) (*event.Event, error) {
	evt := &event.Event{
		ID:          id.NewEventID(),
		WorkflowKey: workflowKey,
		Topic:       topic,
		Payload:     payload,
		RecordedAt:  time.Now().UTC(),
	}

	for attempt := 0; attempt < appendRetries; attempt++ {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO stepwise_events (id, workflow_key, topic, seq, payload, recorded_at)
			SELECT $1, $2, $3,
			       COALESCE((SELECT MAX(seq) FROM stepwise_events WHERE workflow_key = $2 AND topic = $3), 0) + 1,
			       $4, $5
			RETURNING seq`,
			evt.ID.String(), workflowKey, string(topic), payload, evt.RecordedAt,
		).Scan(&evt.Seq)
		if err == nil {
			return evt, nil
		}
		if isDuplicateKey(err) {
			continue
		}
		return nil, fmt.Errorf("stepwise/postgres: append event: %w", err)
	}
	return nil, fmt.Errorf("stepwise/postgres: append event: sequence contention on %s/%s", workflowKey, topic)
}

// ReadEvent returns the first event on the stream with Seq >= fromSeq,
// or nil if none exists yet.
func (s *Store) ReadEvent(ctx context.Context, workflowKey string, topic event.Topic, fromSeq int64) (*event.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_key, topic, seq, payload, recorded_at
		FROM stepwise_events
		WHERE workflow_key = $1 AND topic = $2 AND seq >= $3
		ORDER BY seq ASC
		LIMIT 1`,
		workflowKey, string(topic), fromSeq,
	)
	return scanEvent(row)
}

// LatestEvent returns the newest event on the stream, or nil if the
// stream is empty.
func (s *Store) LatestEvent(ctx context.Context, workflowKey string, topic event.Topic) (*event.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, workflow_key, topic, seq, payload, recorded_at
		FROM stepwise_events
		WHERE workflow_key = $1 AND topic = $2
		ORDER BY seq DESC
		LIMIT 1`,
		workflowKey, string(topic),
	)
	return scanEvent(row)
}

// scanEvent scans a single event row. A no-rows result maps to
// (nil, nil): an empty stream is not an error.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt   event.Event
		idStr string
		topic string
	)
	err := row.Scan(&idStr, &evt.WorkflowKey, &topic, &evt.Seq, &evt.Payload, &evt.RecordedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stepwise/postgres: scan event: %w", err)
	}

	parsed, parseErr := id.ParseEventID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse event id %q: %w", idStr, parseErr)
	}
	evt.ID = parsed
	evt.Topic = event.Topic(topic)
	return &evt, nil
}
