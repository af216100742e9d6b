package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/id"
)

// AppendEvent persists a new event on the given stream. INCR on the
// per-stream counter assigns the next sequence number atomically; the
// event itself lands in a Sorted Set scored by that sequence.
func (s *Store) AppendEvent(ctx context.Context, workflowKey string, topic event.Topic, payload []byte) (*event.Event, error) {
	seq, err := s.client.Incr(ctx, eventSeqKey(workflowKey, string(topic))).Result()
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: append event seq: %w", err)
	}

	evt := &event.Event{
		ID:          id.NewEventID(),
		WorkflowKey: workflowKey,
		Topic:       topic,
		Seq:         seq,
		Payload:     payload,
		RecordedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: marshal event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, eventStreamKey(workflowKey, string(topic)), goredis.Z{
		Score:  float64(seq),
		Member: string(data),
	})
	pipe.SAdd(ctx, eventTopicsKey(workflowKey), string(topic))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("stepwise/redis: append event: %w", err)
	}
	return evt, nil
}

// ReadEvent returns the first event on the stream with Seq >= fromSeq,
// or nil if none exists yet.
func (s *Store) ReadEvent(ctx context.Context, workflowKey string, topic event.Topic, fromSeq int64) (*event.Event, error) {
	members, err := s.client.ZRangeByScore(ctx, eventStreamKey(workflowKey, string(topic)), &goredis.ZRangeBy{
		Min:   strconv.FormatInt(fromSeq, 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: read event: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return unmarshalEvent(members[0])
}

// LatestEvent returns the newest event on the stream, or nil if the
// stream is empty.
func (s *Store) LatestEvent(ctx context.Context, workflowKey string, topic event.Topic) (*event.Event, error) {
	members, err := s.client.ZRevRange(ctx, eventStreamKey(workflowKey, string(topic)), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: latest event: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return unmarshalEvent(members[0])
}

func unmarshalEvent(member string) (*event.Event, error) {
	var evt event.Event
	if err := json.Unmarshal([]byte(member), &evt); err != nil {
		return nil, fmt.Errorf("stepwise/redis: unmarshal event: %w", err)
	}
	return &evt, nil
}
