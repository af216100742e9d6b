package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/workflow"
)

// CreateRun persists a new workflow run as a single JSON value. SET NX
// is both the atomic claim and the full write: when two processes race,
// exactly one succeeds, and a concurrent reader sees either the whole
// run or no run at all.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("stepwise/redis: marshal run: %w", err)
	}
	claimed, err := s.client.SetNX(ctx, runKey(run.Key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("stepwise/redis: create run: %w", err)
	}
	if !claimed {
		return stepwise.ErrRunExists
	}
	if err := s.client.SAdd(ctx, runKeysKey, run.Key).Err(); err != nil {
		return fmt.Errorf("stepwise/redis: index run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by idempotency key.
func (s *Store) GetRun(ctx context.Context, key string) (*workflow.Run, error) {
	data, err := s.client.Get(ctx, runKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, stepwise.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: get run: %w", err)
	}
	return unmarshalRun(data)
}

// UpdateRun persists changes to an existing workflow run. SET XX
// refuses to resurrect a run that no longer exists.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	c := *run
	c.Touch()
	data, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("stepwise/redis: marshal run: %w", err)
	}
	set, err := s.client.SetXX(ctx, runKey(run.Key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("stepwise/redis: update run: %w", err)
	}
	if !set {
		return stepwise.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, ordered by
// start time.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	keys, err := s.client.SMembers(ctx, runKeysKey).Result()
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: list runs smembers: %w", err)
	}

	var runs []*workflow.Run
	for _, k := range keys {
		data, getErr := s.client.Get(ctx, runKey(k)).Bytes()
		if getErr != nil {
			continue
		}
		r, convErr := unmarshalRun(data)
		if convErr != nil {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(runs) {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// SaveCheckpoint persists checkpoint data for a workflow step. HSetNX
// on the id field makes the first write win; replays racing a crashed
// original never overwrite recorded progress.
func (s *Store) SaveCheckpoint(ctx context.Context, runKeyStr, stepName string, data []byte) error {
	key := checkpointKey(runKeyStr, stepName)

	claimed, err := s.client.HSetNX(ctx, key, "id", id.NewCheckpointID().String()).Result()
	if err != nil {
		return fmt.Errorf("stepwise/redis: save checkpoint claim: %w", err)
	}
	if !claimed {
		return nil
	}

	seq, err := s.client.Incr(ctx, checkpointSeqKey(runKeyStr)).Result()
	if err != nil {
		return fmt.Errorf("stepwise/redis: save checkpoint seq: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"run_key", runKeyStr,
		"step_name", stepName,
		"seq", strconv.FormatInt(seq, 10),
		"data", string(data),
		"created_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.SAdd(ctx, checkpointIndexKey(runKeyStr), stepName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stepwise/redis: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a workflow step.
func (s *Store) GetCheckpoint(ctx context.Context, runKeyStr, stepName string) ([]byte, bool, error) {
	key := checkpointKey(runKeyStr, stepName)
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("stepwise/redis: get checkpoint: %w", err)
	}
	// The hash may hold only the claim field while the writer is still
	// racing in; treat it as absent until the step name lands.
	if _, ok := vals["step_name"]; !ok {
		return nil, false, nil
	}
	return []byte(vals["data"]), true, nil
}

// ListCheckpoints returns all checkpoints for a run in completion order.
func (s *Store) ListCheckpoints(ctx context.Context, runKeyStr string) ([]*workflow.Checkpoint, error) {
	steps, err := s.client.SMembers(ctx, checkpointIndexKey(runKeyStr)).Result()
	if err != nil {
		return nil, fmt.Errorf("stepwise/redis: list checkpoints: %w", err)
	}

	var checkpoints []*workflow.Checkpoint
	for _, step := range steps {
		vals, getErr := s.client.HGetAll(ctx, checkpointKey(runKeyStr, step)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}

		cpID, _ := id.ParseCheckpointID(vals["id"])
		seq, _ := strconv.Atoi(vals["seq"])
		createdAt, _ := time.Parse(time.RFC3339Nano, vals["created_at"])

		checkpoints = append(checkpoints, &workflow.Checkpoint{
			ID:        cpID,
			RunKey:    runKeyStr,
			StepName:  vals["step_name"],
			Seq:       seq,
			Data:      []byte(vals["data"]),
			CreatedAt: createdAt,
		})
	}

	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].Seq < checkpoints[j].Seq
	})
	return checkpoints, nil
}

// PurgeRunsBefore removes terminal runs completed before the given time
// along with their checkpoints, sequence counters and event streams.
func (s *Store) PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	keys, err := s.client.SMembers(ctx, runKeysKey).Result()
	if err != nil {
		return 0, fmt.Errorf("stepwise/redis: purge runs smembers: %w", err)
	}

	var purged int64
	for _, k := range keys {
		data, getErr := s.client.Get(ctx, runKey(k)).Bytes()
		if getErr != nil {
			continue
		}
		r, convErr := unmarshalRun(data)
		if convErr != nil {
			continue
		}
		if !r.State.Terminal() || r.CompletedAt == nil || !r.CompletedAt.Before(before) {
			continue
		}

		if err := s.purgeRun(ctx, k); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *Store) purgeRun(ctx context.Context, key string) error {
	steps, err := s.client.SMembers(ctx, checkpointIndexKey(key)).Result()
	if err != nil {
		return fmt.Errorf("stepwise/redis: purge run checkpoints: %w", err)
	}
	topics, err := s.client.SMembers(ctx, eventTopicsKey(key)).Result()
	if err != nil {
		return fmt.Errorf("stepwise/redis: purge run topics: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, step := range steps {
		pipe.Del(ctx, checkpointKey(key, step))
	}
	for _, topic := range topics {
		pipe.Del(ctx, eventStreamKey(key, topic), eventSeqKey(key, topic))
	}
	pipe.Del(ctx, checkpointIndexKey(key), checkpointSeqKey(key), eventTopicsKey(key), runKey(key))
	pipe.SRem(ctx, runKeysKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stepwise/redis: purge run: %w", err)
	}
	return nil
}

// ── helpers ──

func unmarshalRun(data []byte) (*workflow.Run, error) {
	var r workflow.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("stepwise/redis: unmarshal run: %w", err)
	}
	return &r, nil
}
