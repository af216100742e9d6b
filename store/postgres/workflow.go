package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/workflow"
)

// CreateRun persists a new workflow run. The primary key on the
// idempotency key makes the insert the atomic claim: when two processes
// race, exactly one insert succeeds.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	resultJSON, err := marshalResult(run.Result)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stepwise_runs (
			key, id, name, version, state, input, result, error,
			org_id, actor_id, started_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		run.Key, run.ID.String(), run.Name, run.Version, string(run.State),
		run.Input, resultJSON, run.Error,
		run.OrgID, run.ActorID, run.StartedAt, run.CompletedAt,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrRunExists
		}
		return fmt.Errorf("stepwise/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by idempotency key.
func (s *Store) GetRun(ctx context.Context, key string) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, id, name, version, state, input, result, error,
		       org_id, actor_id, started_at, completed_at, created_at, updated_at
		FROM stepwise_runs
		WHERE key = $1`,
		key,
	)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stepwise.ErrRunNotFound
		}
		return nil, fmt.Errorf("stepwise/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	resultJSON, err := marshalResult(run.Result)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE stepwise_runs
		SET state = $2, result = $3, error = $4, completed_at = $5, updated_at = $6
		WHERE key = $1`,
		run.Key, string(run.State), resultJSON, run.Error,
		run.CompletedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepwise.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, ordered by
// start time.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	q := `
		SELECT key, id, name, version, state, input, result, error,
		       org_id, actor_id, started_at, completed_at, created_at, updated_at
		FROM stepwise_runs`
	args := []any{}

	if opts.State != "" {
		q += ` WHERE state = $1`
		args = append(args, string(opts.State))
	}
	q += ` ORDER BY started_at ASC`
	if opts.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		q += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: list runs scan: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list runs: %w", err)
	}
	return runs, nil
}

// SaveCheckpoint persists checkpoint data for a workflow step. The
// first write for (runKey, stepName) wins; replays that race a crashed
// original are absorbed by ON CONFLICT DO NOTHING.
func (s *Store) SaveCheckpoint(ctx context.Context, runKey, stepName string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepwise_checkpoints (id, run_key, step_name, seq, data, created_at)
		SELECT $1, $2, $3,
		       COALESCE((SELECT MAX(seq) FROM stepwise_checkpoints WHERE run_key = $2), 0) + 1,
		       $4, $5
		ON CONFLICT (run_key, step_name) DO NOTHING`,
		id.NewCheckpointID().String(), runKey, stepName, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a workflow step.
func (s *Store) GetCheckpoint(ctx context.Context, runKey, stepName string) ([]byte, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT data FROM stepwise_checkpoints
		WHERE run_key = $1 AND step_name = $2`,
		runKey, stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("stepwise/postgres: get checkpoint: %w", err)
	}
	return data, true, nil
}

// ListCheckpoints returns all checkpoints for a run in completion order.
func (s *Store) ListCheckpoints(ctx context.Context, runKey string) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_key, step_name, seq, data, created_at
		FROM stepwise_checkpoints
		WHERE run_key = $1
		ORDER BY seq ASC`,
		runKey,
	)
	if err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*workflow.Checkpoint
	for rows.Next() {
		var (
			cp    workflow.Checkpoint
			idStr string
		)
		if scanErr := rows.Scan(&idStr, &cp.RunKey, &cp.StepName, &cp.Seq, &cp.Data, &cp.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: list checkpoints scan: %w", scanErr)
		}
		parsed, parseErr := id.ParseCheckpointID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: parse checkpoint id %q: %w", idStr, parseErr)
		}
		cp.ID = parsed
		checkpoints = append(checkpoints, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list checkpoints: %w", err)
	}
	return checkpoints, nil
}

// PurgeRunsBefore removes terminal runs completed before the given time
// along with their checkpoints and events.
func (s *Store) PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("stepwise/postgres: purge runs: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	rows, err := tx.Query(ctx, `
		DELETE FROM stepwise_runs
		WHERE state IN ('completed', 'failed') AND completed_at < $1
		RETURNING key`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("stepwise/postgres: purge runs: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if scanErr := rows.Scan(&key); scanErr != nil {
			rows.Close()
			return 0, fmt.Errorf("stepwise/postgres: purge runs scan: %w", scanErr)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("stepwise/postgres: purge runs: %w", err)
	}

	if len(keys) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM stepwise_checkpoints WHERE run_key = ANY($1)`, keys); err != nil {
			return 0, fmt.Errorf("stepwise/postgres: purge checkpoints: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM stepwise_events WHERE workflow_key = ANY($1)`, keys); err != nil {
			return 0, fmt.Errorf("stepwise/postgres: purge events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("stepwise/postgres: purge runs: commit: %w", err)
	}
	return int64(len(keys)), nil
}

// scanRun scans a single run row.
func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		run        workflow.Run
		idStr      string
		state      string
		resultJSON []byte
	)
	err := row.Scan(
		&run.Key, &idStr, &run.Name, &run.Version, &state, &run.Input,
		&resultJSON, &run.Error, &run.OrgID, &run.ActorID,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("parse run id %q: %w", idStr, parseErr)
	}
	run.ID = parsed
	run.State = workflow.RunState(state)

	if len(resultJSON) > 0 {
		var res workflow.Result
		if unmarshalErr := json.Unmarshal(resultJSON, &res); unmarshalErr != nil {
			return nil, fmt.Errorf("unmarshal run result: %w", unmarshalErr)
		}
		run.Result = &res
	}
	return &run, nil
}

func marshalResult(res *workflow.Result) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("stepwise/postgres: marshal run result: %w", err)
	}
	return data, nil
}
