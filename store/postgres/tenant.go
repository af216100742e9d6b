package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/transition"
)

// txKey carries the open pgx transaction through the context handed to
// the InTenant callback.
type txKey struct{}

type tenantTx struct {
	tx    pgx.Tx
	scope tenant.Scope
}

// InTenant executes fn inside a database transaction confined to
// scope.OrgID. The transaction commits when fn returns nil and rolls
// back on error or panic; the panic is re-raised after rollback.
func (s *Store) InTenant(ctx context.Context, scope tenant.Scope, fn func(ctx context.Context) error) (err error) {
	if !scope.Valid() {
		return stepwise.ErrNoTenantScope
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: begin tenant tx: %w", err)
	}

	// Pin the organization on the session for the duration of the
	// transaction; useful for audit triggers and row-level security.
	if _, err := tx.Exec(ctx,
		`SELECT set_config('stepwise.org_id', $1, true), set_config('stepwise.actor_id', $2, true)`,
		scope.OrgID, scope.ActorID,
	); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("stepwise/postgres: set tenant scope: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	txCtx := context.WithValue(tenant.WithScope(ctx, scope), txKey{}, &tenantTx{tx: tx, scope: scope})
	if err = fn(txCtx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("stepwise/postgres: commit tenant tx: %w", err)
	}
	return nil
}

// txFrom extracts the active tenant transaction from the context.
// Billing and transition writes are only legal inside one.
func txFrom(ctx context.Context) (*tenantTx, error) {
	t, ok := ctx.Value(txKey{}).(*tenantTx)
	if !ok {
		return nil, stepwise.ErrNoTenantScope
	}
	return t, nil
}

// AppendTransition writes one audit record inside the active tenant
// transaction.
func (s *Store) AppendTransition(ctx context.Context, rec *transition.Record) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_transitions (
			id, org_id, entity_type, entity_id, from_status, to_status,
			changed_by, changed_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID.String(), t.scope.OrgID, string(rec.EntityType), rec.EntityID,
		string(rec.From), string(rec.To), rec.ChangedBy, rec.ChangedAt, rec.Notes,
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: append transition: %w", err)
	}
	return nil
}

// ListTransitions returns the audit trail for one entity in the order
// the changes happened, confined to the transaction's organization.
func (s *Store) ListTransitions(ctx context.Context, et transition.EntityType, entityID string) ([]*transition.Record, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, org_id, entity_type, entity_id, from_status, to_status,
		       changed_by, changed_at, notes
		FROM stepwise_transitions
		WHERE org_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY changed_at ASC`,
		t.scope.OrgID, string(et), entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list transitions: %w", err)
	}
	defer rows.Close()

	var records []*transition.Record
	for rows.Next() {
		var (
			rec        transition.Record
			idStr      string
			entityType string
			from, to   string
		)
		if scanErr := rows.Scan(&idStr, &rec.OrgID, &entityType, &rec.EntityID,
			&from, &to, &rec.ChangedBy, &rec.ChangedAt, &rec.Notes); scanErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: list transitions scan: %w", scanErr)
		}
		parsed, parseErr := id.ParseTransitionID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: parse transition id %q: %w", idStr, parseErr)
		}
		rec.ID = parsed
		rec.EntityType = transition.EntityType(entityType)
		rec.From = transition.Status(from)
		rec.To = transition.Status(to)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list transitions: %w", err)
	}
	return records, nil
}
