package transition

import (
	"context"
	"time"

	"github.com/stepwise-io/stepwise/id"
)

// Record is the append-only audit trail entry written for every
// successful domain-level status change. Records are owned by the
// domain entity, not by any workflow run, and are never updated or
// deleted.
type Record struct {
	ID         id.TransitionID `json:"id"`
	OrgID      string          `json:"org_id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	From       Status          `json:"from"`
	To         Status          `json:"to"`
	ChangedBy  string          `json:"changed_by"`
	ChangedAt  time.Time       `json:"changed_at"`
	Notes      string          `json:"notes,omitempty"`
}

// NewRecord builds a Record for one status change. ChangedAt is stamped
// with the current UTC time.
func NewRecord(orgID string, et EntityType, entityID string, from, to Status, changedBy, notes string) *Record {
	return &Record{
		ID:         id.NewTransitionID(),
		OrgID:      orgID,
		EntityType: et,
		EntityID:   entityID,
		From:       from,
		To:         to,
		ChangedBy:  changedBy,
		ChangedAt:  time.Now().UTC(),
		Notes:      notes,
	}
}

// RecordStore persists transition records. AppendTransition must be
// called inside the same tenant transaction as the status change it
// describes, so the audit row commits or rolls back with the write.
type RecordStore interface {
	// AppendTransition persists a new transition record.
	AppendTransition(ctx context.Context, rec *Record) error

	// ListTransitions returns the records for one entity in the order
	// the transitions were applied.
	ListTransitions(ctx context.Context, et EntityType, entityID string) ([]*Record, error)
}
