package store

import (
	"context"

	"github.com/stepwise-io/stepwise/billing"
	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/transition"
	"github.com/stepwise-io/stepwise/workflow"
)

// Store is the full persistence surface a backend provides.
type Store interface {
	workflow.Store
	event.Store
	transition.RecordStore
	billing.Store
	tenant.Runner

	// Migrate applies any pending schema migrations. No-op for
	// backends without schemas.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// WorkflowStore is the subset needed to run workflows without the
// relational domain surface (the redis backend implements this, not
// the full Store).
type WorkflowStore interface {
	workflow.Store
	event.Store

	Ping(ctx context.Context) error
	Close() error
}
