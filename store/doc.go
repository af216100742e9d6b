// Package store defines the composite persistence interface for
// Stepwise and is implemented by the backend sub-packages:
//
//   - store/memory: in-memory, for tests and development. Checkpoints
//     do not survive a process restart.
//   - store/postgres: PostgreSQL via pgx, the durable production
//     backend. Runs, checkpoints, events, and domain entities all
//     survive restarts, and tenant transactions ride real database
//     transactions.
//   - store/redis: Redis, a durable low-latency backend for the
//     workflow and event subsystems only (no relational tenant data).
//
// Each subsystem consumes only its own slice of the interface
// (workflow.Store, event.Store, transition.RecordStore, billing.Store,
// tenant.Runner); Store exists so one backend value can be handed to
// the engine and shared by all of them.
package store
