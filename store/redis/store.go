// Package redis implements store.WorkflowStore using Redis: runs are
// stored as single JSON values written with SET NX so readers never see
// a partial run, checkpoints as Hashes, event streams as Sorted Sets
// scored by sequence number, with INCR counters assigning sequences.
//
// Redis carries the workflow surface only. It has no relational tenant
// data, so the billing entities and transition audit trail stay on a
// store.Store backend (postgres); use this backend when workflow
// throughput matters more than the domain surface, or split the two
// across backends.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/stepwise-io/stepwise/store"
)

// Compile-time interface check.
var _ store.WorkflowStore = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.WorkflowStore backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
