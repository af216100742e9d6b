// Package tenant defines the multi-tenant transaction scope for Stepwise.
//
// All mutation of tenant-scoped data happens inside Runner.InTenant,
// which binds a transaction to a single organization, commits on normal
// return, and rolls back on error or panic. The scope travels only in
// the derived context passed to the callback, so teardown on every exit
// path is structural rather than a try/finally convention: once the
// callback returns, no ambient tenant state remains.
package tenant

import "context"

// Scope identifies the tenant boundary and the actor for one transaction.
// ActorID and Reason are recorded for audit purposes alongside any writes
// made inside the transaction.
type Scope struct {
	// OrgID is the organization whose rows the transaction may see and
	// mutate. Required.
	OrgID string

	// ActorID identifies who requested the change. Required for writes.
	ActorID string

	// Reason is a short human-readable justification for the change.
	Reason string
}

// Valid reports whether the scope carries the minimum identity needed
// to open a tenant transaction.
func (s Scope) Valid() bool { return s.OrgID != "" }

// Runner opens tenant-bound transactions. Implemented by each store
// backend that holds relational tenant data.
type Runner interface {
	// InTenant executes fn inside a transaction confined to scope.OrgID.
	// The context passed to fn carries the scope and the backend
	// transaction handle; store write methods called with any other
	// context fail with stepwise.ErrNoTenantScope. The transaction
	// commits when fn returns nil and rolls back when fn returns an
	// error or panics (the panic is re-raised after rollback).
	InTenant(ctx context.Context, scope Scope, fn func(ctx context.Context) error) error
}

type scopeKey struct{}

// WithScope attaches a tenant scope to the context. Called by Runner
// implementations; domain code normally never needs it directly.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext extracts the tenant scope from the context.
// Returns false if no scope is present.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// Capture extracts the org and actor identifiers from the context.
// Returns empty strings if no scope is present. Used by the workflow
// runner to stamp runs with the scope they were started under.
func Capture(ctx context.Context) (orgID, actorID string) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", ""
	}
	return s.OrgID, s.ActorID
}

// Restore attaches a scope to the context using the given org and actor
// IDs. If both are empty, the context is returned unchanged (no-op).
// Used when resuming a persisted run.
func Restore(ctx context.Context, orgID, actorID string) context.Context {
	if orgID == "" && actorID == "" {
		return ctx
	}
	return WithScope(ctx, Scope{OrgID: orgID, ActorID: actorID})
}
