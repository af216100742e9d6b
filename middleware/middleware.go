// Package middleware provides composable middleware for workflow run
// execution. Middleware wraps the run body synchronously and can modify
// execution (recover from panics, inject tenant scope, log, add
// tracing, etc.). A composed Chain converts directly to a
// workflow.Interceptor.
package middleware

import (
	"context"

	"github.com/stepwise-io/stepwise/workflow"
)

// Handler is the terminal function that executes the run body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the run being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, run *workflow.Run, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, run *workflow.Run, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, run, prev)
			}
		}
		return h(ctx)
	}
}

// Interceptor converts a Middleware into the workflow.Interceptor the
// runner installs.
func Interceptor(mw Middleware) workflow.Interceptor {
	return func(ctx context.Context, run *workflow.Run, next func(ctx context.Context) error) error {
		return mw(ctx, run, next)
	}
}
