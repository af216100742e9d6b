package middleware

import (
	"context"

	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/workflow"
)

// Scope returns middleware that restores the tenant scope from the
// run's OrgID/ActorID fields into the context. This ensures resumed
// runs see the same tenant scope as the original Start caller.
func Scope() Middleware {
	return func(ctx context.Context, run *workflow.Run, next Handler) error {
		ctx = tenant.Restore(ctx, run.OrgID, run.ActorID)
		return next(ctx)
	}
}
