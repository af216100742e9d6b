package middleware

import (
	"context"
	"time"

	"github.com/stepwise-io/stepwise/workflow"
)

// Timeout returns middleware that enforces an execution deadline on
// every run. When the deadline is exceeded the context is cancelled and
// step bodies should return context.DeadlineExceeded. A zero duration
// disables the deadline.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, run *workflow.Run, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
