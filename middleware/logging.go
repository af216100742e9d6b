package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/stepwise-io/stepwise/workflow"
)

// Logging returns middleware that logs run start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, run *workflow.Run, next Handler) error {
		logger.Info("workflow run started",
			slog.String("workflow", run.Name),
			slog.String("run_key", run.Key),
			slog.Int("version", run.Version),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("workflow run failed",
				slog.String("workflow", run.Name),
				slog.String("run_key", run.Key),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("workflow run completed",
				slog.String("workflow", run.Name),
				slog.String("run_key", run.Key),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
