package report

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/workflow"
)

const tracerName = "github.com/stepwise-io/stepwise/report"

// Reporter implements workflow.Reporter. Every failure is appended to
// the run's error event stream, logged, and recorded on the active
// trace span (when one exists). All best-effort: a reporter that
// cannot write an event logs the problem and moves on.
type Reporter struct {
	events *event.Stream
	logger *slog.Logger
	tracer trace.Tracer
}

// NewReporter creates a reporter writing to the given event stream.
func NewReporter(events *event.Stream, logger *slog.Logger) *Reporter {
	return &Reporter{
		events: events,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// NewReporterWithTracer creates a reporter using an explicit tracer
// instead of the global provider. Used in tests.
func NewReporterWithTracer(events *event.Stream, logger *slog.Logger, tracer trace.Tracer) *Reporter {
	return &Reporter{events: events, logger: logger, tracer: tracer}
}

// ReportRunFailure records the failure of a workflow run. Never
// returns; never panics.
func (r *Reporter) ReportRunFailure(ctx context.Context, run *workflow.Run, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic while reporting run failure",
				slog.String("run_key", run.Key),
				slog.Any("panic", p),
			)
		}
	}()

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		// Failure paths outside an instrumented run still get a span.
		ctx, span = r.tracer.Start(ctx, "stepwise.run.report_failure")
		defer span.End()
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String("workflow.name", run.Name),
		attribute.String("workflow.run_key", run.Key),
		attribute.String("workflow.org_id", run.OrgID),
	)

	r.logger.Error("workflow run failed",
		slog.String("run_key", run.Key),
		slog.String("workflow", run.Name),
		slog.String("org_id", run.OrgID),
		slog.String("error", err.Error()),
	)

	if _, pubErr := r.events.Publish(ctx, run.Key, event.TopicError, map[string]any{
		"error":    err.Error(),
		"workflow": run.Name,
		"state":    string(run.State),
	}); pubErr != nil {
		r.logger.Warn("failed to publish error event",
			slog.String("run_key", run.Key),
			slog.String("error", pubErr.Error()),
		)
	}
}
