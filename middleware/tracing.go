package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepwise-io/stepwise/workflow"
)

// tracerName is the instrumentation scope name for stepwise tracing.
const tracerName = "github.com/stepwise-io/stepwise"

// Tracing returns middleware that wraps run execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: stepwise.run.key, stepwise.workflow.name,
// stepwise.workflow.version, stepwise.org_id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, run *workflow.Run, next Handler) error {
		ctx, span := tracer.Start(ctx, "stepwise.run.execute",
			trace.WithAttributes(
				attribute.String("stepwise.run.key", run.Key),
				attribute.String("stepwise.workflow.name", run.Name),
				attribute.Int("stepwise.workflow.version", run.Version),
				attribute.String("stepwise.org_id", run.OrgID),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
