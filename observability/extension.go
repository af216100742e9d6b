package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stepwise-io/stepwise/ext"
	"github.com/stepwise-io/stepwise/workflow"
)

// meterName is the instrumentation scope name for the extension.
const meterName = "github.com/stepwise-io/stepwise/observability"

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted       = (*MetricsExtension)(nil)
	_ ext.WorkflowStepCompleted = (*MetricsExtension)(nil)
	_ ext.WorkflowStepFailed    = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted     = (*MetricsExtension)(nil)
	_ ext.WorkflowFailed        = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via the OTel
// metric API. Register it as a Stepwise extension to automatically
// track run starts, completions, failures, and per-step outcomes. With
// no MeterProvider configured globally, the instruments are noops.
type MetricsExtension struct {
	runsStarted    metric.Int64Counter
	runsCompleted  metric.Int64Counter
	runsFailed     metric.Int64Counter
	stepsCompleted metric.Int64Counter
	stepsFailed    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// OTel returns noop instruments on error, so the extension
	// degrades gracefully.
	started, _ := meter.Int64Counter("stepwise.runs.started",
		metric.WithDescription("Total workflow runs started"),
		metric.WithUnit("{run}"))
	completed, _ := meter.Int64Counter("stepwise.runs.completed",
		metric.WithDescription("Total workflow runs completed successfully"),
		metric.WithUnit("{run}"))
	failed, _ := meter.Int64Counter("stepwise.runs.failed",
		metric.WithDescription("Total workflow runs failed terminally"),
		metric.WithUnit("{run}"))
	stepsOK, _ := meter.Int64Counter("stepwise.steps.completed",
		metric.WithDescription("Total workflow steps completed"),
		metric.WithUnit("{step}"))
	stepsErr, _ := meter.Int64Counter("stepwise.steps.failed",
		metric.WithDescription("Total workflow steps failed"),
		metric.WithUnit("{step}"))

	return &MetricsExtension{
		runsStarted:    started,
		runsCompleted:  completed,
		runsFailed:     failed,
		stepsCompleted: stepsOK,
		stepsFailed:    stepsErr,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func workflowAttrs(run *workflow.Run) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("workflow", run.Name),
	)
}

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, run *workflow.Run) error {
	m.runsStarted.Add(ctx, 1, workflowAttrs(run))
	return nil
}

// OnWorkflowStepCompleted implements ext.WorkflowStepCompleted.
func (m *MetricsExtension) OnWorkflowStepCompleted(ctx context.Context, run *workflow.Run, stepName string, _ time.Duration) error {
	m.stepsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", run.Name),
		attribute.String("step", stepName),
	))
	return nil
}

// OnWorkflowStepFailed implements ext.WorkflowStepFailed.
func (m *MetricsExtension) OnWorkflowStepFailed(ctx context.Context, run *workflow.Run, stepName string, _ error) error {
	m.stepsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", run.Name),
		attribute.String("step", stepName),
	))
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(ctx context.Context, run *workflow.Run, _ time.Duration) error {
	m.runsCompleted.Add(ctx, 1, workflowAttrs(run))
	return nil
}

// OnWorkflowFailed implements ext.WorkflowFailed.
func (m *MetricsExtension) OnWorkflowFailed(ctx context.Context, run *workflow.Run, _ error) error {
	m.runsFailed.Add(ctx, 1, workflowAttrs(run))
	return nil
}
