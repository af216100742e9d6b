package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/event"
	"github.com/stepwise-io/stepwise/ext"
	mw "github.com/stepwise-io/stepwise/middleware"
	"github.com/stepwise-io/stepwise/observability"
	"github.com/stepwise-io/stepwise/report"
	"github.com/stepwise-io/stepwise/store"
	"github.com/stepwise-io/stepwise/transition"
	"github.com/stepwise-io/stepwise/workflow"
)

// instrumentationName is the scope handed to custom OTel providers.
const instrumentationName = "github.com/stepwise-io/stepwise"

// extRunEmitter adapts *ext.Registry to satisfy workflow.RunEmitter.
// This breaks the import cycle: workflow defines the interface,
// ext.Registry provides the implementation, and the engine layer
// plugs them together.
type extRunEmitter struct {
	r *ext.Registry
}

func (a *extRunEmitter) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	a.r.EmitWorkflowStepCompleted(ctx, run, stepName, elapsed)
}

func (a *extRunEmitter) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, err error) {
	a.r.EmitWorkflowStepFailed(ctx, run, stepName, err)
}

func (a *extRunEmitter) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	a.r.EmitWorkflowStarted(ctx, run)
}

func (a *extRunEmitter) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	a.r.EmitWorkflowCompleted(ctx, run, elapsed)
}

func (a *extRunEmitter) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, err error) {
	a.r.EmitWorkflowFailed(ctx, run, err)
}

// Engine assembles the workflow subsystems over one store.
// Use New() to create one.
type Engine struct {
	st         store.Store
	cfg        stepwise.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *workflow.Registry
	runner     *workflow.Runner
	events     *event.Stream
	validator  *transition.Validator
	reporter   *report.Reporter
	mws        []mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithConfig sets the engine configuration. Defaults to
// stepwise.DefaultConfig().
func WithConfig(cfg stepwise.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware to the engine's chain, inside the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithValidator sets the transition validator exposed to domain
// modules through Validator(). The engine itself does not consult it;
// workflow bodies do.
func WithValidator(v *transition.Validator) Option {
	return func(eng *Engine) { eng.validator = v }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine over the given store.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, stepwise.ErrNoStore
	}

	eng := &Engine{
		st:        st,
		cfg:       stepwise.DefaultConfig(),
		logger:    slog.Default(),
		registry:  workflow.NewRegistry(),
		validator: transition.NewValidator(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)

	for _, opt := range opts {
		opt(eng)
	}

	// Create the workflow subsystem.
	emitter := &extRunEmitter{r: eng.extensions}
	eng.events = event.NewStream(st)
	eng.reporter = report.NewReporter(eng.events, eng.logger)
	eng.runner = workflow.NewRunner(eng.registry, st, st, emitter, eng.reporter, eng.logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → scope.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Scope(),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.runner.SetInterceptor(mw.Interceptor(mw.Chain(allMws...)))

	return eng, nil
}

// Start verifies the store, applies migrations, and — when
// Config.ResumeOnStart is set — resumes any workflow runs left
// non-terminal by a previous process (crash recovery).
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.st.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	if err := eng.st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	if eng.cfg.ResumeOnStart {
		// Best-effort, non-fatal.
		if resumeErr := eng.runner.ResumeAll(ctx, eng.cfg.ResumeConcurrency); resumeErr != nil {
			eng.logger.Warn("failed to resume workflow runs",
				slog.String("error", resumeErr.Error()),
			)
		}
	}

	return nil
}

// Stop gracefully shuts down the engine: extension shutdown hooks fire
// under Config.ShutdownTimeout, then the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	eng.extensions.EmitShutdown(ctx)
	return eng.st.Close()
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the workflow registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Events returns the event stream.
func (eng *Engine) Events() *event.Stream { return eng.events }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.st }

// Validator returns the transition validator domain modules register
// their tables and guards on.
func (eng *Engine) Validator() *transition.Validator { return eng.validator }

// Status returns the newest status event payload for a run key, or nil.
func (eng *Engine) Status(ctx context.Context, key string) (map[string]any, error) {
	return eng.runner.Status(ctx, key)
}

// LastError returns the newest error event payload for a run key, or nil.
func (eng *Engine) LastError(ctx context.Context, key string) (map[string]any, error) {
	return eng.runner.LastError(ctx, key)
}

// PurgeRunsBefore removes terminal runs (and their checkpoints and
// events) completed before the given time. Retention is operator
// driven; nothing is purged automatically.
func (eng *Engine) PurgeRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	return eng.st.PurgeRunsBefore(ctx, before)
}

// RegisterWorkflow registers a typed workflow definition with the engine.
func RegisterWorkflow[T any](eng *Engine, def *workflow.Definition[T]) error {
	return workflow.RegisterDefinition(eng.registry, def)
}

// StartWorkflow starts a workflow run with a typed input under the
// given idempotency key.
func StartWorkflow[T any](ctx context.Context, eng *Engine, name, key string, input T) (*workflow.Run, error) {
	return workflow.Start(ctx, eng.runner, name, key, input)
}
