// Package observability provides an OpenTelemetry-based metrics
// extension for Stepwise. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for workflow starts, step
// completions, step failures, run completions, and run failures.
//
// For per-execution tracing and histograms, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
