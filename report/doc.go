// Package report records failed workflow runs to the error event
// stream, structured logs, and OpenTelemetry tracing. It sits at the
// outermost boundary of run execution: the runner calls it exactly once
// per failed run, and it never returns an error back.
package report
