// Package engine wires all Stepwise subsystems together: the extension
// registry, workflow registry and runner, middleware chain, event
// stream, transition validator, and error reporter — all backed by one
// store.
//
// This package exists to break import cycles: the root stepwise package
// defines Entity and the sentinel errors (imported by workflow, event,
// etc.) and so cannot import those packages back. The engine package
// sits above all subsystem packages and below the application layer.
package engine
