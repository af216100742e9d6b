// Package stepwise provides a durable, tenant-scoped workflow execution
// core for Go. It offers idempotent workflow invocation, checkpointed
// step execution, event-sourced progress reporting, and lifecycle
// state-transition validation.
//
// Stepwise is designed as a library, not a service. Import it, configure
// a store, and register workflows as ordinary Go functions. Domain
// modules supply three things: a workflow body built from checkpointed
// steps, a transition table for their entity lifecycle, and a result
// envelope describing the outcome.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New())
//	engine.RegisterWorkflow(eng, workflow.NewWorkflow("send-estimate", sendEstimate))
//
//	run, err := engine.StartWorkflow(ctx, eng, "send-estimate", "estimate-send-"+estimateID, input)
//
// # Architecture
//
// Stepwise follows a composable store pattern where each subsystem
// (workflow, event, transition) defines its own store interface and a
// single backend implements all of them. All mutation of tenant-scoped
// data flows through tenant.Runner, which binds a transaction to one
// organization and guarantees rollback and scope teardown on every
// exit path.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package stepwise
