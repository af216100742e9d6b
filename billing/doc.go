// Package billing is a domain module built on the workflow core. It
// manages estimates, invoices, violations, and proposals for one
// organization, moving them through their lifecycles with validated
// status transitions and durable workflows.
//
// The package doubles as the reference consumer of the core: every
// workflow here supplies the three things a domain module owes the
// machinery — a step function, a transition table for its entity type,
// and a Result envelope.
package billing
