// Package transition provides generic lifecycle state-machine validation
// for Stepwise entities.
//
// Each entity type declares a static Table mapping its current status to
// the set of statuses reachable in one step; terminal statuses map to the
// empty set. A Validator holds the tables for all entity types plus
// optional per-entity guards for rules that depend on auxiliary state
// beyond the status itself (an expired estimate, an underpaid invoice).
//
// Validation is pure: no I/O, no side effects. Callers are expected to
// validate before opening any transaction so illegal requests fail fast.
package transition

import (
	"fmt"
	"sync"

	"github.com/stepwise-io/stepwise"
)

// EntityType names the kind of entity a table governs ("estimate",
// "invoice", ...).
type EntityType string

// Status is one lifecycle state of an entity.
type Status string

// Table maps each status of one entity type to the set of statuses it
// may legally move to. Statuses absent from the table, and statuses
// mapping to an empty set, are terminal.
type Table map[Status][]Status

// Allows reports whether the table permits moving from cur to target.
func (t Table) Allows(cur, target Status) bool {
	for _, s := range t[cur] {
		if s == target {
			return true
		}
	}
	return false
}

// Guard is an entity-specific check invoked after the table lookup
// accepts a transition. subject is the entity being transitioned (or
// whatever auxiliary state the guard needs); guards must not perform
// I/O. A non-nil return rejects the transition.
type Guard func(cur, target Status, subject any) error

// InvalidTransitionError reports a transition the table does not permit.
type InvalidTransitionError struct {
	EntityType EntityType
	From       Status
	To         Status
}

// Error returns a deterministic, human-readable message naming both
// statuses.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Is lets errors.Is match against the stepwise.ErrInvalidTransition
// sentinel without losing the typed detail.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == stepwise.ErrInvalidTransition
}

// Validator holds the transition tables and guards for every entity
// type. Tables are registered at process start and read-only afterwards;
// Validate is safe for concurrent use.
type Validator struct {
	mu     sync.RWMutex
	tables map[EntityType]Table
	guards map[EntityType]Guard
}

// NewValidator creates an empty Validator.
func NewValidator() *Validator {
	return &Validator{
		tables: make(map[EntityType]Table),
		guards: make(map[EntityType]Guard),
	}
}

// RegisterTable associates a transition table with an entity type.
// Registering the same entity type twice is a configuration error.
func (v *Validator) RegisterTable(et EntityType, t Table) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.tables[et]; exists {
		return fmt.Errorf("transition: table for %q already registered", et)
	}
	v.tables[et] = t
	return nil
}

// RegisterGuard attaches an entity-specific guard invoked after the
// table lookup. At most one guard per entity type.
func (v *Validator) RegisterGuard(et EntityType, g Guard) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.guards[et]; exists {
		return fmt.Errorf("transition: guard for %q already registered", et)
	}
	v.guards[et] = g
	return nil
}

// Validate checks that moving the entity from cur to target is legal.
// It first consults the entity type's table, then the optional guard
// with the given subject. A nil return accepts the transition.
func (v *Validator) Validate(et EntityType, cur, target Status, subject any) error {
	v.mu.RLock()
	table, ok := v.tables[et]
	guard := v.guards[et]
	v.mu.RUnlock()

	if !ok {
		return fmt.Errorf("transition: no table registered for entity type %q", et)
	}
	if !table.Allows(cur, target) {
		return &InvalidTransitionError{EntityType: et, From: cur, To: target}
	}
	if guard != nil {
		if err := guard(cur, target, subject); err != nil {
			return err
		}
	}
	return nil
}

// Reachable returns the set of statuses the entity may move to from cur
// according to the table alone (guards are not consulted). Returns nil
// for terminal statuses and unknown entity types.
func (v *Validator) Reachable(et EntityType, cur Status) []Status {
	v.mu.RLock()
	defer v.mu.RUnlock()

	table, ok := v.tables[et]
	if !ok {
		return nil
	}
	out := make([]Status, len(table[cur]))
	copy(out, table[cur])
	if len(out) == 0 {
		return nil
	}
	return out
}
