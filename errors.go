package stepwise

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("stepwise: no store configured")
	ErrStoreClosed = errors.New("stepwise: store closed")

	// Not found errors.
	ErrRunNotFound      = errors.New("stepwise: workflow run not found")
	ErrEntityNotFound   = errors.New("stepwise: entity not found")
	ErrWorkflowNotFound = errors.New("stepwise: workflow not registered")

	// Conflict errors.
	ErrRunExists         = errors.New("stepwise: run already exists for idempotency key")
	ErrRunInFlight       = errors.New("stepwise: run is still in flight for idempotency key")
	ErrDuplicateWorkflow = errors.New("stepwise: workflow already registered")
	ErrEntityExists      = errors.New("stepwise: entity already exists")

	// Tenant errors.
	ErrNoTenantScope = errors.New("stepwise: operation requires a tenant transaction scope")

	// State errors.
	ErrInvalidTransition = errors.New("stepwise: invalid state transition")
)
