package workflow

// Result is the uniform envelope every workflow body returns. Business
// failures are expressed as Success=false with a human-readable Error,
// not as Go errors escaping the runner boundary.
type Result struct {
	Success bool `json:"success"`

	// EntityID identifies the primary domain entity the workflow
	// created or mutated, when there is one.
	EntityID string `json:"entity_id,omitempty"`

	// Error carries the failure reason when Success is false.
	Error string `json:"error,omitempty"`

	// Fields holds workflow-specific result data.
	Fields map[string]any `json:"fields,omitempty"`
}

// OK returns a success envelope for the given entity.
func OK(entityID string) Result {
	return Result{Success: true, EntityID: entityID}
}

// OKWithFields returns a success envelope carrying extra result data.
func OKWithFields(entityID string, fields map[string]any) Result {
	return Result{Success: true, EntityID: entityID, Fields: fields}
}

// Fail returns a failure envelope with the given reason.
func Fail(reason string) Result {
	return Result{Success: false, Error: reason}
}

// FailErr returns a failure envelope carrying err's message.
func FailErr(err error) Result {
	if err == nil {
		return Result{Success: false}
	}
	return Result{Success: false, Error: err.Error()}
}
