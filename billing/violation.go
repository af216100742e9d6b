package billing

import (
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/transition"
)

// Violation lifecycle statuses.
const (
	ViolationOpen             transition.Status = "OPEN"
	ViolationHearingScheduled transition.Status = "HEARING_SCHEDULED"
	ViolationDismissed        transition.Status = "DISMISSED"
	ViolationUpheld           transition.Status = "UPHELD"
)

// Hearing outcomes.
const (
	OutcomeDismissed = "DISMISSED"
	OutcomeUpheld    = "UPHELD"
)

// Violation is a recorded rule breach moving through an enforcement
// lifecycle, optionally resolved by a hearing.
type Violation struct {
	stepwise.Entity

	ID          id.ID             `json:"id"`
	OrgID       string            `json:"org_id"`
	SubjectID   string            `json:"subject_id"`
	Status      transition.Status `json:"status"`
	Description string            `json:"description"`
	HearingID   *id.ID            `json:"hearing_id,omitempty"`
}

// NewViolation creates an open violation.
func NewViolation(orgID, subjectID, description string) *Violation {
	return &Violation{
		Entity:      stepwise.NewEntity(),
		ID:          id.NewViolationID(),
		OrgID:       orgID,
		SubjectID:   subjectID,
		Status:      ViolationOpen,
		Description: description,
	}
}

// Hearing adjudicates one violation.
type Hearing struct {
	stepwise.Entity

	ID          id.ID      `json:"id"`
	OrgID       string     `json:"org_id"`
	ViolationID id.ID      `json:"violation_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Outcome     string     `json:"outcome,omitempty"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// NewHearing schedules a hearing for a violation.
func NewHearing(orgID string, violationID id.ID, scheduledAt time.Time) *Hearing {
	return &Hearing{
		Entity:      stepwise.NewEntity(),
		ID:          id.NewHearingID(),
		OrgID:       orgID,
		ViolationID: violationID,
		ScheduledAt: scheduledAt,
	}
}
