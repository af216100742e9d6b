package billing

import (
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/transition"
)

// Estimate lifecycle statuses.
const (
	EstimateDraft    transition.Status = "DRAFT"
	EstimateSent     transition.Status = "SENT"
	EstimateRevised  transition.Status = "REVISED"
	EstimateAccepted transition.Status = "ACCEPTED"
	EstimateDeclined transition.Status = "DECLINED"
	EstimateExpired  transition.Status = "EXPIRED"
)

// Estimate is a priced offer to a customer. Amounts are integer cents.
type Estimate struct {
	stepwise.Entity

	ID         id.ID             `json:"id"`
	OrgID      string            `json:"org_id"`
	CustomerID string            `json:"customer_id"`
	Status     transition.Status `json:"status"`
	Amount     int64             `json:"amount"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	ValidUntil *time.Time        `json:"valid_until,omitempty"`
}

// NewEstimate creates a draft estimate.
func NewEstimate(orgID, customerID string, amount int64) *Estimate {
	return &Estimate{
		Entity:     stepwise.NewEntity(),
		ID:         id.NewEstimateID(),
		OrgID:      orgID,
		CustomerID: customerID,
		Status:     EstimateDraft,
		Amount:     amount,
	}
}

// Expired reports whether the estimate's validity window has passed.
func (e *Estimate) Expired(now time.Time) bool {
	return e.ValidUntil != nil && now.After(*e.ValidUntil)
}
