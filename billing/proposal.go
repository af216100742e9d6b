package billing

import (
	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/transition"
)

// Proposal statuses. Proposals are create-only: submitted once, no
// lifecycle machine beyond that.
const (
	ProposalSubmitted transition.Status = "SUBMITTED"
)

// Proposal is a submitted plan of work awaiting review.
type Proposal struct {
	stepwise.Entity

	ID     id.ID             `json:"id"`
	OrgID  string            `json:"org_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Status transition.Status `json:"status"`
}

// NewProposal creates a submitted proposal.
func NewProposal(orgID, title, body string) *Proposal {
	return &Proposal{
		Entity: stepwise.NewEntity(),
		ID:     id.NewProposalID(),
		OrgID:  orgID,
		Title:  title,
		Body:   body,
		Status: ProposalSubmitted,
	}
}
