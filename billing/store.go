package billing

import (
	"context"

	"github.com/stepwise-io/stepwise/id"
)

// Store persists billing entities. Every method requires an active
// tenant transaction on the context (see tenant.Runner); calls outside
// one fail with stepwise.ErrNoTenantScope, and all reads and writes are
// confined to the transaction's organization.
type Store interface {
	CreateEstimate(ctx context.Context, est *Estimate) error
	GetEstimate(ctx context.Context, estimateID id.ID) (*Estimate, error)
	UpdateEstimate(ctx context.Context, est *Estimate) error

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invoiceID id.ID) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	CreatePayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, invoiceID id.ID) ([]*Payment, error)

	CreateViolation(ctx context.Context, v *Violation) error
	GetViolation(ctx context.Context, violationID id.ID) (*Violation, error)
	UpdateViolation(ctx context.Context, v *Violation) error
	CreateHearing(ctx context.Context, h *Hearing) error
	GetHearing(ctx context.Context, hearingID id.ID) (*Hearing, error)
	UpdateHearing(ctx context.Context, h *Hearing) error

	CreateProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, proposalID id.ID) (*Proposal, error)
	ListProposals(ctx context.Context) ([]*Proposal, error)
}
