package billing

import (
	"fmt"
	"time"

	"github.com/stepwise-io/stepwise/transition"
)

// Entity types registered with the transition validator.
const (
	EntityEstimate  transition.EntityType = "estimate"
	EntityInvoice   transition.EntityType = "invoice"
	EntityViolation transition.EntityType = "violation"
)

// EstimateTransitions is the estimate lifecycle. ACCEPTED, DECLINED
// and EXPIRED are terminal.
func EstimateTransitions() transition.Table {
	return transition.Table{
		EstimateDraft:   {EstimateSent, EstimateRevised},
		EstimateSent:    {EstimateAccepted, EstimateDeclined, EstimateRevised, EstimateExpired},
		EstimateRevised: {EstimateSent},
	}
}

// InvoiceTransitions is the invoice lifecycle. VOID and REFUNDED are
// terminal.
func InvoiceTransitions() transition.Table {
	return transition.Table{
		InvoiceDraft:   {InvoiceSent, InvoiceVoid},
		InvoiceSent:    {InvoicePartial, InvoicePaid, InvoiceVoid},
		InvoicePartial: {InvoicePaid, InvoiceVoid},
		InvoicePaid:    {InvoiceRefunded},
	}
}

// ViolationTransitions is the violation lifecycle. DISMISSED and
// UPHELD are terminal.
func ViolationTransitions() transition.Table {
	return transition.Table{
		ViolationOpen:             {ViolationHearingScheduled, ViolationDismissed},
		ViolationHearingScheduled: {ViolationDismissed, ViolationUpheld},
	}
}

// EstimateGuard rejects moves other than EXPIRED or DECLINED once the
// estimate's validity window has passed, even where the table would
// otherwise allow them. subject is the *Estimate.
func EstimateGuard(now func() time.Time) transition.Guard {
	return func(cur, target transition.Status, subject any) error {
		est, ok := subject.(*Estimate)
		if !ok {
			return fmt.Errorf("billing: estimate guard: unexpected subject %T", subject)
		}
		if est.Expired(now()) && target != EstimateExpired && target != EstimateDeclined {
			return fmt.Errorf("billing: estimate %s expired at %s, only EXPIRED or DECLINED allowed",
				est.ID, est.ValidUntil.Format(time.RFC3339))
		}
		return nil
	}
}

// InvoiceGuard enforces the payment rules: moving to PARTIAL or PAID
// requires a positive payment amount, and PAID additionally requires
// the payment to cover the full balance due. subject is a
// *PaymentAttempt.
func InvoiceGuard() transition.Guard {
	return func(cur, target transition.Status, subject any) error {
		if target != InvoicePartial && target != InvoicePaid {
			return nil
		}
		attempt, ok := subject.(*PaymentAttempt)
		if !ok {
			return fmt.Errorf("billing: invoice guard: unexpected subject %T", subject)
		}
		if attempt.Amount <= 0 {
			return fmt.Errorf("billing: payment amount must be positive, got %d", attempt.Amount)
		}
		if target == InvoicePaid && attempt.Amount < attempt.Invoice.BalanceDue() {
			return fmt.Errorf("billing: payment %d does not cover balance due %d on invoice %s",
				attempt.Amount, attempt.Invoice.BalanceDue(), attempt.Invoice.ID)
		}
		return nil
	}
}

// NewValidator builds a transition validator with every billing table
// and guard registered. now is injectable for the expiry guard; pass
// time.Now outside tests.
func NewValidator(now func() time.Time) (*transition.Validator, error) {
	if now == nil {
		now = time.Now
	}

	v := transition.NewValidator()
	for et, table := range map[transition.EntityType]transition.Table{
		EntityEstimate:  EstimateTransitions(),
		EntityInvoice:   InvoiceTransitions(),
		EntityViolation: ViolationTransitions(),
	} {
		if err := v.RegisterTable(et, table); err != nil {
			return nil, err
		}
	}
	if err := v.RegisterGuard(EntityEstimate, EstimateGuard(now)); err != nil {
		return nil, err
	}
	if err := v.RegisterGuard(EntityInvoice, InvoiceGuard()); err != nil {
		return nil, err
	}
	return v, nil
}
