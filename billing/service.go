package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/tenant"
	"github.com/stepwise-io/stepwise/transition"
	"github.com/stepwise-io/stepwise/workflow"
)

// Workflow names.
const (
	WorkflowSendEstimate         = "billing.send_estimate"
	WorkflowRecordInvoicePayment = "billing.record_invoice_payment"
	WorkflowRecordHearingOutcome = "billing.record_hearing_outcome"
	WorkflowCreateProposal       = "billing.create_proposal"
)

// Service owns the billing workflows. All entity mutation goes through
// tenant transactions opened on tx; status changes are checked against
// the validator and audited through records.
type Service struct {
	store     Store
	tx        tenant.Runner
	records   transition.RecordStore
	validator *transition.Validator
	logger    *slog.Logger
}

// NewService creates the billing service.
func NewService(
	store Store,
	tx tenant.Runner,
	records transition.RecordStore,
	validator *transition.Validator,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		tx:        tx,
		records:   records,
		validator: validator,
		logger:    logger,
	}
}

// RegisterWorkflows registers every billing workflow on the registry.
func RegisterWorkflows(reg *workflow.Registry, svc *Service) error {
	if err := workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowSendEstimate, svc.sendEstimate)); err != nil {
		return err
	}
	if err := workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowRecordInvoicePayment, svc.recordInvoicePayment)); err != nil {
		return err
	}
	if err := workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowRecordHearingOutcome, svc.recordHearingOutcome)); err != nil {
		return err
	}
	return workflow.RegisterDefinition(reg, workflow.NewWorkflow(WorkflowCreateProposal, svc.createProposal))
}

// ── Send estimate ──

// SendEstimateInput moves a draft or revised estimate to SENT with a
// validity window.
type SendEstimateInput struct {
	OrgID      string    `json:"org_id"`
	ActorID    string    `json:"actor_id"`
	EstimateID id.ID     `json:"estimate_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Reason     string    `json:"reason,omitempty"`
}

func (s *Service) sendEstimate(wf *workflow.Workflow, in SendEstimateInput) (workflow.Result, error) {
	if in.OrgID == "" || in.EstimateID.IsNil() {
		return workflow.Result{}, fmt.Errorf("billing: send estimate: org_id and estimate_id are required")
	}

	scope := tenant.Scope{OrgID: in.OrgID, ActorID: in.ActorID, Reason: "send estimate"}

	var sentAt, validUntil time.Time
	err := wf.Step("mark-estimate-sent", func(ctx context.Context) error {
		return s.tx.InTenant(ctx, scope, func(ctx context.Context) error {
			est, err := s.store.GetEstimate(ctx, in.EstimateID)
			if err != nil {
				return fmt.Errorf("get estimate %s: %w", in.EstimateID, err)
			}
			if err := s.validator.Validate(EntityEstimate, est.Status, EstimateSent, est); err != nil {
				return err
			}

			from := est.Status
			now := time.Now().UTC()
			expires := in.ExpiresAt
			est.Status = EstimateSent
			est.SentAt = &now
			est.ValidUntil = &expires
			est.Touch()
			sentAt, validUntil = now, expires

			if err := s.store.UpdateEstimate(ctx, est); err != nil {
				return fmt.Errorf("update estimate %s: %w", est.ID, err)
			}
			return s.records.AppendTransition(ctx, transition.NewRecord(
				in.OrgID, EntityEstimate, est.ID.String(), from, EstimateSent, in.ActorID, in.Reason))
		})
	})
	if err != nil {
		return workflow.Result{}, err
	}

	return workflow.OKWithFields(in.EstimateID.String(), map[string]any{
		"status":      string(EstimateSent),
		"sent_at":     sentAt.Format(time.RFC3339),
		"valid_until": validUntil.Format(time.RFC3339),
	}), nil
}

// ── Record invoice payment ──

// RecordInvoicePaymentInput applies a payment to an invoice and moves
// it to the requested target status (PARTIAL or PAID).
type RecordInvoicePaymentInput struct {
	OrgID     string            `json:"org_id"`
	ActorID   string            `json:"actor_id"`
	InvoiceID id.ID             `json:"invoice_id"`
	Amount    int64             `json:"amount"`
	Method    string            `json:"method,omitempty"`
	Target    transition.Status `json:"target"`
	Reason    string            `json:"reason,omitempty"`
}

type paymentSummary struct {
	PaymentID  string `json:"payment_id"`
	AmountPaid int64  `json:"amount_paid"`
	BalanceDue int64  `json:"balance_due"`
}

func (s *Service) recordInvoicePayment(wf *workflow.Workflow, in RecordInvoicePaymentInput) (workflow.Result, error) {
	if in.OrgID == "" || in.InvoiceID.IsNil() {
		return workflow.Result{}, fmt.Errorf("billing: record payment: org_id and invoice_id are required")
	}
	if in.Target != InvoicePartial && in.Target != InvoicePaid {
		return workflow.Result{}, fmt.Errorf("billing: record payment: target must be %s or %s, got %q",
			InvoicePartial, InvoicePaid, in.Target)
	}

	scope := tenant.Scope{OrgID: in.OrgID, ActorID: in.ActorID, Reason: "record invoice payment"}

	// One step, one transaction: the guard check, the payment row, the
	// invoice update, and the audit record commit or roll back together.
	summary, err := workflow.StepWithResult(wf, "apply-payment", func(ctx context.Context) (paymentSummary, error) {
		var out paymentSummary
		err := s.tx.InTenant(ctx, scope, func(ctx context.Context) error {
			inv, err := s.store.GetInvoice(ctx, in.InvoiceID)
			if err != nil {
				return fmt.Errorf("get invoice %s: %w", in.InvoiceID, err)
			}
			attempt := &PaymentAttempt{Invoice: inv, Amount: in.Amount}
			if err := s.validator.Validate(EntityInvoice, inv.Status, in.Target, attempt); err != nil {
				return err
			}

			payment := NewPayment(in.OrgID, inv.ID, in.Amount, in.Method)
			if err := s.store.CreatePayment(ctx, payment); err != nil {
				return fmt.Errorf("create payment: %w", err)
			}

			from := inv.Status
			inv.AmountPaid += in.Amount
			inv.Status = in.Target
			inv.Touch()
			if err := s.store.UpdateInvoice(ctx, inv); err != nil {
				return fmt.Errorf("update invoice %s: %w", inv.ID, err)
			}
			if err := s.records.AppendTransition(ctx, transition.NewRecord(
				in.OrgID, EntityInvoice, inv.ID.String(), from, in.Target, in.ActorID, in.Reason)); err != nil {
				return err
			}

			out = paymentSummary{
				PaymentID:  payment.ID.String(),
				AmountPaid: inv.AmountPaid,
				BalanceDue: inv.BalanceDue(),
			}
			return nil
		})
		return out, err
	})
	if err != nil {
		return workflow.Result{}, err
	}

	return workflow.OKWithFields(in.InvoiceID.String(), map[string]any{
		"status":      string(in.Target),
		"payment_id":  summary.PaymentID,
		"amount_paid": summary.AmountPaid,
		"balance_due": summary.BalanceDue,
	}), nil
}

// ── Record hearing outcome ──

// RecordHearingOutcomeInput records a hearing's decision and resolves
// the violation accordingly.
type RecordHearingOutcomeInput struct {
	OrgID       string `json:"org_id"`
	ActorID     string `json:"actor_id"`
	ViolationID id.ID  `json:"violation_id"`
	HearingID   id.ID  `json:"hearing_id"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Service) recordHearingOutcome(wf *workflow.Workflow, in RecordHearingOutcomeInput) (workflow.Result, error) {
	if in.OrgID == "" || in.ViolationID.IsNil() || in.HearingID.IsNil() {
		return workflow.Result{}, fmt.Errorf("billing: record hearing outcome: org_id, violation_id and hearing_id are required")
	}
	target, err := outcomeStatus(in.Outcome)
	if err != nil {
		return workflow.Result{}, err
	}

	scope := tenant.Scope{OrgID: in.OrgID, ActorID: in.ActorID, Reason: "record hearing outcome"}

	// Two steps, two transactions: a crash between them leaves the
	// hearing decided and the violation unresolved, and a Resume picks
	// up at the second step.
	err = wf.Step("record-outcome", func(ctx context.Context) error {
		return s.tx.InTenant(ctx, scope, func(ctx context.Context) error {
			hearing, err := s.store.GetHearing(ctx, in.HearingID)
			if err != nil {
				return fmt.Errorf("get hearing %s: %w", in.HearingID, err)
			}
			if hearing.ViolationID != in.ViolationID {
				return fmt.Errorf("billing: hearing %s is for violation %s, not %s",
					hearing.ID, hearing.ViolationID, in.ViolationID)
			}
			now := time.Now().UTC()
			hearing.Outcome = in.Outcome
			hearing.DecidedAt = &now
			hearing.Touch()
			return s.store.UpdateHearing(ctx, hearing)
		})
	})
	if err != nil {
		return workflow.Result{}, err
	}

	err = wf.Step("resolve-violation", func(ctx context.Context) error {
		return s.tx.InTenant(ctx, scope, func(ctx context.Context) error {
			v, err := s.store.GetViolation(ctx, in.ViolationID)
			if err != nil {
				return fmt.Errorf("get violation %s: %w", in.ViolationID, err)
			}
			if err := s.validator.Validate(EntityViolation, v.Status, target, v); err != nil {
				return err
			}

			from := v.Status
			v.Status = target
			v.Touch()
			if err := s.store.UpdateViolation(ctx, v); err != nil {
				return fmt.Errorf("update violation %s: %w", v.ID, err)
			}
			return s.records.AppendTransition(ctx, transition.NewRecord(
				in.OrgID, EntityViolation, v.ID.String(), from, target, in.ActorID, in.Reason))
		})
	})
	if err != nil {
		return workflow.Result{}, err
	}

	return workflow.OKWithFields(in.ViolationID.String(), map[string]any{
		"status":     string(target),
		"hearing_id": in.HearingID.String(),
		"outcome":    in.Outcome,
	}), nil
}

func outcomeStatus(outcome string) (transition.Status, error) {
	switch outcome {
	case OutcomeDismissed:
		return ViolationDismissed, nil
	case OutcomeUpheld:
		return ViolationUpheld, nil
	default:
		return "", fmt.Errorf("billing: unknown hearing outcome %q", outcome)
	}
}

// ── Create proposal ──

// CreateProposalInput submits a new proposal. Duplicate submissions of
// the same logical proposal are deduplicated by the workflow
// idempotency key, not by this input.
type CreateProposalInput struct {
	OrgID   string `json:"org_id"`
	ActorID string `json:"actor_id"`
	Title   string `json:"title"`
	Body    string `json:"body,omitempty"`
}

func (s *Service) createProposal(wf *workflow.Workflow, in CreateProposalInput) (workflow.Result, error) {
	if in.OrgID == "" || in.Title == "" {
		return workflow.Result{}, fmt.Errorf("billing: create proposal: org_id and title are required")
	}

	scope := tenant.Scope{OrgID: in.OrgID, ActorID: in.ActorID, Reason: "create proposal"}

	proposalID, err := workflow.StepWithResult(wf, "create-proposal", func(ctx context.Context) (string, error) {
		p := NewProposal(in.OrgID, in.Title, in.Body)
		err := s.tx.InTenant(ctx, scope, func(ctx context.Context) error {
			return s.store.CreateProposal(ctx, p)
		})
		if err != nil {
			return "", err
		}
		return p.ID.String(), nil
	})
	if err != nil {
		return workflow.Result{}, err
	}

	return workflow.OK(proposalID), nil
}
