package postgres

import (
	"context"
	"fmt"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/billing"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/transition"
)

// All billing access runs on the tenant transaction and is confined to
// its organization: a row owned by another org scans exactly like a
// missing row.

// ── Estimates ──

func (s *Store) CreateEstimate(ctx context.Context, est *billing.Estimate) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_estimates (
			id, org_id, customer_id, status, amount, sent_at, valid_until,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		est.ID.String(), t.scope.OrgID, est.CustomerID, string(est.Status),
		est.Amount, est.SentAt, est.ValidUntil, est.CreatedAt, est.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrEntityExists
		}
		return fmt.Errorf("stepwise/postgres: create estimate: %w", err)
	}
	return nil
}

func (s *Store) GetEstimate(ctx context.Context, estimateID id.ID) (*billing.Estimate, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var (
		est    billing.Estimate
		idStr  string
		status string
	)
	err = t.tx.QueryRow(ctx, `
		SELECT id, org_id, customer_id, status, amount, sent_at, valid_until,
		       created_at, updated_at
		FROM stepwise_estimates
		WHERE id = $1 AND org_id = $2`,
		estimateID.String(), t.scope.OrgID,
	).Scan(&idStr, &est.OrgID, &est.CustomerID, &status, &est.Amount,
		&est.SentAt, &est.ValidUntil, &est.CreatedAt, &est.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, stepwise.ErrEntityNotFound
		}
		return nil, fmt.Errorf("stepwise/postgres: get estimate: %w", err)
	}

	parsed, parseErr := id.ParseEstimateID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse estimate id %q: %w", idStr, parseErr)
	}
	est.ID = parsed
	est.Status = transition.Status(status)
	return &est, nil
}

func (s *Store) UpdateEstimate(ctx context.Context, est *billing.Estimate) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE stepwise_estimates
		SET status = $3, amount = $4, sent_at = $5, valid_until = $6, updated_at = $7
		WHERE id = $1 AND org_id = $2`,
		est.ID.String(), t.scope.OrgID, string(est.Status), est.Amount,
		est.SentAt, est.ValidUntil, est.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: update estimate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepwise.ErrEntityNotFound
	}
	return nil
}

// ── Invoices and payments ──

func (s *Store) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_invoices (
			id, org_id, customer_id, status, total_amount, amount_paid,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inv.ID.String(), t.scope.OrgID, inv.CustomerID, string(inv.Status),
		inv.TotalAmount, inv.AmountPaid, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrEntityExists
		}
		return fmt.Errorf("stepwise/postgres: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID id.ID) (*billing.Invoice, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var (
		inv    billing.Invoice
		idStr  string
		status string
	)
	err = t.tx.QueryRow(ctx, `
		SELECT id, org_id, customer_id, status, total_amount, amount_paid,
		       created_at, updated_at
		FROM stepwise_invoices
		WHERE id = $1 AND org_id = $2`,
		invoiceID.String(), t.scope.OrgID,
	).Scan(&idStr, &inv.OrgID, &inv.CustomerID, &status, &inv.TotalAmount,
		&inv.AmountPaid, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, stepwise.ErrEntityNotFound
		}
		return nil, fmt.Errorf("stepwise/postgres: get invoice: %w", err)
	}

	parsed, parseErr := id.ParseInvoiceID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse invoice id %q: %w", idStr, parseErr)
	}
	inv.ID = parsed
	inv.Status = transition.Status(status)
	return &inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE stepwise_invoices
		SET status = $3, total_amount = $4, amount_paid = $5, updated_at = $6
		WHERE id = $1 AND org_id = $2`,
		inv.ID.String(), t.scope.OrgID, string(inv.Status), inv.TotalAmount,
		inv.AmountPaid, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepwise.ErrEntityNotFound
	}
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, p *billing.Payment) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	// The owning invoice must exist inside this org before a payment
	// row may reference it.
	var exists bool
	err = t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM stepwise_invoices WHERE id = $1 AND org_id = $2)`,
		p.InvoiceID.String(), t.scope.OrgID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: create payment: %w", err)
	}
	if !exists {
		return stepwise.ErrEntityNotFound
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_payments (id, org_id, invoice_id, amount, method, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID.String(), t.scope.OrgID, p.InvoiceID.String(), p.Amount, p.Method, p.ReceivedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrEntityExists
		}
		return fmt.Errorf("stepwise/postgres: create payment: %w", err)
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID id.ID) ([]*billing.Payment, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, org_id, invoice_id, amount, method, received_at
		FROM stepwise_payments
		WHERE invoice_id = $1 AND org_id = $2
		ORDER BY received_at ASC`,
		invoiceID.String(), t.scope.OrgID,
	)
	if err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list payments: %w", err)
	}
	defer rows.Close()

	var payments []*billing.Payment
	for rows.Next() {
		var (
			p          billing.Payment
			idStr      string
			invoiceStr string
		)
		if scanErr := rows.Scan(&idStr, &p.OrgID, &invoiceStr, &p.Amount, &p.Method, &p.ReceivedAt); scanErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: list payments scan: %w", scanErr)
		}
		parsed, parseErr := id.ParsePaymentID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: parse payment id %q: %w", idStr, parseErr)
		}
		p.ID = parsed
		invID, invErr := id.ParseInvoiceID(invoiceStr)
		if invErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: parse invoice id %q: %w", invoiceStr, invErr)
		}
		p.InvoiceID = invID
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list payments: %w", err)
	}
	return payments, nil
}

// ── Violations and hearings ──

func (s *Store) CreateViolation(ctx context.Context, v *billing.Violation) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	var hearingID *string
	if v.HearingID != nil {
		str := v.HearingID.String()
		hearingID = &str
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_violations (
			id, org_id, subject_id, status, description, hearing_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID.String(), t.scope.OrgID, v.SubjectID, string(v.Status),
		v.Description, hearingID, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrEntityExists
		}
		return fmt.Errorf("stepwise/postgres: create violation: %w", err)
	}
	return nil
}

func (s *Store) GetViolation(ctx context.Context, violationID id.ID) (*billing.Violation, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var (
		v         billing.Violation
		idStr     string
		status    string
		hearingID *string
	)
	err = t.tx.QueryRow(ctx, `
		SELECT id, org_id, subject_id, status, description, hearing_id,
		       created_at, updated_at
		FROM stepwise_violations
		WHERE id = $1 AND org_id = $2`,
		violationID.String(), t.scope.OrgID,
	).Scan(&idStr, &v.OrgID, &v.SubjectID, &status, &v.Description,
		&hearingID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, stepwise.ErrEntityNotFound
		}
		return nil, fmt.Errorf("stepwise/postgres: get violation: %w", err)
	}

	parsed, parseErr := id.ParseViolationID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse violation id %q: %w", idStr, parseErr)
	}
	v.ID = parsed
	v.Status = transition.Status(status)
	if hearingID != nil {
		hid, hidErr := id.ParseHearingID(*hearingID)
		if hidErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: parse hearing id %q: %w", *hearingID, hidErr)
		}
		v.HearingID = &hid
	}
	return &v, nil
}

func (s *Store) UpdateViolation(ctx context.Context, v *billing.Violation) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	var hearingID *string
	if v.HearingID != nil {
		str := v.HearingID.String()
		hearingID = &str
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE stepwise_violations
		SET status = $3, description = $4, hearing_id = $5, updated_at = $6
		WHERE id = $1 AND org_id = $2`,
		v.ID.String(), t.scope.OrgID, string(v.Status), v.Description,
		hearingID, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: update violation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepwise.ErrEntityNotFound
	}
	return nil
}

func (s *Store) CreateHearing(ctx context.Context, h *billing.Hearing) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_hearings (
			id, org_id, violation_id, scheduled_at, outcome, decided_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID.String(), t.scope.OrgID, h.ViolationID.String(), h.ScheduledAt,
		h.Outcome, h.DecidedAt, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrEntityExists
		}
		return fmt.Errorf("stepwise/postgres: create hearing: %w", err)
	}
	return nil
}

func (s *Store) GetHearing(ctx context.Context, hearingID id.ID) (*billing.Hearing, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var (
		h            billing.Hearing
		idStr        string
		violationStr string
	)
	err = t.tx.QueryRow(ctx, `
		SELECT id, org_id, violation_id, scheduled_at, outcome, decided_at,
		       created_at, updated_at
		FROM stepwise_hearings
		WHERE id = $1 AND org_id = $2`,
		hearingID.String(), t.scope.OrgID,
	).Scan(&idStr, &h.OrgID, &violationStr, &h.ScheduledAt, &h.Outcome,
		&h.DecidedAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, stepwise.ErrEntityNotFound
		}
		return nil, fmt.Errorf("stepwise/postgres: get hearing: %w", err)
	}

	parsed, parseErr := id.ParseHearingID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse hearing id %q: %w", idStr, parseErr)
	}
	h.ID = parsed
	vid, vidErr := id.ParseViolationID(violationStr)
	if vidErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse violation id %q: %w", violationStr, vidErr)
	}
	h.ViolationID = vid
	return &h, nil
}

func (s *Store) UpdateHearing(ctx context.Context, h *billing.Hearing) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE stepwise_hearings
		SET scheduled_at = $3, outcome = $4, decided_at = $5, updated_at = $6
		WHERE id = $1 AND org_id = $2`,
		h.ID.String(), t.scope.OrgID, h.ScheduledAt, h.Outcome, h.DecidedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("stepwise/postgres: update hearing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepwise.ErrEntityNotFound
	}
	return nil
}

// ── Proposals ──

func (s *Store) CreateProposal(ctx context.Context, p *billing.Proposal) error {
	t, err := txFrom(ctx)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO stepwise_proposals (id, org_id, title, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID.String(), t.scope.OrgID, p.Title, p.Body, string(p.Status),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepwise.ErrEntityExists
		}
		return fmt.Errorf("stepwise/postgres: create proposal: %w", err)
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, proposalID id.ID) (*billing.Proposal, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	var (
		p      billing.Proposal
		idStr  string
		status string
	)
	err = t.tx.QueryRow(ctx, `
		SELECT id, org_id, title, body, status, created_at, updated_at
		FROM stepwise_proposals
		WHERE id = $1 AND org_id = $2`,
		proposalID.String(), t.scope.OrgID,
	).Scan(&idStr, &p.OrgID, &p.Title, &p.Body, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, stepwise.ErrEntityNotFound
		}
		return nil, fmt.Errorf("stepwise/postgres: get proposal: %w", err)
	}

	parsed, parseErr := id.ParseProposalID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("stepwise/postgres: parse proposal id %q: %w", idStr, parseErr)
	}
	p.ID = parsed
	p.Status = transition.Status(status)
	return &p, nil
}

func (s *Store) ListProposals(ctx context.Context) ([]*billing.Proposal, error) {
	t, err := txFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, org_id, title, body, status, created_at, updated_at
		FROM stepwise_proposals
		WHERE org_id = $1
		ORDER BY created_at ASC`,
		t.scope.OrgID,
	)
	if err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*billing.Proposal
	for rows.Next() {
		var (
			p      billing.Proposal
			idStr  string
			status string
		)
		if scanErr := rows.Scan(&idStr, &p.OrgID, &p.Title, &p.Body, &status,
			&p.CreatedAt, &p.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: list proposals scan: %w", scanErr)
		}
		parsed, parseErr := id.ParseProposalID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("stepwise/postgres: parse proposal id %q: %w", idStr, parseErr)
		}
		p.ID = parsed
		p.Status = transition.Status(status)
		proposals = append(proposals, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepwise/postgres: list proposals: %w", err)
	}
	return proposals, nil
}
