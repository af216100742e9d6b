package memory

import (
	"context"
	"sort"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/billing"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/store"
)

// billing.Store implementation. Every method requires an open tenant
// transaction and confines reads and writes to its organization:
// an entity belonging to another org is indistinguishable from a
// missing one.

func (s *Store) CreateEstimate(ctx context.Context, est *billing.Estimate) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.estimates[est.ID.String()]; exists {
		return stepwise.ErrEntityExists
	}
	c := cloneEstimate(est)
	c.OrgID = scope.OrgID
	s.estimates[est.ID.String()] = c
	return nil
}

func (s *Store) GetEstimate(ctx context.Context, estimateID id.ID) (*billing.Estimate, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	est, ok := s.estimates[estimateID.String()]
	if !ok || est.OrgID != scope.OrgID {
		return nil, stepwise.ErrEntityNotFound
	}
	return cloneEstimate(est), nil
}

func (s *Store) UpdateEstimate(ctx context.Context, est *billing.Estimate) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.estimates[est.ID.String()]
	if !ok || cur.OrgID != scope.OrgID {
		return stepwise.ErrEntityNotFound
	}
	c := cloneEstimate(est)
	c.OrgID = scope.OrgID
	s.estimates[est.ID.String()] = c
	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID.String()]; exists {
		return stepwise.ErrEntityExists
	}
	c := cloneInvoice(inv)
	c.OrgID = scope.OrgID
	s.invoices[inv.ID.String()] = c
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID id.ID) (*billing.Invoice, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[invoiceID.String()]
	if !ok || inv.OrgID != scope.OrgID {
		return nil, stepwise.ErrEntityNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.invoices[inv.ID.String()]
	if !ok || cur.OrgID != scope.OrgID {
		return stepwise.ErrEntityNotFound
	}
	c := cloneInvoice(inv)
	c.OrgID = scope.OrgID
	s.invoices[inv.ID.String()] = c
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, p *billing.Payment) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[p.InvoiceID.String()]
	if !ok || inv.OrgID != scope.OrgID {
		return stepwise.ErrEntityNotFound
	}
	c := clonePayment(p)
	c.OrgID = scope.OrgID
	key := p.InvoiceID.String()
	s.payments[key] = append(append([]*billing.Payment(nil), s.payments[key]...), c)
	return nil
}

func (s *Store) ListPayments(ctx context.Context, invoiceID id.ID) ([]*billing.Payment, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[invoiceID.String()]
	if !ok || inv.OrgID != scope.OrgID {
		return nil, stepwise.ErrEntityNotFound
	}
	payments := s.payments[invoiceID.String()]
	out := make([]*billing.Payment, len(payments))
	for i, p := range payments {
		out[i] = clonePayment(p)
	}
	return out, nil
}

func (s *Store) CreateViolation(ctx context.Context, v *billing.Violation) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.violations[v.ID.String()]; exists {
		return stepwise.ErrEntityExists
	}
	c := cloneViolation(v)
	c.OrgID = scope.OrgID
	s.violations[v.ID.String()] = c
	return nil
}

func (s *Store) GetViolation(ctx context.Context, violationID id.ID) (*billing.Violation, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.violations[violationID.String()]
	if !ok || v.OrgID != scope.OrgID {
		return nil, stepwise.ErrEntityNotFound
	}
	return cloneViolation(v), nil
}

func (s *Store) UpdateViolation(ctx context.Context, v *billing.Violation) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.violations[v.ID.String()]
	if !ok || cur.OrgID != scope.OrgID {
		return stepwise.ErrEntityNotFound
	}
	c := cloneViolation(v)
	c.OrgID = scope.OrgID
	s.violations[v.ID.String()] = c
	return nil
}

func (s *Store) CreateHearing(ctx context.Context, h *billing.Hearing) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hearings[h.ID.String()]; exists {
		return stepwise.ErrEntityExists
	}
	c := cloneHearing(h)
	c.OrgID = scope.OrgID
	s.hearings[h.ID.String()] = c
	return nil
}

func (s *Store) GetHearing(ctx context.Context, hearingID id.ID) (*billing.Hearing, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hearings[hearingID.String()]
	if !ok || h.OrgID != scope.OrgID {
		return nil, stepwise.ErrEntityNotFound
	}
	return cloneHearing(h), nil
}

func (s *Store) UpdateHearing(ctx context.Context, h *billing.Hearing) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.hearings[h.ID.String()]
	if !ok || cur.OrgID != scope.OrgID {
		return stepwise.ErrEntityNotFound
	}
	c := cloneHearing(h)
	c.OrgID = scope.OrgID
	s.hearings[h.ID.String()] = c
	return nil
}

func (s *Store) CreateProposal(ctx context.Context, p *billing.Proposal) error {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.ID.String()]; exists {
		return stepwise.ErrEntityExists
	}
	c := cloneProposal(p)
	c.OrgID = scope.OrgID
	s.proposals[p.ID.String()] = c
	return nil
}

func (s *Store) GetProposal(ctx context.Context, proposalID id.ID) (*billing.Proposal, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[proposalID.String()]
	if !ok || p.OrgID != scope.OrgID {
		return nil, stepwise.ErrEntityNotFound
	}
	return cloneProposal(p), nil
}

func (s *Store) ListProposals(ctx context.Context) ([]*billing.Proposal, error) {
	scope, err := scopeFrom(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*billing.Proposal
	for _, p := range s.proposals {
		if p.OrgID != scope.OrgID {
			continue
		}
		out = append(out, cloneProposal(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ store.Store = (*Store)(nil)
