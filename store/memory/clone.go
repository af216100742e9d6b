package memory

import (
	"time"

	"github.com/stepwise-io/stepwise/billing"
	"github.com/stepwise-io/stepwise/workflow"
)

// Clone helpers. The store never hands out or retains caller-owned
// pointers; every boundary crossing copies.

func cloneRun(r *workflow.Run) *workflow.Run {
	c := *r
	c.Input = append([]byte(nil), r.Input...)
	if r.Result != nil {
		res := *r.Result
		if r.Result.Fields != nil {
			res.Fields = make(map[string]any, len(r.Result.Fields))
			for k, v := range r.Result.Fields {
				res.Fields[k] = v
			}
		}
		c.Result = &res
	}
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

func cloneEstimate(e *billing.Estimate) *billing.Estimate {
	c := *e
	c.SentAt = cloneTime(e.SentAt)
	c.ValidUntil = cloneTime(e.ValidUntil)
	return &c
}

func cloneInvoice(i *billing.Invoice) *billing.Invoice {
	c := *i
	return &c
}

func clonePayment(p *billing.Payment) *billing.Payment {
	c := *p
	return &c
}

func cloneViolation(v *billing.Violation) *billing.Violation {
	c := *v
	if v.HearingID != nil {
		h := *v.HearingID
		c.HearingID = &h
	}
	return &c
}

func cloneHearing(h *billing.Hearing) *billing.Hearing {
	c := *h
	c.DecidedAt = cloneTime(h.DecidedAt)
	return &c
}

func cloneProposal(p *billing.Proposal) *billing.Proposal {
	c := *p
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
