package billing

import (
	"time"

	"github.com/stepwise-io/stepwise"
	"github.com/stepwise-io/stepwise/id"
	"github.com/stepwise-io/stepwise/transition"
)

// Invoice lifecycle statuses.
const (
	InvoiceDraft    transition.Status = "DRAFT"
	InvoiceSent     transition.Status = "SENT"
	InvoicePartial  transition.Status = "PARTIAL"
	InvoicePaid     transition.Status = "PAID"
	InvoiceVoid     transition.Status = "VOID"
	InvoiceRefunded transition.Status = "REFUNDED"
)

// Invoice bills a customer. Amounts are integer cents.
type Invoice struct {
	stepwise.Entity

	ID          id.ID             `json:"id"`
	OrgID       string            `json:"org_id"`
	CustomerID  string            `json:"customer_id"`
	Status      transition.Status `json:"status"`
	TotalAmount int64             `json:"total_amount"`
	AmountPaid  int64             `json:"amount_paid"`
}

// NewInvoice creates a draft invoice.
func NewInvoice(orgID, customerID string, totalAmount int64) *Invoice {
	return &Invoice{
		Entity:      stepwise.NewEntity(),
		ID:          id.NewInvoiceID(),
		OrgID:       orgID,
		CustomerID:  customerID,
		Status:      InvoiceDraft,
		TotalAmount: totalAmount,
	}
}

// BalanceDue returns the outstanding amount.
func (i *Invoice) BalanceDue() int64 { return i.TotalAmount - i.AmountPaid }

// Payment records money received against an invoice. Append-only.
type Payment struct {
	ID         id.ID     `json:"id"`
	OrgID      string    `json:"org_id"`
	InvoiceID  id.ID     `json:"invoice_id"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewPayment records a payment received now.
func NewPayment(orgID string, invoiceID id.ID, amount int64, method string) *Payment {
	return &Payment{
		ID:         id.NewPaymentID(),
		OrgID:      orgID,
		InvoiceID:  invoiceID,
		Amount:     amount,
		Method:     method,
		ReceivedAt: time.Now().UTC(),
	}
}

// PaymentAttempt is the guard subject for invoice payment transitions:
// the invoice as currently stored plus the amount being applied.
type PaymentAttempt struct {
	Invoice *Invoice
	Amount  int64
}
