// Package notify is the outbound notification-dispatch boundary. The engine
// only emits "send this" events; delivery belongs to an external system and
// its failures are logged, never propagated as engine failures.
package notify

import "context"

// Kind classifies a notification.
type Kind string

const (
	KindReceipt     Kind = "RECEIPT"
	KindReminder    Kind = "REMINDER"
	KindInvoiceSend Kind = "INVOICE_SEND"
)

// Notification is the event handed to the dispatch interface.
type Notification struct {
	Kind        Kind              `json:"kind"`
	TenantID    int64             `json:"tenant_id"`
	MemberID    int64             `json:"member_id"`
	InvoiceID   int64             `json:"invoice_id"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// Dispatcher accepts notifications for asynchronous delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}
