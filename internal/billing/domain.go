package billing

import "time"

// InvoiceStatus enumerates invoice lifecycle states. The stored status is a
// cache of a value derivable from the allocation set; readers always
// recompute via ComputeStatus before presenting totals.
type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "DRAFT"
	StatusIssued        InvoiceStatus = "ISSUED"
	StatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	StatusPaid          InvoiceStatus = "PAID"
	StatusOverdue       InvoiceStatus = "OVERDUE"
	StatusVoid          InvoiceStatus = "VOID"
	StatusFailed        InvoiceStatus = "FAILED"
)

// InvoiceSource enumerates what an invoice bills for.
type InvoiceSource string

const (
	SourceDues     InvoiceSource = "DUES"
	SourceEvent    InvoiceSource = "EVENT"
	SourceDonation InvoiceSource = "DONATION"
	SourceManual   InvoiceSource = "MANUAL"
	SourceOther    InvoiceSource = "OTHER"
)

// ReportingStatus is the three-bucket collapse used by all dashboards.
type ReportingStatus string

const (
	ReportingOutstanding ReportingStatus = "OUTSTANDING"
	ReportingPaid        ReportingStatus = "PAID"
	ReportingCancelled   ReportingStatus = "CANCELLED"
)

// PaymentStatus enumerates payment outcomes. A payment is immutable once
// created; its status never changes after settlement.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Invoice is a bill owed by one member to one tenant. AmountCents is
// immutable after issuance. Transitions are forward only.
type Invoice struct {
	ID             int64
	TenantID       int64
	MemberID       int64
	Number         string
	AmountCents    int64
	Currency       string
	Source         InvoiceSource
	Status         InvoiceStatus
	Description    string
	EventID        *int64
	PeriodKey      string
	IssuedAt       time.Time
	DueAt          *time.Time
	PaidAt         *time.Time
	ReminderSentAt *time.Time
	ReminderCount  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payable reports whether a charge may target the invoice.
func (inv *Invoice) Payable() bool {
	switch inv.Status {
	case StatusPaid, StatusVoid, StatusFailed:
		return false
	default:
		return true
	}
}

// Payment is one successful or failed attempt to pay some amount, initiated
// through a stored payment method or a one-time card.
type Payment struct {
	ID              int64
	TenantID        int64
	MemberID        int64
	InvoiceID       int64
	AmountCents     int64
	Currency        string
	Status          PaymentStatus
	Reference       string
	PaymentMethodID *int64
	IdempotencyKey  string
	ProcessedAt     time.Time
	CreatedAt       time.Time
}

// Allocation links a payment to the invoice it pays down, in cents. The
// allocation set, restricted to SUCCEEDED payments, is the source of truth
// for invoice balance.
type Allocation struct {
	ID            int64
	TenantID      int64
	InvoiceID     int64
	PaymentID     int64
	AmountCents   int64
	PaymentStatus PaymentStatus
}

// InvoiceWithBalance pairs an invoice with its settled allocation total.
// Repositories return this shape so services never trust the cached status.
type InvoiceWithBalance struct {
	Invoice
	AllocatedCents int64
}

// Member is the narrow read model the engine needs from the excluded
// member CRUD: identity, contact, and the assigned membership price.
type Member struct {
	ID             int64
	TenantID       int64
	Name           string
	Email          string
	Active         bool
	DuesPriceCents *int64
	Currency       string
}

// Event is the engine-facing slice of an event: whether it is paid and what
// a registration costs.
type Event struct {
	ID         int64
	TenantID   int64
	Name       string
	PriceCents int64
	Currency   string
}

// Registration links a member to an event and, once invoiced, to its invoice.
type Registration struct {
	ID        int64
	TenantID  int64
	EventID   int64
	MemberID  int64
	InvoiceID *int64
}

// GenerationResult reports the outcome of a batch invoice run.
type GenerationResult struct {
	Created  int     `json:"created"`
	Skipped  int     `json:"skipped"`
	Invoices []int64 `json:"invoice_ids,omitempty"`
}

// ReminderResult reports the outcome of a reminder run.
type ReminderResult struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
}
