package billing

import "time"

// ChargeRequest describes one debit against one invoice. Exactly one of
// PaymentMethodID / Card identifies the instrument.
type ChargeRequest struct {
	AmountCents     *int64       `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
	PaymentMethodID *int64       `json:"payment_method_id,omitempty" validate:"omitempty,gt=0"`
	Card            *OneTimeCard `json:"card,omitempty"`
	IdempotencyKey  string       `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// OneTimeCard is an unsaved card payload, validated structurally and
// tokenized into an ephemeral instrument. Real gateway integration is an
// external collaborator; nothing sensitive is persisted.
type OneTimeCard struct {
	Number   string `json:"number" validate:"required"`
	ExpMonth int    `json:"exp_month" validate:"required,min=1,max=12"`
	ExpYear  int    `json:"exp_year" validate:"required"`
	CVC      string `json:"cvc" validate:"required"`
	Holder   string `json:"holder,omitempty" validate:"max=120"`
}

// ChargeResult is what a charge returns, identical on idempotent replay.
type ChargeResult struct {
	Payment       *Payment      `json:"payment"`
	InvoiceStatus InvoiceStatus `json:"invoice_status"`
	BalanceCents  int64         `json:"balance_cents"`
	Replayed      bool          `json:"replayed"`
}

// ManualInvoiceRequest creates a single administrator-issued invoice.
type ManualInvoiceRequest struct {
	MemberID    int64         `json:"member_id" validate:"required,gt=0"`
	AmountCents int64         `json:"amount_cents" validate:"required,gt=0"`
	Currency    string        `json:"currency" validate:"required,len=3"`
	Source      InvoiceSource `json:"source" validate:"required,oneof=DUES EVENT DONATION MANUAL OTHER"`
	Description string        `json:"description" validate:"max=500"`
	DueAt       *time.Time    `json:"due_at,omitempty"`
}

// DuesRunRequest triggers a dues generation run. Period defaults to the
// current YYYY-MM when empty; explicit values support backfills.
type DuesRunRequest struct {
	Period string     `json:"period,omitempty" validate:"omitempty,datetime=2006-01"`
	DueAt  *time.Time `json:"due_at,omitempty"`
}

// ListInvoicesRequest filters the invoice listing.
type ListInvoicesRequest struct {
	MemberID int64
	Status   InvoiceStatus
	Source   InvoiceSource
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
