package methods

import "time"

// MethodStatus enumerates payment method states.
type MethodStatus string

const (
	MethodActive   MethodStatus = "ACTIVE"
	MethodInactive MethodStatus = "INACTIVE"
)

// PaymentMethod is a tokenized, non-sensitive reference to a stored card,
// scoped to one member. At most one method per member is the default; the
// first saved method is elected and later ones stay non-default.
type PaymentMethod struct {
	ID          int64        `json:"id"`
	TenantID    int64        `json:"-"`
	MemberID    int64        `json:"member_id"`
	Token       string       `json:"-"`
	Brand       string       `json:"brand"`
	Last4       string       `json:"last4"`
	ExpMonth    int          `json:"exp_month"`
	ExpYear     int          `json:"exp_year"`
	Fingerprint string       `json:"-"`
	IsDefault   bool         `json:"is_default"`
	Status      MethodStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// SaveMethodRequest carries a card to tokenize and store.
type SaveMethodRequest struct {
	Number   string `json:"number" validate:"required"`
	ExpMonth int    `json:"exp_month" validate:"required,min=1,max=12"`
	ExpYear  int    `json:"exp_year" validate:"required"`
	CVC      string `json:"cvc" validate:"required"`
	Holder   string `json:"holder,omitempty" validate:"max=120"`
}
