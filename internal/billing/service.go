package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clubledger/clubledger/internal/audit"
	"github.com/clubledger/clubledger/internal/notify"
	"github.com/clubledger/clubledger/internal/observability"
	"github.com/clubledger/clubledger/internal/shared"
)

// RepositoryPort defines data access methods for the settlement engine.
// Every method is tenant-scoped; a read or write that omits the tenant is a
// design bug, not an option.
type RepositoryPort interface {
	GetInvoice(ctx context.Context, tenantID, invoiceID int64) (*InvoiceWithBalance, error)
	ListInvoices(ctx context.Context, tenantID int64, req ListInvoicesRequest) ([]InvoiceWithBalance, error)
	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error)
	GetMember(ctx context.Context, tenantID, memberID int64) (*Member, error)

	// FindPaymentByIdempotencyKey returns the previously recorded payment
	// for the key, or ErrNoRecord when the key is unseen.
	FindPaymentByIdempotencyKey(ctx context.Context, tenantID, memberID int64, key string) (*Payment, error)

	// SettleCharge applies payment, allocation, and invoice status update
	// as one atomic unit, re-verifying payability and remaining balance
	// with the invoice row locked. It returns ErrStaleInvoice when the
	// invoice settled concurrently and ErrDuplicateKey when another request
	// won the idempotency race.
	SettleCharge(ctx context.Context, input SettleChargeInput) (*SettleChargeOutput, error)

	ListActiveMembersWithDues(ctx context.Context, tenantID int64) ([]Member, error)
	CreateDuesInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, bool, error)

	GetEvent(ctx context.Context, tenantID, eventID int64) (*Event, error)
	GetRegistration(ctx context.Context, tenantID, registrationID int64) (*Registration, error)
	ListUninvoicedRegistrations(ctx context.Context, tenantID, eventID int64) ([]Registration, error)
	CreateEventInvoice(ctx context.Context, input CreateInvoiceInput, registrationID int64) (*Invoice, bool, error)

	ListReminderCandidates(ctx context.Context, tenantID int64, now time.Time) ([]InvoiceWithBalance, error)
	ClaimReminder(ctx context.Context, tenantID, invoiceID int64) (bool, error)
}

// MethodPort resolves stored payment instruments. Implemented by the
// methods module; billing only needs the narrow lookup.
type MethodPort interface {
	GetActiveMethod(ctx context.Context, tenantID, memberID, methodID int64) (*StoredMethod, error)
}

// StoredMethod is the slice of a saved payment method the charge path uses.
type StoredMethod struct {
	ID       int64
	TenantID int64
	MemberID int64
	Token    string
	Brand    string
	Last4    string
}

// Sentinel errors surfaced by repository conditional writes.
var (
	ErrNoRecord     = errors.New("billing: no record")
	ErrStaleInvoice = errors.New("billing: invoice changed concurrently")
	ErrDuplicateKey = errors.New("billing: idempotency key already recorded")
)

// CreateInvoiceInput captures everything needed to persist a new invoice.
// Number assignment happens inside the repository so the sequence advances
// in the same transaction as the insert.
type CreateInvoiceInput struct {
	TenantID    int64
	MemberID    int64
	AmountCents int64
	Currency    string
	Source      InvoiceSource
	Status      InvoiceStatus
	Description string
	EventID     *int64
	PeriodKey   string
	IssuedAt    time.Time
	DueAt       *time.Time
}

// SettleChargeInput is the atomic settlement request.
type SettleChargeInput struct {
	TenantID        int64
	MemberID        int64
	InvoiceID       int64
	AmountCents     int64
	Currency        string
	Reference       string
	PaymentMethodID *int64
	IdempotencyKey  string
	ProcessedAt     time.Time
}

// SettleChargeOutput is what settlement reports back.
type SettleChargeOutput struct {
	Payment       *Payment
	InvoiceStatus InvoiceStatus
	BalanceCents  int64
}

// Service executes charges and reads against the ledger.
type Service struct {
	repo     RepositoryPort
	methods  MethodPort
	notifier notify.Dispatcher
	auditor  AuditPort
	metrics  *observability.Metrics
	reports  ReportInvalidator
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// AuditPort appends to the audit trail. Every state-changing operation
// records exactly one entry per affected invoice.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// ReportInvalidator drops cached dashboard aggregates for a tenant. The
// ledger calls it after every write that changes invoice or allocation
// totals, so revenue reads never serve a stale aggregate past the write.
type ReportInvalidator interface {
	Invalidate(ctx context.Context, tenantID int64)
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, methods MethodPort, notifier notify.Dispatcher, auditor AuditPort, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		methods:  methods,
		notifier: notifier,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock overrides the service clock, used by tests and backfills.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithReportInvalidator attaches the reporting cache hook. Wired at startup
// rather than in the constructor because reporting reads through this
// service's repository.
func (s *Service) WithReportInvalidator(reports ReportInvalidator) *Service {
	s.reports = reports
	return s
}

// Charge executes exactly one debit against exactly one invoice, exactly
// once per idempotency key.
func (s *Service) Charge(ctx context.Context, principal shared.Principal, invoiceID int64, req ChargeRequest) (*ChargeResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewValidationError("invalid charge request", validationFields(err))
	}

	now := s.now()

	inv, err := s.repo.GetInvoice(ctx, principal.TenantID, invoiceID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, shared.NewError(shared.CodeNotFound, "invoice not found")
		}
		return nil, err
	}

	// Ownership within the tenant: only an elevated role may pay on behalf
	// of another member.
	if inv.MemberID != principal.MemberID && !principal.Can(shared.CapChargeOnBehalf) {
		return nil, shared.NewError(shared.CodeForbidden, "invoice belongs to another member")
	}

	// Idempotency replay: seen key returns the original result without
	// re-executing anything. Replay is a success, never an error.
	if req.IdempotencyKey != "" {
		prior, err := s.repo.FindPaymentByIdempotencyKey(ctx, principal.TenantID, inv.MemberID, req.IdempotencyKey)
		if err != nil && !errors.Is(err, ErrNoRecord) {
			return nil, err
		}
		if prior != nil {
			return s.replayResult(ctx, principal.TenantID, prior)
		}
	}

	status := ComputeStatus(&inv.Invoice, inv.AllocatedCents, now)
	if status == StatusPaid || !inv.Payable() {
		return nil, shared.NewError(shared.CodeConflict, "invoice is not payable in status "+string(status))
	}

	instrument, methodID, err := s.resolveInstrument(ctx, principal.TenantID, inv.MemberID, req, now)
	if err != nil {
		return nil, err
	}

	remaining := inv.AmountCents - inv.AllocatedCents
	if remaining < 0 {
		remaining = 0
	}
	amount := remaining
	if req.AmountCents != nil {
		amount = *req.AmountCents
	}
	if amount <= 0 {
		return nil, shared.NewValidationError("charge amount must be positive", map[string]string{"amount_cents": "must be > 0"})
	}
	if amount > remaining {
		return nil, shared.NewValidationError("charge exceeds remaining balance", map[string]string{"amount_cents": "exceeds remaining balance"})
	}

	// Donations settle in one shot: a charge that would leave a positive
	// balance on a DONATION invoice is invalid even though partial payment
	// is permitted for every other source.
	if inv.Source == SourceDonation && amount < remaining {
		return nil, shared.NewError(shared.CodeBusinessRuleViolation, "donation invoices must be paid in full")
	}

	out, err := s.repo.SettleCharge(ctx, SettleChargeInput{
		TenantID:        principal.TenantID,
		MemberID:        inv.MemberID,
		InvoiceID:       inv.ID,
		AmountCents:     amount,
		Currency:        inv.Currency,
		Reference:       newPaymentReference(),
		PaymentMethodID: methodID,
		IdempotencyKey:  req.IdempotencyKey,
		ProcessedAt:     now,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateKey):
			// Lost the idempotency race: the winner's payment is the result.
			prior, ferr := s.repo.FindPaymentByIdempotencyKey(ctx, principal.TenantID, inv.MemberID, req.IdempotencyKey)
			if ferr != nil {
				return nil, ferr
			}
			return s.replayResult(ctx, principal.TenantID, prior)
		case errors.Is(err, ErrStaleInvoice):
			return nil, shared.NewError(shared.CodeConflict, "invoice settled concurrently")
		}
		return nil, err
	}

	s.metrics.CountCharge(string(inv.Source))
	s.invalidateReports(ctx, principal.TenantID)
	s.audit(ctx, principal, audit.ActionPaid, inv.ID, amount)
	s.dispatch(ctx, notify.Notification{
		Kind:        notify.KindReceipt,
		TenantID:    principal.TenantID,
		MemberID:    inv.MemberID,
		InvoiceID:   inv.ID,
		AmountCents: amount,
		Currency:    inv.Currency,
		Meta: map[string]string{
			"reference": out.Payment.Reference,
			"brand":     instrument.Brand,
			"last4":     instrument.Last4,
		},
	})

	return &ChargeResult{
		Payment:       out.Payment,
		InvoiceStatus: out.InvoiceStatus,
		BalanceCents:  out.BalanceCents,
	}, nil
}

// CreateManualInvoice issues a single invoice from an admin action.
func (s *Service) CreateManualInvoice(ctx context.Context, principal shared.Principal, req ManualInvoiceRequest) (*Invoice, error) {
	if !principal.Can(shared.CapGenerateInvoices) {
		return nil, shared.NewError(shared.CodeForbidden, "not allowed to issue invoices")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewValidationError("invalid invoice request", validationFields(err))
	}

	if _, err := s.repo.GetMember(ctx, principal.TenantID, req.MemberID); err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, shared.NewError(shared.CodeNotFound, "member not found")
		}
		return nil, err
	}

	inv, err := s.repo.CreateInvoice(ctx, CreateInvoiceInput{
		TenantID:    principal.TenantID,
		MemberID:    req.MemberID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Source:      req.Source,
		Status:      StatusIssued,
		Description: req.Description,
		IssuedAt:    s.now(),
		DueAt:       req.DueAt,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateReports(ctx, principal.TenantID)
	s.audit(ctx, principal, audit.ActionCreated, inv.ID, inv.AmountCents)
	return inv, nil
}

// GetInvoice returns one invoice with recomputed status and balance.
func (s *Service) GetInvoice(ctx context.Context, principal shared.Principal, invoiceID int64) (*InvoiceWithBalance, error) {
	inv, err := s.repo.GetInvoice(ctx, principal.TenantID, invoiceID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, shared.NewError(shared.CodeNotFound, "invoice not found")
		}
		return nil, err
	}
	if inv.MemberID != principal.MemberID && !principal.Can(shared.CapViewTenantReports) {
		return nil, shared.NewError(shared.CodeForbidden, "invoice belongs to another member")
	}
	inv.Status = ComputeStatus(&inv.Invoice, inv.AllocatedCents, s.now())
	return inv, nil
}

// ListInvoices returns invoices with recomputed statuses. Callers that
// filtered by stored status get re-filtered by computed status here, so a
// stale cache can never surface a wrong bucket.
func (s *Service) ListInvoices(ctx context.Context, principal shared.Principal, req ListInvoicesRequest) ([]InvoiceWithBalance, error) {
	if !principal.Can(shared.CapViewTenantReports) {
		req.MemberID = principal.MemberID
	}
	invoices, err := s.repo.ListInvoices(ctx, principal.TenantID, req)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := invoices[:0]
	for i := range invoices {
		invoices[i].Status = ComputeStatus(&invoices[i].Invoice, invoices[i].AllocatedCents, now)
		if req.Status != "" && invoices[i].Status != req.Status {
			continue
		}
		out = append(out, invoices[i])
	}
	return out, nil
}

// RequestSend records a send-invoice request and emits the dispatch event.
// Delivery itself belongs to the excluded notification system.
func (s *Service) RequestSend(ctx context.Context, principal shared.Principal, invoiceID int64) error {
	inv, err := s.GetInvoice(ctx, principal, invoiceID)
	if err != nil {
		return err
	}
	s.audit(ctx, principal, audit.ActionSendRequested, inv.ID, inv.AmountCents)
	s.dispatch(ctx, notify.Notification{
		Kind:        notify.KindInvoiceSend,
		TenantID:    principal.TenantID,
		MemberID:    inv.MemberID,
		InvoiceID:   inv.ID,
		AmountCents: inv.AmountCents,
		Currency:    inv.Currency,
	})
	return nil
}

func (s *Service) replayResult(ctx context.Context, tenantID int64, prior *Payment) (*ChargeResult, error) {
	inv, err := s.repo.GetInvoice(ctx, tenantID, prior.InvoiceID)
	if err != nil {
		return nil, err
	}
	balance := inv.AmountCents - inv.AllocatedCents
	if balance < 0 {
		balance = 0
	}
	return &ChargeResult{
		Payment:       prior,
		InvoiceStatus: ComputeStatus(&inv.Invoice, inv.AllocatedCents, s.now()),
		BalanceCents:  balance,
		Replayed:      true,
	}, nil
}

func (s *Service) resolveInstrument(ctx context.Context, tenantID, memberID int64, req ChargeRequest, now time.Time) (*CardInstrument, *int64, error) {
	switch {
	case req.PaymentMethodID != nil:
		method, err := s.methods.GetActiveMethod(ctx, tenantID, memberID, *req.PaymentMethodID)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				return nil, nil, shared.NewError(shared.CodeNotFound, "payment method not found")
			}
			return nil, nil, err
		}
		return &CardInstrument{Token: method.Token, Brand: method.Brand, Last4: method.Last4}, &method.ID, nil
	case req.Card != nil:
		if err := ValidateCard(req.Card, now); err != nil {
			return nil, nil, err
		}
		instrument := Tokenize(req.Card)
		return &instrument, nil, nil
	default:
		return nil, nil, shared.NewValidationError("a payment instrument is required", map[string]string{
			"payment_method_id": "provide a stored method or a one-time card",
		})
	}
}

func (s *Service) invalidateReports(ctx context.Context, tenantID int64) {
	if s.reports == nil {
		return
	}
	s.reports.Invalidate(ctx, tenantID)
}

func (s *Service) audit(ctx context.Context, principal shared.Principal, action string, invoiceID, amountCents int64) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, audit.Entry{
		TenantID:    principal.TenantID,
		ActorID:     principal.MemberID,
		Action:      action,
		Entity:      "invoice",
		EntityID:    invoiceID,
		AmountCents: amountCents,
		At:          s.now(),
	}); err != nil {
		s.logger.Error("audit record failed", slog.Any("error", err), slog.Int64("invoice_id", invoiceID))
	}
}

// dispatch is fire-and-forget: delivery failure is logged and never
// propagated as a charge failure.
func (s *Service) dispatch(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		s.logger.Error("notification dispatch failed",
			slog.Any("error", err),
			slog.String("kind", string(n.Kind)),
			slog.Int64("invoice_id", n.InvoiceID))
	}
}

func validationFields(err error) map[string]string {
	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = "failed " + fe.Tag() + " validation"
		}
	}
	return fields
}

func newPaymentReference() string {
	return "pay_" + uuid.NewString()
}
