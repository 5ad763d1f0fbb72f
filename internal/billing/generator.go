package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubledger/clubledger/internal/audit"
	"github.com/clubledger/clubledger/internal/shared"
)

// PeriodKey renders the dues period for a point in time as YYYY-MM.
func PeriodKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// RunDuesGeneration creates exactly one unpaid dues invoice per
// (tenant, member, period). Members without a membership price are skipped,
// as is every member who already holds a dues invoice for the period — the
// partial unique index behind CreateDuesInvoice makes re-runs and
// concurrent runs create-exactly-once. Safe to invoke repeatedly within
// the same period.
func (s *Service) RunDuesGeneration(ctx context.Context, principal shared.Principal, req DuesRunRequest) (*GenerationResult, error) {
	if !principal.Can(shared.CapGenerateInvoices) {
		return nil, shared.NewError(shared.CodeForbidden, "not allowed to run dues generation")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.NewValidationError("invalid dues run request", validationFields(err))
	}

	now := s.now()
	period := req.Period
	if period == "" {
		period = PeriodKey(now)
	}

	members, err := s.repo.ListActiveMembersWithDues(ctx, principal.TenantID)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{}
	for _, member := range members {
		if member.DuesPriceCents == nil || *member.DuesPriceCents <= 0 {
			result.Skipped++
			continue
		}
		inv, created, err := s.repo.CreateDuesInvoice(ctx, CreateInvoiceInput{
			TenantID:    principal.TenantID,
			MemberID:    member.ID,
			AmountCents: *member.DuesPriceCents,
			Currency:    member.Currency,
			Source:      SourceDues,
			Status:      StatusIssued,
			Description: "Membership dues " + period,
			PeriodKey:   period,
			IssuedAt:    now,
			DueAt:       req.DueAt,
		})
		if err != nil {
			return nil, err
		}
		if !created {
			result.Skipped++
			continue
		}
		result.Created++
		result.Invoices = append(result.Invoices, inv.ID)
		s.audit(ctx, principal, audit.ActionDuesGenerated, inv.ID, inv.AmountCents)
	}

	s.metrics.CountGenerated(string(SourceDues), result.Created)
	if result.Created > 0 {
		s.invalidateReports(ctx, principal.TenantID)
	}
	s.logger.Info("dues generation run",
		slog.Int64("tenant_id", principal.TenantID),
		slog.String("period", period),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

// GenerateEventInvoices creates one invoice per registration of a paid
// event that lacks one. Registrations invoiced concurrently by another
// admin action surface as benign skips, never errors.
func (s *Service) GenerateEventInvoices(ctx context.Context, principal shared.Principal, eventID int64) (*GenerationResult, error) {
	if !principal.Can(shared.CapGenerateInvoices) {
		return nil, shared.NewError(shared.CodeForbidden, "not allowed to generate event invoices")
	}

	event, err := s.loadPaidEvent(ctx, principal.TenantID, eventID)
	if err != nil {
		return nil, err
	}

	registrations, err := s.repo.ListUninvoicedRegistrations(ctx, principal.TenantID, eventID)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{}
	for _, reg := range registrations {
		inv, created, err := s.invoiceRegistration(ctx, principal, event, reg)
		if err != nil {
			return nil, err
		}
		if !created {
			result.Skipped++
			continue
		}
		result.Created++
		result.Invoices = append(result.Invoices, inv.ID)
	}

	s.metrics.CountGenerated(string(SourceEvent), result.Created)
	if result.Created > 0 {
		s.invalidateReports(ctx, principal.TenantID)
	}
	return result, nil
}

// GenerateRegistrationInvoice invoices one registration of a paid event.
// When the registration is already linked, the existing invoice id comes
// back with created=false.
func (s *Service) GenerateRegistrationInvoice(ctx context.Context, principal shared.Principal, registrationID int64) (*Invoice, bool, error) {
	if !principal.Can(shared.CapGenerateInvoices) {
		return nil, false, shared.NewError(shared.CodeForbidden, "not allowed to generate event invoices")
	}

	reg, err := s.repo.GetRegistration(ctx, principal.TenantID, registrationID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, false, shared.NewError(shared.CodeNotFound, "registration not found")
		}
		return nil, false, err
	}

	event, err := s.loadPaidEvent(ctx, principal.TenantID, reg.EventID)
	if err != nil {
		return nil, false, err
	}

	inv, created, err := s.invoiceRegistration(ctx, principal, event, *reg)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.metrics.CountGenerated(string(SourceEvent), 1)
		s.invalidateReports(ctx, principal.TenantID)
	}
	return inv, created, nil
}

func (s *Service) loadPaidEvent(ctx context.Context, tenantID, eventID int64) (*Event, error) {
	event, err := s.repo.GetEvent(ctx, tenantID, eventID)
	if err != nil {
		if errors.Is(err, ErrNoRecord) {
			return nil, shared.NewError(shared.CodeNotFound, "event not found")
		}
		return nil, err
	}
	if event.PriceCents <= 0 {
		return nil, shared.NewValidationError("free events cannot be invoiced", map[string]string{
			"event_id": "event has no positive price",
		})
	}
	return event, nil
}

// invoiceRegistration performs the guarded create: the repository re-checks
// under lock that the registration still lacks an invoice before committing
// and links the new invoice back so future calls see it and skip it.
func (s *Service) invoiceRegistration(ctx context.Context, principal shared.Principal, event *Event, reg Registration) (*Invoice, bool, error) {
	if reg.InvoiceID != nil {
		existing, err := s.repo.GetInvoice(ctx, principal.TenantID, *reg.InvoiceID)
		if err != nil {
			return nil, false, err
		}
		return &existing.Invoice, false, nil
	}

	eventID := event.ID
	inv, created, err := s.repo.CreateEventInvoice(ctx, CreateInvoiceInput{
		TenantID:    principal.TenantID,
		MemberID:    reg.MemberID,
		AmountCents: event.PriceCents,
		Currency:    event.Currency,
		Source:      SourceEvent,
		Status:      StatusIssued,
		Description: "Registration: " + event.Name,
		EventID:     &eventID,
		IssuedAt:    s.now(),
	}, reg.ID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.audit(ctx, principal, audit.ActionCreated, inv.ID, inv.AmountCents)
	}
	return inv, created, nil
}
