package billing

import (
	"context"
	"log/slog"

	"github.com/clubledger/clubledger/internal/audit"
	"github.com/clubledger/clubledger/internal/notify"
	"github.com/clubledger/clubledger/internal/shared"
)

// RunReminders scans overdue unpaid invoices that have never been reminded
// and emits at most one reminder per invoice per run cycle. ClaimReminder
// is a conditional write, so when two runs race over the same invoice only
// one claim succeeds and the other run sends nothing for it.
func (s *Service) RunReminders(ctx context.Context, principal shared.Principal) (*ReminderResult, error) {
	if !principal.Can(shared.CapRunReminders) {
		return nil, shared.NewError(shared.CodeForbidden, "not allowed to run reminders")
	}

	now := s.now()
	candidates, err := s.repo.ListReminderCandidates(ctx, principal.TenantID, now)
	if err != nil {
		return nil, err
	}

	result := &ReminderResult{Scanned: len(candidates)}
	for _, inv := range candidates {
		// Candidates came back by stored status; recompute from allocations
		// before sending so a stale cache never nags a settled invoice.
		if ComputeStatus(&inv.Invoice, inv.AllocatedCents, now) == StatusPaid {
			continue
		}

		claimed, err := s.repo.ClaimReminder(ctx, principal.TenantID, inv.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}

		member, err := s.repo.GetMember(ctx, principal.TenantID, inv.MemberID)
		if err != nil {
			s.logger.Error("reminder member lookup failed",
				slog.Any("error", err), slog.Int64("invoice_id", inv.ID))
			continue
		}

		balance := inv.AmountCents - inv.AllocatedCents
		s.dispatch(ctx, notify.Notification{
			Kind:        notify.KindReminder,
			TenantID:    principal.TenantID,
			MemberID:    member.ID,
			InvoiceID:   inv.ID,
			AmountCents: balance,
			Currency:    inv.Currency,
			Meta: map[string]string{
				"invoice_number": inv.Number,
				"member_email":   member.Email,
			},
		})
		s.audit(ctx, principal, audit.ActionReminderSent, inv.ID, balance)
		result.Sent++
	}

	s.metrics.CountReminders(result.Sent)
	return result, nil
}
