package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clubledger/clubledger/internal/notify"
	"github.com/clubledger/clubledger/internal/shared"
)

func seedOverdueInvoice(repo *memoryLedger, memberID int64) *Invoice {
	due := testNow.AddDate(0, 0, -10)
	return repo.addInvoice(Invoice{
		TenantID:    1,
		MemberID:    memberID,
		AmountCents: 5000,
		Currency:    "USD",
		Source:      SourceDues,
		Status:      StatusOverdue,
		IssuedAt:    testNow.AddDate(0, -1, 0),
		DueAt:       &due,
	})
}

func TestRemindersSentOncePerInvoice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, dispatcher := newTestService(repo)
	repo.members[10] = &Member{ID: 10, TenantID: 1, Name: "Ada", Email: "ada@example.com", Active: true}
	inv := seedOverdueInvoice(repo, 10)

	first, err := svc.RunReminders(ctx, adminPrincipal())
	require.NoError(t, err)
	require.Equal(t, 1, first.Scanned)
	require.Equal(t, 1, first.Sent)

	require.Len(t, dispatcher.sent, 1)
	note := dispatcher.sent[0]
	require.Equal(t, notify.KindReminder, note.Kind)
	require.Equal(t, inv.ID, note.InvoiceID)
	require.Equal(t, int64(5000), note.AmountCents)
	require.Equal(t, "ada@example.com", note.Meta["member_email"])

	second, err := svc.RunReminders(ctx, adminPrincipal())
	require.NoError(t, err)
	require.Equal(t, 0, second.Scanned)
	require.Equal(t, 0, second.Sent)
	require.Len(t, dispatcher.sent, 1)
	require.Equal(t, 1, repo.invoices[inv.ID].ReminderCount)
}

func TestRemindersSkipSettledInvoices(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, dispatcher := newTestService(repo)
	repo.members[10] = &Member{ID: 10, TenantID: 1, Name: "Ada", Email: "ada@example.com", Active: true}

	// Stored status still OVERDUE, but the allocations already cover it.
	inv := seedOverdueInvoice(repo, 10)
	repo.allocations[inv.ID] = append(repo.allocations[inv.ID], Allocation{
		InvoiceID: inv.ID, PaymentID: 1, AmountCents: 5000, PaymentStatus: PaymentSucceeded,
	})

	result, err := svc.RunReminders(ctx, adminPrincipal())
	require.NoError(t, err)
	require.Equal(t, 1, result.Scanned)
	require.Equal(t, 0, result.Sent)
	require.Empty(t, dispatcher.sent)
}

func TestRemindersIgnoreFutureDueDates(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, dispatcher := newTestService(repo)
	repo.members[10] = &Member{ID: 10, TenantID: 1, Name: "Ada", Email: "ada@example.com", Active: true}

	due := testNow.AddDate(0, 0, 7)
	repo.addInvoice(Invoice{
		TenantID: 1, MemberID: 10, AmountCents: 5000, Currency: "USD",
		Source: SourceDues, Status: StatusIssued, IssuedAt: testNow, DueAt: &due,
	})

	result, err := svc.RunReminders(ctx, adminPrincipal())
	require.NoError(t, err)
	require.Equal(t, 0, result.Scanned)
	require.Empty(t, dispatcher.sent)
}

func TestRemindersForbiddenForMembers(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)

	_, err := svc.RunReminders(ctx, memberPrincipal())
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeForbidden))
}
