package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clubledger/clubledger/internal/audit"
	"github.com/clubledger/clubledger/internal/shared"
)

func seedDuesMembers(repo *memoryLedger) {
	price := int64(5000)
	repo.members[10] = &Member{ID: 10, TenantID: 1, Name: "Ada", Email: "ada@example.com", Active: true, DuesPriceCents: &price, Currency: "USD"}
	repo.members[11] = &Member{ID: 11, TenantID: 1, Name: "Ben", Email: "ben@example.com", Active: true, DuesPriceCents: &price, Currency: "USD"}
	repo.members[12] = &Member{ID: 12, TenantID: 1, Name: "Cal", Email: "cal@example.com", Active: true, Currency: "USD"}
}

func TestDuesRunCreatesOneInvoicePerMember(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	seedDuesMembers(repo)

	result, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)
	require.Equal(t, 1, result.Skipped) // member without a dues price
	require.Len(t, result.Invoices, 2)

	for _, id := range result.Invoices {
		inv := repo.invoices[id]
		require.Equal(t, SourceDues, inv.Source)
		require.Equal(t, StatusIssued, inv.Status)
		require.Equal(t, int64(5000), inv.AmountCents)
		require.Equal(t, PeriodKey(testNow), inv.PeriodKey)
	}
}

func TestDuesRunIsIdempotentAcrossRuns(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	seedDuesMembers(repo)

	first, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Created)

	second, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 3, second.Skipped)
	require.Len(t, repo.invoices, 2)
}

func TestDuesRunExplicitPeriodBackfill(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	seedDuesMembers(repo)

	_, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)

	// A different period is a different guard key, so new invoices appear.
	backfill, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{Period: "2026-02"})
	require.NoError(t, err)
	require.Equal(t, 2, backfill.Created)
	require.Len(t, repo.invoices, 4)
}

func TestDuesRunRecordsOneAuditEntryPerInvoice(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	auditor := &recordingAuditor{}
	svc.auditor = auditor
	seedDuesMembers(repo)

	result, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, result.Created)

	require.Len(t, auditor.entries, 2)
	for _, entry := range auditor.entries {
		require.Equal(t, audit.ActionDuesGenerated, entry.Action)
		require.Equal(t, int64(5000), entry.AmountCents)
	}
}

func TestDuesRunRejectsMalformedPeriod(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	seedDuesMembers(repo)

	for _, period := range []string{"garbage", "2026-13", "03-2026", "2026/03"} {
		_, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{Period: period})
		require.Error(t, err, period)
		require.True(t, shared.IsCode(err, shared.CodeValidationFailed), period)
	}
}

func TestDuesRunBumpsReportCacheOnlyWhenInvoicesCreated(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	reports := &recordingInvalidator{}
	svc.WithReportInvalidator(reports)
	seedDuesMembers(repo)

	first, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Created)
	require.Equal(t, []int64{1}, reports.tenants)

	// An all-skip rerun leaves revenue untouched and keeps the cache warm.
	second, err := svc.RunDuesGeneration(ctx, adminPrincipal(), DuesRunRequest{})
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, []int64{1}, reports.tenants)
}

func TestDuesRunForbiddenForMembers(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)

	_, err := svc.RunDuesGeneration(ctx, memberPrincipal(), DuesRunRequest{})
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeForbidden))
}

func TestPeriodKeyFormat(t *testing.T) {
	require.Equal(t, "2026-03", PeriodKey(testNow))
	require.Equal(t, "2025-01", PeriodKey(testNow.AddDate(-1, -2, 0)))
}

func seedEventWithRegistrations(repo *memoryLedger, priceCents int64) *Event {
	ev := &Event{ID: repo.id(), TenantID: 1, Name: "Spring Regatta", PriceCents: priceCents, Currency: "USD"}
	repo.events[ev.ID] = ev
	for _, memberID := range []int64{10, 11} {
		reg := &Registration{ID: repo.id(), TenantID: 1, EventID: ev.ID, MemberID: memberID}
		repo.registrations[reg.ID] = reg
	}
	return ev
}

func TestEventInvoicesCreatedOncePerRegistration(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	ev := seedEventWithRegistrations(repo, 7500)

	first, err := svc.GenerateEventInvoices(ctx, adminPrincipal(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, 2, first.Created)

	second, err := svc.GenerateEventInvoices(ctx, adminPrincipal(), ev.ID)
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Len(t, repo.invoices, 2)

	for _, reg := range repo.registrations {
		require.NotNil(t, reg.InvoiceID)
	}
}

func TestFreeEventCannotBeInvoiced(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	ev := seedEventWithRegistrations(repo, 0)

	_, err := svc.GenerateEventInvoices(ctx, adminPrincipal(), ev.ID)
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeValidationFailed))
	require.Empty(t, repo.invoices)
}

func TestRegistrationInvoiceReturnsExistingOnRepeat(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)
	ev := seedEventWithRegistrations(repo, 7500)

	var regID int64
	for id, reg := range repo.registrations {
		if reg.EventID == ev.ID {
			regID = id
			break
		}
	}

	inv, created, err := svc.GenerateRegistrationInvoice(ctx, adminPrincipal(), regID)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(7500), inv.AmountCents)

	again, created, err := svc.GenerateRegistrationInvoice(ctx, adminPrincipal(), regID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, inv.ID, again.ID)
	require.Len(t, repo.invoices, 1)
}

func TestRegistrationInvoiceUnknownRegistration(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryLedger()
	svc, _ := newTestService(repo)

	_, _, err := svc.GenerateRegistrationInvoice(ctx, adminPrincipal(), 404)
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeNotFound))
}
