package reporting

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/shared"
)

type fakeLedger struct {
	invoices []billing.InvoiceWithBalance
	calls    int
}

func (f *fakeLedger) ListInvoices(ctx context.Context, tenantID int64, req billing.ListInvoicesRequest) ([]billing.InvoiceWithBalance, error) {
	f.calls++
	var out []billing.InvoiceWithBalance
	for _, inv := range f.invoices {
		if inv.TenantID == tenantID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func ledgerInvoice(id int64, source billing.InvoiceSource, status billing.InvoiceStatus, amount, allocated int64) billing.InvoiceWithBalance {
	return billing.InvoiceWithBalance{
		Invoice: billing.Invoice{
			ID: id, TenantID: 1, MemberID: 10, AmountCents: amount,
			Currency: "USD", Source: source, Status: status, IssuedAt: testNow.AddDate(0, -1, 0),
		},
		AllocatedCents: allocated,
	}
}

func newReportingService(t *testing.T, ledger *fakeLedger, withRedis bool) *Service {
	t.Helper()
	var cache *Cache
	if withRedis {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache = NewCache(client, time.Minute)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(ledger, cache, logger).WithClock(func() time.Time { return testNow })
}

func reportingAdmin() shared.Principal {
	return shared.Principal{TenantID: 1, MemberID: 2, Roles: []shared.Role{shared.RoleAdmin}}
}

func TestRevenueAggregatesBySource(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{invoices: []billing.InvoiceWithBalance{
		ledgerInvoice(1, billing.SourceDues, billing.StatusIssued, 10000, 10000),
		ledgerInvoice(2, billing.SourceDues, billing.StatusIssued, 10000, 0),
		ledgerInvoice(3, billing.SourceEvent, billing.StatusIssued, 7500, 2500),
		ledgerInvoice(4, billing.SourceManual, billing.StatusVoid, 9999, 0),
	}}
	svc := newReportingService(t, ledger, false)

	report, err := svc.Revenue(ctx, reportingAdmin(), PeriodRequest{Preset: PresetAllTime})
	require.NoError(t, err)

	// The voided invoice is excluded; sources come back in a fixed order.
	require.Len(t, report.Sources, 2)
	require.Equal(t, billing.SourceDues, report.Sources[0].Source)
	require.Equal(t, 2, report.Sources[0].InvoiceCount)
	require.Equal(t, int64(20000), report.Sources[0].BilledCents)
	require.Equal(t, int64(10000), report.Sources[0].CollectedCents)
	require.Equal(t, int64(10000), report.Sources[0].OutstandingCents)

	require.Equal(t, billing.SourceEvent, report.Sources[1].Source)
	require.Equal(t, int64(2500), report.Sources[1].CollectedCents)
	require.Equal(t, int64(5000), report.Sources[1].OutstandingCents)

	require.Equal(t, int64(12500), report.TotalCents)
}

func TestRevenueClampsOverAllocation(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{invoices: []billing.InvoiceWithBalance{
		ledgerInvoice(1, billing.SourceDues, billing.StatusIssued, 5000, 9000),
	}}
	svc := newReportingService(t, ledger, false)

	report, err := svc.Revenue(ctx, reportingAdmin(), PeriodRequest{Preset: PresetAllTime})
	require.NoError(t, err)
	require.Equal(t, int64(5000), report.TotalCents)
	require.Equal(t, int64(0), report.Sources[0].OutstandingCents)
}

func TestRevenueForbiddenForMembers(t *testing.T) {
	ctx := context.Background()
	svc := newReportingService(t, &fakeLedger{}, false)

	member := shared.Principal{TenantID: 1, MemberID: 10, Roles: []shared.Role{shared.RoleMember}}
	_, err := svc.Revenue(ctx, member, PeriodRequest{Preset: PresetAllTime})
	require.Error(t, err)
	require.True(t, shared.IsCode(err, shared.CodeForbidden))
}

func TestRevenueServedFromCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	ledger := &fakeLedger{invoices: []billing.InvoiceWithBalance{
		ledgerInvoice(1, billing.SourceDues, billing.StatusIssued, 10000, 10000),
	}}
	svc := newReportingService(t, ledger, true)

	first, err := svc.Revenue(ctx, reportingAdmin(), PeriodRequest{Preset: PresetAllTime})
	require.NoError(t, err)
	require.Equal(t, 1, ledger.calls)

	// A second identical read is a cache hit and never touches the ledger.
	second, err := svc.Revenue(ctx, reportingAdmin(), PeriodRequest{Preset: PresetAllTime})
	require.NoError(t, err)
	require.Equal(t, 1, ledger.calls)
	require.Equal(t, first.TotalCents, second.TotalCents)

	svc.Invalidate(ctx, 1)

	ledger.invoices = append(ledger.invoices,
		ledgerInvoice(2, billing.SourceEvent, billing.StatusIssued, 7500, 7500))
	third, err := svc.Revenue(ctx, reportingAdmin(), PeriodRequest{Preset: PresetAllTime})
	require.NoError(t, err)
	require.Equal(t, 2, ledger.calls)
	require.Equal(t, int64(17500), third.TotalCents)
}

func TestCacheVersioning(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)

	ver, err := cache.Version(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	keyBefore, err := cache.BuildKey(ctx, 1, "revenue")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx, 1))
	keyAfter, err := cache.BuildKey(ctx, 1, "revenue")
	require.NoError(t, err)
	require.NotEqual(t, keyBefore, keyAfter)
}

func TestCacheNilSafe(t *testing.T) {
	ctx := context.Background()
	var cache *Cache

	require.NoError(t, cache.Bump(ctx, 1))
	ok, err := cache.Get(ctx, "any", &struct{}{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.Set(ctx, "any", struct{}{}))
}
