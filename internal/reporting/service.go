package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/shared"
)

// LedgerPort is the read-side slice of the ledger the dashboards need.
type LedgerPort interface {
	ListInvoices(ctx context.Context, tenantID int64, req billing.ListInvoicesRequest) ([]billing.InvoiceWithBalance, error)
}

// SourceTotals aggregates one invoice source over a period. Amounts come
// from computed status and settled allocations, never the stored cache.
type SourceTotals struct {
	Source           billing.InvoiceSource `json:"source"`
	InvoiceCount     int                   `json:"invoice_count"`
	BilledCents      int64                 `json:"billed_cents"`
	CollectedCents   int64                 `json:"collected_cents"`
	OutstandingCents int64                 `json:"outstanding_cents"`
}

// RevenueReport is the dashboard aggregation by source and period.
type RevenueReport struct {
	Period     Period         `json:"period"`
	Sources    []SourceTotals `json:"sources"`
	TotalCents int64          `json:"total_collected_cents"`
}

// Service computes dashboard aggregates over the ledger.
type Service struct {
	ledger LedgerPort
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a Service instance.
func NewService(ledger LedgerPort, cache *Cache, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, cache: cache, logger: logger, now: time.Now}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Revenue aggregates invoices by source over the resolved period. Stored
// statuses are recomputed from allocations before bucketing so concurrent
// settlement can never misplace a row.
func (s *Service) Revenue(ctx context.Context, principal shared.Principal, req PeriodRequest) (*RevenueReport, error) {
	if !principal.Can(shared.CapViewTenantReports) {
		return nil, shared.NewError(shared.CodeForbidden, "not allowed to view tenant reports")
	}

	now := s.now()
	period, err := ResolvePeriod(req, now)
	if err != nil {
		return nil, err
	}

	cacheKey, err := s.cache.BuildKey(ctx, principal.TenantID, "revenue",
		period.From.Format(time.RFC3339), period.To.Format(time.RFC3339))
	if err == nil && cacheKey != "" {
		var cached RevenueReport
		if ok, cerr := s.cache.Get(ctx, cacheKey, &cached); cerr == nil && ok {
			return &cached, nil
		}
	}

	invoices, err := s.ledger.ListInvoices(ctx, principal.TenantID, billing.ListInvoicesRequest{
		From: period.From,
		To:   period.To,
	})
	if err != nil {
		return nil, err
	}

	bySource := map[billing.InvoiceSource]*SourceTotals{}
	report := &RevenueReport{Period: period}
	for i := range invoices {
		inv := &invoices[i]
		status := billing.ComputeStatus(&inv.Invoice, inv.AllocatedCents, now)
		if billing.ReportingStatusOf(status) == billing.ReportingCancelled {
			continue
		}

		totals, ok := bySource[inv.Source]
		if !ok {
			totals = &SourceTotals{Source: inv.Source}
			bySource[inv.Source] = totals
		}

		collected := inv.AllocatedCents
		if collected > inv.AmountCents {
			collected = inv.AmountCents
		}
		totals.InvoiceCount++
		totals.BilledCents += inv.AmountCents
		totals.CollectedCents += collected
		totals.OutstandingCents += inv.AmountCents - collected
		report.TotalCents += collected
	}

	for _, source := range []billing.InvoiceSource{billing.SourceDues, billing.SourceEvent, billing.SourceDonation, billing.SourceManual, billing.SourceOther} {
		if totals, ok := bySource[source]; ok {
			report.Sources = append(report.Sources, *totals)
		}
	}

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, report); err != nil {
			s.logger.Warn("reporting cache store failed", slog.Any("error", err), slog.String("key", cacheKey))
		}
	}
	return report, nil
}

// ResolvePeriodForTenant exposes the resolver over HTTP for dashboard
// widgets that only need the bounds.
func (s *Service) ResolvePeriodForTenant(req PeriodRequest) (Period, error) {
	return ResolvePeriod(req, s.now())
}

// Invalidate drops the tenant's cached aggregates after settlement writes.
func (s *Service) Invalidate(ctx context.Context, tenantID int64) {
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		s.logger.Warn("reporting cache bump failed", slog.Any("error", err), slog.String("tenant", fmt.Sprint(tenantID)))
	}
}
