package billing

import "time"

// Balance derives the outstanding balance in cents from the allocation set.
// Only allocations whose payment SUCCEEDED count; the result is clamped at
// zero so an overpaid allocation history can never surface a negative debt.
func Balance(amountCents int64, allocations []Allocation) int64 {
	remaining := amountCents - SettledTotal(allocations)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SettledTotal sums the allocations backed by succeeded payments.
func SettledTotal(allocations []Allocation) int64 {
	var total int64
	for _, a := range allocations {
		if a.PaymentStatus == PaymentSucceeded {
			total += a.AmountCents
		}
	}
	return total
}

// ComputeStatus is the authoritative status recomputation used at read
// time. The stored status column is a best-effort cache updated by the
// charge path; concurrent payments can leave it stale, so any consumer
// that reads allocations alongside an invoice goes through here.
func ComputeStatus(inv *Invoice, allocatedCents int64, now time.Time) InvoiceStatus {
	switch inv.Status {
	case StatusDraft, StatusVoid, StatusFailed:
		return inv.Status
	}
	switch {
	case allocatedCents >= inv.AmountCents:
		return StatusPaid
	case allocatedCents > 0:
		return StatusPartiallyPaid
	case inv.DueAt != nil && inv.DueAt.Before(now):
		return StatusOverdue
	default:
		return StatusIssued
	}
}

// ReportingStatusOf collapses the six-state invoice status into the three
// dashboard buckets. The mapping is total: anything unrecognised falls to
// CANCELLED so a bad status can never silently omit revenue rows.
func ReportingStatusOf(status InvoiceStatus) ReportingStatus {
	switch status {
	case StatusIssued, StatusPartiallyPaid, StatusOverdue:
		return ReportingOutstanding
	case StatusPaid:
		return ReportingPaid
	default:
		return ReportingCancelled
	}
}
