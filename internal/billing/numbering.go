package billing

import "fmt"

// FormatInvoiceNumber renders the persisted numbering scheme
// {TENANT_SLUG}-{YEAR}-{TYPE}-{SEQ}. SEQ is strictly increasing per
// (tenant, year, type); gaps are permitted, regressions are not — the
// sequence itself is advanced atomically in the repository.
func FormatInvoiceNumber(tenantSlug string, year int, source InvoiceSource, seq int64) string {
	return fmt.Sprintf("%s-%d-%s-%04d", tenantSlug, year, source, seq)
}
