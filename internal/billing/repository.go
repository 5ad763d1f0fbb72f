package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubledger/clubledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the ledger.
// All mutual exclusion lives here: conditional writes and unique
// constraints, never in-process locks.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const invoiceColumns = `
	i.id, i.tenant_id, i.member_id, i.number, i.amount_cents, i.currency,
	i.source, i.status, i.description, i.event_id, i.period_key,
	i.issued_at, i.due_at, i.paid_at, i.reminder_sent_at, i.reminder_count,
	i.created_at, i.updated_at`

const settledJoin = `
	LEFT JOIN LATERAL (
		SELECT COALESCE(SUM(a.amount_cents), 0) AS settled_cents
		FROM allocations a
		JOIN payments p ON p.id = a.payment_id
		WHERE a.invoice_id = i.id AND p.status = 'SUCCEEDED'
	) s ON TRUE`

// GetInvoice retrieves an invoice with its settled allocation total.
func (r *Repository) GetInvoice(ctx context.Context, tenantID, invoiceID int64) (*InvoiceWithBalance, error) {
	query := `SELECT` + invoiceColumns + `, s.settled_cents
		FROM invoices i` + settledJoin + `
		WHERE i.tenant_id = $1 AND i.id = $2`

	row := r.pool.QueryRow(ctx, query, tenantID, invoiceID)
	inv, err := scanInvoiceWithBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	return inv, err
}

// ListInvoices returns invoices with settled totals, filtered and tenant scoped.
func (r *Repository) ListInvoices(ctx context.Context, tenantID int64, req ListInvoicesRequest) ([]InvoiceWithBalance, error) {
	query := `SELECT` + invoiceColumns + `, s.settled_cents
		FROM invoices i` + settledJoin + `
		WHERE i.tenant_id = $1`

	args := []any{tenantID}
	argNum := 2

	if req.MemberID > 0 {
		query += fmt.Sprintf(" AND i.member_id = $%d", argNum)
		args = append(args, req.MemberID)
		argNum++
	}
	if req.Status != "" {
		query += fmt.Sprintf(" AND i.status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}
	if req.Source != "" {
		query += fmt.Sprintf(" AND i.source = $%d", argNum)
		args = append(args, string(req.Source))
		argNum++
	}
	if !req.From.IsZero() {
		query += fmt.Sprintf(" AND i.issued_at >= $%d", argNum)
		args = append(args, req.From)
		argNum++
	}
	if !req.To.IsZero() {
		query += fmt.Sprintf(" AND i.issued_at <= $%d", argNum)
		args = append(args, req.To)
		argNum++
	}

	query += " ORDER BY i.issued_at DESC, i.id DESC"

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
		argNum++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, req.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []InvoiceWithBalance
	for rows.Next() {
		inv, err := scanInvoiceWithBalance(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// CreateInvoice inserts a new invoice, assigning its number from the
// per-(tenant, year, source) sequence inside the same transaction.
func (r *Repository) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	var inv *Invoice
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		inv, err = insertInvoice(ctx, tx, input)
		return err
	})
	return inv, err
}

// GetMember loads the engine's member read model.
func (r *Repository) GetMember(ctx context.Context, tenantID, memberID int64) (*Member, error) {
	query := `
		SELECT id, tenant_id, name, email, active, dues_price_cents, currency
		FROM members
		WHERE tenant_id = $1 AND id = $2`

	var m Member
	var price pgtype.Int8
	err := r.pool.QueryRow(ctx, query, tenantID, memberID).Scan(
		&m.ID, &m.TenantID, &m.Name, &m.Email, &m.Active, &price, &m.Currency,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	if price.Valid {
		m.DuesPriceCents = &price.Int64
	}
	return &m, nil
}

// FindPaymentByIdempotencyKey returns the payment previously recorded for
// the key, scoped to tenant and member.
func (r *Repository) FindPaymentByIdempotencyKey(ctx context.Context, tenantID, memberID int64, key string) (*Payment, error) {
	query := `
		SELECT id, tenant_id, member_id, invoice_id, amount_cents, currency,
			status, reference, payment_method_id, idempotency_key, processed_at, created_at
		FROM payments
		WHERE tenant_id = $1 AND member_id = $2 AND idempotency_key = $3`

	p, err := scanPayment(r.pool.QueryRow(ctx, query, tenantID, memberID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	return p, err
}

// SettleCharge applies payment, allocation, and invoice status update as
// one atomic unit. The invoice row is locked for the duration, the
// remaining balance is re-derived from allocations under that lock, and a
// duplicate idempotency key aborts with ErrDuplicateKey so the caller can
// replay the winner's result.
func (r *Repository) SettleCharge(ctx context.Context, input SettleChargeInput) (*SettleChargeOutput, error) {
	var out *SettleChargeOutput
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var amountCents int64
		var status InvoiceStatus
		var dueAt pgtype.Timestamptz
		err := tx.QueryRow(ctx, `
			SELECT amount_cents, status, due_at
			FROM invoices
			WHERE tenant_id = $1 AND id = $2
			FOR UPDATE`,
			input.TenantID, input.InvoiceID,
		).Scan(&amountCents, &status, &dueAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoRecord
		}
		if err != nil {
			return err
		}

		switch status {
		case StatusPaid, StatusVoid, StatusFailed:
			return ErrStaleInvoice
		}

		var settled int64
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(SUM(a.amount_cents), 0)
			FROM allocations a
			JOIN payments p ON p.id = a.payment_id
			WHERE a.invoice_id = $1 AND p.status = 'SUCCEEDED'`,
			input.InvoiceID,
		).Scan(&settled); err != nil {
			return err
		}
		if settled+input.AmountCents > amountCents {
			return ErrStaleInvoice
		}

		var key pgtype.Text
		if input.IdempotencyKey != "" {
			key = pgtype.Text{String: input.IdempotencyKey, Valid: true}
		}
		var methodID pgtype.Int8
		if input.PaymentMethodID != nil {
			methodID = pgtype.Int8{Int64: *input.PaymentMethodID, Valid: true}
		}

		payment := &Payment{
			TenantID:        input.TenantID,
			MemberID:        input.MemberID,
			InvoiceID:       input.InvoiceID,
			AmountCents:     input.AmountCents,
			Currency:        input.Currency,
			Status:          PaymentSucceeded,
			Reference:       input.Reference,
			PaymentMethodID: input.PaymentMethodID,
			IdempotencyKey:  input.IdempotencyKey,
			ProcessedAt:     input.ProcessedAt,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO payments (
				tenant_id, member_id, invoice_id, amount_cents, currency,
				status, reference, payment_method_id, idempotency_key, processed_at, created_at
			) VALUES ($1, $2, $3, $4, $5, 'SUCCEEDED', $6, $7, $8, $9, NOW())
			RETURNING id, created_at`,
			input.TenantID, input.MemberID, input.InvoiceID, input.AmountCents,
			input.Currency, input.Reference, methodID, key, input.ProcessedAt,
		).Scan(&payment.ID, &payment.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicateKey
			}
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO allocations (tenant_id, invoice_id, payment_id, amount_cents, created_at)
			VALUES ($1, $2, $3, $4, NOW())`,
			input.TenantID, input.InvoiceID, payment.ID, input.AmountCents,
		); err != nil {
			return err
		}

		newSettled := settled + input.AmountCents
		newStatus := StatusPartiallyPaid
		var paidAt pgtype.Timestamptz
		if newSettled >= amountCents {
			newStatus = StatusPaid
			paidAt = pgtype.Timestamptz{Time: input.ProcessedAt, Valid: true}
		}
		if _, err := tx.Exec(ctx, `
			UPDATE invoices
			SET status = $3, paid_at = COALESCE($4, paid_at), updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2`,
			input.TenantID, input.InvoiceID, string(newStatus), paidAt,
		); err != nil {
			return err
		}

		out = &SettleChargeOutput{
			Payment:       payment,
			InvoiceStatus: newStatus,
			BalanceCents:  amountCents - newSettled,
		}
		return nil
	})
	return out, err
}

// ListActiveMembersWithDues returns the dues-run cohort: active members,
// price column included so the service can skip members without one.
func (r *Repository) ListActiveMembersWithDues(ctx context.Context, tenantID int64) ([]Member, error) {
	query := `
		SELECT id, tenant_id, name, email, active, dues_price_cents, currency
		FROM members
		WHERE tenant_id = $1 AND active
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var price pgtype.Int8
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Email, &m.Active, &price, &m.Currency); err != nil {
			return nil, err
		}
		if price.Valid {
			m.DuesPriceCents = &price.Int64
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateDuesInvoice inserts a dues invoice guarded by the partial unique
// index on (tenant_id, member_id, period_key). A concurrent or repeated
// run hits the conflict and reports created=false.
func (r *Repository) CreateDuesInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, bool, error) {
	var inv *Invoice
	created := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		number, err := nextInvoiceNumber(ctx, tx, input.TenantID, input.IssuedAt.Year(), input.Source)
		if err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO invoices (
				tenant_id, member_id, number, amount_cents, currency, source,
				status, description, period_key, issued_at, due_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
			ON CONFLICT (tenant_id, member_id, period_key) WHERE source = 'DUES' DO NOTHING
			RETURNING id, created_at, updated_at`,
			input.TenantID, input.MemberID, number, input.AmountCents, input.Currency,
			string(input.Source), string(input.Status), input.Description,
			input.PeriodKey, input.IssuedAt, nullableTime(input.DueAt),
		)

		result := invoiceFromInput(input, number)
		if err := row.Scan(&result.ID, &result.CreatedAt, &result.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Another run already holds this period; benign skip.
				return nil
			}
			return err
		}
		inv = result
		created = true
		return nil
	})
	return inv, created, err
}

// GetEvent loads the engine-facing event slice.
func (r *Repository) GetEvent(ctx context.Context, tenantID, eventID int64) (*Event, error) {
	var e Event
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, price_cents, currency
		FROM events
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, eventID,
	).Scan(&e.ID, &e.TenantID, &e.Name, &e.PriceCents, &e.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetRegistration loads one registration.
func (r *Repository) GetRegistration(ctx context.Context, tenantID, registrationID int64) (*Registration, error) {
	var reg Registration
	var invoiceID pgtype.Int8
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, event_id, member_id, invoice_id
		FROM event_registrations
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, registrationID,
	).Scan(&reg.ID, &reg.TenantID, &reg.EventID, &reg.MemberID, &invoiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	if invoiceID.Valid {
		reg.InvoiceID = &invoiceID.Int64
	}
	return &reg, nil
}

// ListUninvoicedRegistrations returns registrations of the event that do
// not yet link an invoice.
func (r *Repository) ListUninvoicedRegistrations(ctx context.Context, tenantID, eventID int64) ([]Registration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, event_id, member_id, invoice_id
		FROM event_registrations
		WHERE tenant_id = $1 AND event_id = $2 AND invoice_id IS NULL
		ORDER BY id`,
		tenantID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		var reg Registration
		var invoiceID pgtype.Int8
		if err := rows.Scan(&reg.ID, &reg.TenantID, &reg.EventID, &reg.MemberID, &invoiceID); err != nil {
			return nil, err
		}
		if invoiceID.Valid {
			reg.InvoiceID = &invoiceID.Int64
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// CreateEventInvoice inserts an invoice for one registration. The
// registration row is locked and re-checked inside the transaction; a
// registration invoiced in the meantime comes back as the existing invoice
// with created=false.
func (r *Repository) CreateEventInvoice(ctx context.Context, input CreateInvoiceInput, registrationID int64) (*Invoice, bool, error) {
	var inv *Invoice
	created := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var existing pgtype.Int8
		err := tx.QueryRow(ctx, `
			SELECT invoice_id
			FROM event_registrations
			WHERE tenant_id = $1 AND id = $2
			FOR UPDATE`,
			input.TenantID, registrationID,
		).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoRecord
		}
		if err != nil {
			return err
		}

		if existing.Valid {
			// Another admin action invoiced this registration first.
			row := tx.QueryRow(ctx, `SELECT`+invoiceColumns+`, s.settled_cents
				FROM invoices i`+settledJoin+`
				WHERE i.tenant_id = $1 AND i.id = $2`,
				input.TenantID, existing.Int64)
			withBalance, err := scanInvoiceWithBalance(row)
			if err != nil {
				return err
			}
			inv = &withBalance.Invoice
			return nil
		}

		inv, err = insertInvoice(ctx, tx, input)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE event_registrations
			SET invoice_id = $3
			WHERE tenant_id = $1 AND id = $2 AND invoice_id IS NULL`,
			input.TenantID, registrationID, inv.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStaleInvoice
		}
		created = true
		return nil
	})
	return inv, created, err
}

// ListReminderCandidates returns invoices that are past due, not settled by
// stored status, and never reminded. The service recomputes status before
// sending.
func (r *Repository) ListReminderCandidates(ctx context.Context, tenantID int64, now time.Time) ([]InvoiceWithBalance, error) {
	query := `SELECT` + invoiceColumns + `, s.settled_cents
		FROM invoices i` + settledJoin + `
		WHERE i.tenant_id = $1
		  AND i.status IN ('ISSUED', 'PARTIALLY_PAID', 'OVERDUE')
		  AND i.due_at IS NOT NULL AND i.due_at < $2
		  AND i.reminder_sent_at IS NULL
		ORDER BY i.due_at`

	rows, err := r.pool.Query(ctx, query, tenantID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []InvoiceWithBalance
	for rows.Next() {
		inv, err := scanInvoiceWithBalance(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// ClaimReminder atomically marks the invoice reminded. Returns false when
// another run claimed it first.
func (r *Repository) ClaimReminder(ctx context.Context, tenantID, invoiceID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET reminder_sent_at = NOW(), reminder_count = reminder_count + 1, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND reminder_sent_at IS NULL`,
		tenantID, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListTenantIDs enumerates tenants, used by scheduled sweeps.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Helpers ---

func insertInvoice(ctx context.Context, tx pgx.Tx, input CreateInvoiceInput) (*Invoice, error) {
	number, err := nextInvoiceNumber(ctx, tx, input.TenantID, input.IssuedAt.Year(), input.Source)
	if err != nil {
		return nil, err
	}

	inv := invoiceFromInput(input, number)
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (
			tenant_id, member_id, number, amount_cents, currency, source,
			status, description, event_id, period_key, issued_at, due_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		input.TenantID, input.MemberID, number, input.AmountCents, input.Currency,
		string(input.Source), string(input.Status), input.Description,
		nullableID(input.EventID), nullableText(input.PeriodKey),
		input.IssuedAt, nullableTime(input.DueAt),
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// nextInvoiceNumber advances the (tenant, year, source) sequence and renders
// the number. The upsert increments atomically, so SEQ never regresses;
// gaps from rolled-back inserts are acceptable.
func nextInvoiceNumber(ctx context.Context, tx pgx.Tx, tenantID int64, year int, source InvoiceSource) (string, error) {
	var slug string
	err := tx.QueryRow(ctx, `SELECT slug FROM tenants WHERE id = $1`, tenantID).Scan(&slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoRecord
	}
	if err != nil {
		return "", err
	}

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (tenant_id, year, source, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, year, source)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value`,
		tenantID, year, string(source),
	).Scan(&seq)
	if err != nil {
		return "", err
	}

	return FormatInvoiceNumber(slug, year, source, seq), nil
}

func invoiceFromInput(input CreateInvoiceInput, number string) *Invoice {
	return &Invoice{
		TenantID:    input.TenantID,
		MemberID:    input.MemberID,
		Number:      number,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Source:      input.Source,
		Status:      input.Status,
		Description: input.Description,
		EventID:     input.EventID,
		PeriodKey:   input.PeriodKey,
		IssuedAt:    input.IssuedAt,
		DueAt:       input.DueAt,
	}
}

func scanInvoiceWithBalance(row pgx.Row) (*InvoiceWithBalance, error) {
	var inv InvoiceWithBalance
	var eventID pgtype.Int8
	var periodKey pgtype.Text
	var dueAt, paidAt, reminderSentAt pgtype.Timestamptz

	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.MemberID, &inv.Number, &inv.AmountCents, &inv.Currency,
		&inv.Source, &inv.Status, &inv.Description, &eventID, &periodKey,
		&inv.IssuedAt, &dueAt, &paidAt, &reminderSentAt, &inv.ReminderCount,
		&inv.CreatedAt, &inv.UpdatedAt,
		&inv.AllocatedCents,
	)
	if err != nil {
		return nil, err
	}

	if eventID.Valid {
		inv.EventID = &eventID.Int64
	}
	if periodKey.Valid {
		inv.PeriodKey = periodKey.String
	}
	if dueAt.Valid {
		inv.DueAt = &dueAt.Time
	}
	if paidAt.Valid {
		inv.PaidAt = &paidAt.Time
	}
	if reminderSentAt.Valid {
		inv.ReminderSentAt = &reminderSentAt.Time
	}
	return &inv, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var methodID pgtype.Int8
	var key pgtype.Text
	err := row.Scan(
		&p.ID, &p.TenantID, &p.MemberID, &p.InvoiceID, &p.AmountCents, &p.Currency,
		&p.Status, &p.Reference, &methodID, &key, &p.ProcessedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if methodID.Valid {
		p.PaymentMethodID = &methodID.Int64
	}
	if key.Valid {
		p.IdempotencyKey = key.String
	}
	return &p, nil
}

func nullableID(id *int64) pgtype.Int8 {
	if id == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *id, Valid: true}
}

func nullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func nullableTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
