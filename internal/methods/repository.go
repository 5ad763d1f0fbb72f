package methods

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payment methods.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts the method. Default election happens inside the transaction:
// the member's methods are locked, and the new row becomes default only when
// no other row exists, so two concurrent first saves elect exactly one.
func (r *Repository) Save(ctx context.Context, method *PaymentMethod) (*PaymentMethod, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var existing int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM (
				SELECT id
				FROM payment_methods
				WHERE tenant_id = $1 AND member_id = $2
				FOR UPDATE
			) locked`,
			method.TenantID, method.MemberID,
		).Scan(&existing); err != nil {
			return err
		}
		method.IsDefault = existing == 0

		return tx.QueryRow(ctx, `
			INSERT INTO payment_methods (
				tenant_id, member_id, token, brand, last4, exp_month, exp_year,
				fingerprint, is_default, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			method.TenantID, method.MemberID, method.Token, method.Brand, method.Last4,
			method.ExpMonth, method.ExpYear, method.Fingerprint, method.IsDefault, string(method.Status),
		).Scan(&method.ID, &method.CreatedAt, &method.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return method, nil
}

// Get retrieves one method scoped to tenant and member.
func (r *Repository) Get(ctx context.Context, tenantID, memberID, methodID int64) (*PaymentMethod, error) {
	var m PaymentMethod
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, member_id, token, brand, last4, exp_month, exp_year,
			fingerprint, is_default, status, created_at, updated_at
		FROM payment_methods
		WHERE tenant_id = $1 AND member_id = $2 AND id = $3`,
		tenantID, memberID, methodID,
	).Scan(
		&m.ID, &m.TenantID, &m.MemberID, &m.Token, &m.Brand, &m.Last4,
		&m.ExpMonth, &m.ExpYear, &m.Fingerprint, &m.IsDefault, &m.Status,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns all methods of the member, default first.
func (r *Repository) List(ctx context.Context, tenantID, memberID int64) ([]PaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, member_id, token, brand, last4, exp_month, exp_year,
			fingerprint, is_default, status, created_at, updated_at
		FROM payment_methods
		WHERE tenant_id = $1 AND member_id = $2
		ORDER BY is_default DESC, id`,
		tenantID, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []PaymentMethod
	for rows.Next() {
		var m PaymentMethod
		if err := rows.Scan(
			&m.ID, &m.TenantID, &m.MemberID, &m.Token, &m.Brand, &m.Last4,
			&m.ExpMonth, &m.ExpYear, &m.Fingerprint, &m.IsDefault, &m.Status,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// Deactivate marks a method INACTIVE.
func (r *Repository) Deactivate(ctx context.Context, tenantID, memberID, methodID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_methods
		SET status = 'INACTIVE', updated_at = NOW()
		WHERE tenant_id = $1 AND member_id = $2 AND id = $3`,
		tenantID, memberID, methodID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNoRecord
	}
	return nil
}
