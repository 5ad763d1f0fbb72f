package methods

import (
	"context"
	"errors"
	"time"

	"github.com/clubledger/clubledger/internal/billing"
	"github.com/clubledger/clubledger/internal/shared"
)

// RepositoryPort defines data access methods for payment methods.
type RepositoryPort interface {
	// Save inserts the method, electing it default when the member has no
	// other method, atomically against concurrent saves.
	Save(ctx context.Context, method *PaymentMethod) (*PaymentMethod, error)
	Get(ctx context.Context, tenantID, memberID, methodID int64) (*PaymentMethod, error)
	List(ctx context.Context, tenantID, memberID int64) ([]PaymentMethod, error)
	Deactivate(ctx context.Context, tenantID, memberID, methodID int64) error
}

// Service handles payment method business logic.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Save validates and tokenizes a card, then stores the resulting method.
// Card validation and tokenization reuse the charge path's rules so a card
// storable here is always chargeable there.
func (s *Service) Save(ctx context.Context, principal shared.Principal, req SaveMethodRequest) (*PaymentMethod, error) {
	card := &billing.OneTimeCard{
		Number:   req.Number,
		ExpMonth: req.ExpMonth,
		ExpYear:  req.ExpYear,
		CVC:      req.CVC,
		Holder:   req.Holder,
	}
	if err := billing.ValidateCard(card, s.now()); err != nil {
		return nil, err
	}

	instrument := billing.Tokenize(card)
	return s.repo.Save(ctx, &PaymentMethod{
		TenantID:    principal.TenantID,
		MemberID:    principal.MemberID,
		Token:       instrument.Token,
		Brand:       instrument.Brand,
		Last4:       instrument.Last4,
		ExpMonth:    instrument.ExpMonth,
		ExpYear:     instrument.ExpYear,
		Fingerprint: instrument.Fingerprint,
		Status:      MethodActive,
	})
}

// List returns the member's methods.
func (s *Service) List(ctx context.Context, principal shared.Principal) ([]PaymentMethod, error) {
	return s.repo.List(ctx, principal.TenantID, principal.MemberID)
}

// Deactivate marks a method INACTIVE. Methods are never deleted: payments
// reference them.
func (s *Service) Deactivate(ctx context.Context, principal shared.Principal, methodID int64) error {
	err := s.repo.Deactivate(ctx, principal.TenantID, principal.MemberID, methodID)
	if errors.Is(err, billing.ErrNoRecord) {
		return shared.NewError(shared.CodeNotFound, "payment method not found")
	}
	return err
}

// GetActiveMethod implements billing.MethodPort: the charge path resolves a
// stored instrument through here. Cross-tenant and cross-member lookups
// fall out as ErrNoRecord, which the charge path reports as NOT_FOUND.
func (s *Service) GetActiveMethod(ctx context.Context, tenantID, memberID, methodID int64) (*billing.StoredMethod, error) {
	method, err := s.repo.Get(ctx, tenantID, memberID, methodID)
	if err != nil {
		return nil, err
	}
	if method.Status != MethodActive {
		return nil, billing.ErrNoRecord
	}
	return &billing.StoredMethod{
		ID:       method.ID,
		TenantID: method.TenantID,
		MemberID: method.MemberID,
		Token:    method.Token,
		Brand:    method.Brand,
		Last4:    method.Last4,
	}, nil
}
