package paymentmethod

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository stores saved methods. Every call is scoped to one user, and
// storing a method flagged as default clears the flag on the user's others.
type Repository interface {
	Create(ctx context.Context, m *Method) error
	Get(ctx context.Context, userID, id uuid.UUID) (*Method, error)
	List(ctx context.Context, userID uuid.UUID) ([]Method, error)
	Update(ctx context.Context, userID, id uuid.UUID, fn func(m *Method) error) (*Method, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Add(ctx context.Context, userID uuid.UUID, d Draft) (*Method, error) {
	now := s.now()
	d.GatewayMethodID = strings.TrimSpace(d.GatewayMethodID)
	d.Brand = Brand(strings.ToLower(string(d.Brand)))
	if err := d.validate(now); err != nil {
		return nil, err
	}

	m := &Method{
		ID:              uuid.New(),
		UserID:          userID,
		GatewayMethodID: d.GatewayMethodID,
		Brand:           d.Brand,
		Last4:           d.Last4,
		ExpMonth:        d.ExpMonth,
		ExpYear:         d.ExpYear,
		Billing:         d.Billing,
		IsDefault:       d.IsDefault,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("payment method added", "user_id", userID, "payment_method_id", m.ID, "brand", m.Brand)
	return m, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*Method, error) {
	return s.repo.Get(ctx, userID, id)
}

// List returns the default method first, then the rest newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]Method, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) Default(ctx context.Context, userID uuid.UUID) (*Method, error) {
	methods, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 || !methods[0].IsDefault {
		return nil, ErrNotFound
	}
	return &methods[0], nil
}

func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, u Update) (*Method, error) {
	if u.Billing != nil {
		if err := u.Billing.validate(); err != nil {
			return nil, err
		}
	}
	return s.repo.Update(ctx, userID, id, func(m *Method) error {
		if u.Billing != nil {
			m.Billing = *u.Billing
		}
		if u.IsDefault != nil {
			m.IsDefault = *u.IsDefault
		}
		m.UpdatedAt = s.now()
		return nil
	})
}

func (s *Service) SetDefault(ctx context.Context, userID, id uuid.UUID) (*Method, error) {
	yes := true
	return s.Update(ctx, userID, id, Update{IsDefault: &yes})
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("payment method deleted", "user_id", userID, "payment_method_id", id)
	return nil
}
