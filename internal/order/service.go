package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists orders. Update must run fn under a lock scoped to the
// single order and persist the result only when fn reports a change.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	Update(ctx context.Context, id uuid.UUID, fn func(o *Order) (bool, error)) (*Order, error)
}

type ListFilter struct {
	CustomerID *uuid.UUID
	Status     Status
	Limit      int
}

type Service struct {
	repo     Repository
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

func NewService(repo Repository, defaultCurrency string, logger *slog.Logger) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "lkr"
	}
	return &Service{
		repo:     repo,
		logger:   logger,
		currency: strings.ToLower(defaultCurrency),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, d Draft) (*Order, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.PaymentMethod == "" {
		d.PaymentMethod = MethodCreditCard
	}
	currency := strings.ToLower(strings.TrimSpace(d.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.now()
	o := &Order{
		ID:              uuid.New(),
		CustomerID:      d.CustomerID,
		Items:           append([]Item(nil), d.Items...),
		Subtotal:        d.Subtotal,
		Tax:             d.Tax,
		Shipping:        d.Shipping,
		Discount:        d.Discount,
		Total:           d.Total,
		Currency:        currency,
		Status:          StatusPending,
		PaymentMethod:   d.PaymentMethod,
		ContactName:     d.ContactName,
		ContactEmail:    d.ContactEmail,
		ContactPhone:    d.ContactPhone,
		ShippingAddress: d.ShippingAddress,
		BillingAddress:  d.BillingAddress,
		Notes:           d.Notes,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created", "order_id", o.ID, "total", o.Total.String(), "currency", o.Currency)
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

// UpdateShippingInfo merges delivery metadata into the order. Status and
// payment data are never touched.
func (s *Service) UpdateShippingInfo(ctx context.Context, id uuid.UUID, u ShippingUpdate) (*Order, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, id, func(o *Order) (bool, error) {
		if !u.merge(o) {
			return false, nil
		}
		o.UpdatedAt = s.now()
		return true, nil
	})
}

// UpdateStatus is the administrative status change. It obeys the same
// transition table as gateway events.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, invalid("status", "unknown status %q", to)
	}
	o, err := s.repo.Update(ctx, id, func(o *Order) (bool, error) {
		if err := CheckTransition(o.Status, to); err != nil {
			return false, err
		}
		if o.Status == to {
			return false, nil
		}
		o.Status = to
		o.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order status updated", "order_id", id, "status", o.Status)
	return o, nil
}

// ApplyTransition applies a gateway transition under the per-order lock. The
// boolean result is false when the transition had already been applied, in
// which case the stored order is returned unchanged.
func (s *Service) ApplyTransition(ctx context.Context, id uuid.UUID, t Transition) (*Order, bool, error) {
	applied := false
	o, err := s.repo.Update(ctx, id, func(o *Order) (bool, error) {
		if o.Payment.Applied(t.Kind, t.CorrelationID) {
			return false, nil
		}
		if err := t.apply(o, s.now()); err != nil {
			return false, err
		}
		applied = true
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.logger.Info("order transition applied",
			"order_id", id,
			"kind", t.Kind,
			"correlation_id", t.CorrelationID,
			"status", o.Status,
		)
	}
	return o, applied, nil
}

// AttachIntent records a newly created payment intent. It only succeeds when
// the order still references expectedCurrent, so two writers racing on the
// same order cannot both attach an intent.
func (s *Service) AttachIntent(ctx context.Context, id uuid.UUID, expectedCurrent string, ref IntentRef) (*Order, error) {
	return s.repo.Update(ctx, id, func(o *Order) (bool, error) {
		if o.Payment.IntentID == ref.ID {
			return false, nil
		}
		if o.Status != StatusPending || o.Payment.Completed {
			return false, fmt.Errorf("%w: cannot attach intent to %s order", ErrIllegalTransition, o.Status)
		}
		if o.Payment.IntentID != expectedCurrent {
			return false, ErrIntentActive
		}
		created := ref.CreatedAt
		o.Payment.IntentID = ref.ID
		o.Payment.IntentStatus = ref.Status
		o.Payment.IntentCreatedAt = &created
		if ref.Attempt > o.Payment.IntentAttempts {
			o.Payment.IntentAttempts = ref.Attempt
		}
		o.UpdatedAt = s.now()
		return true, nil
	})
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
