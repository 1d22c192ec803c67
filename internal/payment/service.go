package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"gozon/checkout-service/internal/gateway"
	"gozon/checkout-service/internal/order"
)

var (
	ErrNotPayable     = errors.New("order is not payable")
	ErrAmountMismatch = errors.New("amount does not match order")
)

type Orders interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	AttachIntent(ctx context.Context, id uuid.UUID, expectedCurrent string, ref order.IntentRef) (*order.Order, error)
}

type Options struct {
	// IntentTTL bounds how long an attached, unpaid intent is handed out
	// again instead of creating a new one.
	IntentTTL time.Duration
	// CallTimeout bounds intent creation, which is detached from the caller.
	CallTimeout time.Duration
}

type Service struct {
	orders  Orders
	gateway gateway.Client
	group   singleflight.Group
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(orders Orders, gw gateway.Client, opts Options, logger *slog.Logger) *Service {
	if opts.IntentTTL <= 0 {
		opts.IntentTTL = 24 * time.Hour
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	return &Service{
		orders:  orders,
		gateway: gw,
		ttl:     opts.IntentTTL,
		timeout: opts.CallTimeout,
		logger:  logger,
		now:     time.Now,
	}
}

type IntentParams struct {
	OrderID uuid.UUID
	// Amount and Currency are optional; when given they must match the order.
	Amount   *decimal.Decimal
	Currency string
}

// CreateIntent returns the payment intent for an order, creating it at the
// gateway only when the order has no live intent. Concurrent calls for the
// same order share one creation. The creation keeps running when the caller
// goes away, so the order never ends up pointing at an intent it did not
// record.
func (s *Service) CreateIntent(ctx context.Context, p IntentParams) (*gateway.Intent, error) {
	o, err := s.orders.Get(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(o); err != nil {
		return nil, err
	}
	if p.Amount != nil && !p.Amount.Equal(o.Total) {
		return nil, fmt.Errorf("%w: got %s, order total is %s", ErrAmountMismatch, p.Amount.String(), o.Total.String())
	}
	if p.Currency != "" && !strings.EqualFold(p.Currency, o.Currency) {
		return nil, fmt.Errorf("%w: got currency %s, order currency is %s", ErrAmountMismatch, p.Currency, o.Currency)
	}

	ch := s.group.DoChan(p.OrderID.String(), func() (any, error) {
		return s.ensureIntent(p.OrderID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gateway.Intent), nil
	}
}

func (s *Service) ensureIntent(orderID uuid.UUID) (*gateway.Intent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(o); err != nil {
		return nil, err
	}

	current := o.Payment.IntentID
	if current != "" && s.live(o.Payment) {
		intent, err := s.gateway.RetrieveIntent(ctx, current)
		switch {
		case err == nil && !intent.Status.Terminal():
			return intent, nil
		case err == nil && intent.Status == gateway.IntentSucceeded:
			return nil, fmt.Errorf("%w: intent %s already succeeded", ErrNotPayable, current)
		case err != nil && !errors.Is(err, gateway.ErrNotFound):
			return nil, err
		}
	}

	attempt := o.Payment.IntentAttempts + 1
	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		OrderID:  o.ID,
		Total:    o.Total,
		Currency: o.Currency,
		Attempt:  attempt,
	})
	if err != nil {
		return nil, err
	}

	created := intent.Created
	if created.IsZero() {
		created = s.now().UTC()
	}
	_, err = s.orders.AttachIntent(ctx, o.ID, current, order.IntentRef{
		ID:        intent.ID,
		Status:    string(intent.Status),
		CreatedAt: created,
		Attempt:   attempt,
	})
	if errors.Is(err, order.ErrIntentActive) {
		return s.attached(ctx, o.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("attach intent %s: %w", intent.ID, err)
	}

	s.logger.Info("payment intent created",
		"order_id", o.ID,
		"intent_id", intent.ID,
		"attempt", attempt,
		"amount", intent.Amount,
		"currency", intent.Currency,
	)
	return intent, nil
}

// attached returns the intent another writer recorded first.
func (s *Service) attached(ctx context.Context, orderID uuid.UUID) (*gateway.Intent, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment intent attached concurrently", "order_id", orderID, "intent_id", o.Payment.IntentID)
	return s.gateway.RetrieveIntent(ctx, o.Payment.IntentID)
}

func (s *Service) live(p order.Payment) bool {
	if p.IntentCreatedAt == nil {
		return true
	}
	return s.now().Sub(*p.IntentCreatedAt) < s.ttl
}

func checkPayable(o *order.Order) error {
	if o.Payment.Completed {
		return fmt.Errorf("%w: order %s is already paid", ErrNotPayable, o.ID)
	}
	if o.Status != order.StatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrNotPayable, o.ID, o.Status)
	}
	return nil
}

func (s *Service) IntentStatus(ctx context.Context, intentID string) (*gateway.Intent, error) {
	return s.gateway.RetrieveIntent(ctx, intentID)
}

type RefundParams struct {
	IntentID string
	// Amount in major units; nil, or an amount at or above the captured
	// amount, refunds the whole intent.
	Amount *decimal.Decimal
}

// Refund asks the gateway for a refund. The order changes state only when
// the gateway confirms the refund by webhook.
func (s *Service) Refund(ctx context.Context, p RefundParams) (*gateway.Refund, error) {
	intent, err := s.gateway.RetrieveIntent(ctx, p.IntentID)
	if err != nil {
		return nil, err
	}

	var amount *int64
	if p.Amount != nil {
		minor := gateway.MinorUnits(*p.Amount, intent.Currency)
		if minor <= 0 {
			return nil, fmt.Errorf("%w: refund of %s must be positive", gateway.ErrInvalidAmount, p.Amount.String())
		}
		// Anything at or above the captured amount is a full refund.
		if minor < intent.Amount {
			amount = &minor
		}
	}

	refund, err := s.gateway.Refund(ctx, p.IntentID, amount)
	if err != nil {
		return nil, err
	}
	s.logger.Info("refund requested",
		"intent_id", p.IntentID,
		"order_id", intent.OrderID,
		"refund_id", refund.ID,
		"amount", refund.Amount,
	)
	return refund, nil
}
