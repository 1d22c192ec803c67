package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"gozon/checkout-service/internal/order"
	"gozon/checkout-service/internal/webhook"
)

// Outcome tells the webhook endpoint that the event was consumed. Both values
// are acknowledged to the gateway.
type Outcome int

const (
	Ack Outcome = iota
	Ignored
)

func (o Outcome) String() string {
	if o == Ignored {
		return "ignored"
	}
	return "ack"
}

type Orders interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, t order.Transition) (*order.Order, bool, error)
}

// Processor turns verified gateway events into order transitions.
type Processor struct {
	orders Orders
	logger *slog.Logger
}

func NewProcessor(orders Orders, logger *slog.Logger) *Processor {
	return &Processor{
		orders: orders,
		logger: logger,
	}
}

// Process applies evt to the order it references. A returned error means the
// event should be redelivered; everything else is acknowledged.
func (p *Processor) Process(ctx context.Context, evt *webhook.Event) (Outcome, error) {
	log := p.logger.With("event_id", evt.ID, "event_type", evt.Type)

	t, ok := transitionFor(evt)
	if !ok {
		log.Info("ignoring unhandled gateway event")
		return Ignored, nil
	}

	rawOrderID := evt.Object.OrderID()
	orderID, err := uuid.Parse(rawOrderID)
	if err != nil {
		log.Warn("gateway event has no usable order id", "order_id", rawOrderID)
		return Ignored, nil
	}
	log = log.With("order_id", orderID)

	if t.CorrelationID == "" {
		log.Warn("gateway event has no correlation id")
		return Ignored, nil
	}

	current, err := p.orders.Get(ctx, orderID)
	if err != nil {
		if order.IsNotFound(err) {
			log.Warn("gateway event references unknown order")
			return Ack, nil
		}
		return Ack, err
	}
	if current.Payment.Applied(t.Kind, t.CorrelationID) {
		log.Info("gateway event already applied", "correlation_id", t.CorrelationID)
		return Ack, nil
	}

	_, applied, err := p.orders.ApplyTransition(ctx, orderID, t)
	switch {
	case err == nil:
	case errors.Is(err, order.ErrIllegalTransition):
		log.Warn("gateway event does not fit order state", "status", current.Status, "err", err)
		return Ignored, nil
	case order.IsNotFound(err):
		log.Warn("order disappeared while applying gateway event")
		return Ack, nil
	default:
		return Ack, err
	}
	if !applied {
		log.Info("gateway event applied concurrently", "correlation_id", t.CorrelationID)
	}
	return Ack, nil
}

func transitionFor(evt *webhook.Event) (order.Transition, bool) {
	obj := evt.Object
	t := order.Transition{EventID: evt.ID}

	switch evt.Kind {
	case webhook.KindIntentSucceeded:
		t.Kind = order.KindPaymentSucceeded
		t.IntentID = obj.IntentID
		t.CorrelationID = obj.IntentID
		t.CardBrand = obj.CardBrand
		t.Last4 = obj.Last4
	case webhook.KindIntentFailed:
		t.Kind = order.KindPaymentFailed
		t.IntentID = obj.IntentID
		t.CorrelationID = obj.IntentID
		t.FailureReason = obj.FailureReason
	case webhook.KindChargeRefunded:
		t.Kind = order.KindRefunded
		t.IntentID = obj.IntentID
		t.RefundID = obj.RefundID
		if t.RefundID == "" {
			t.RefundID = obj.ID
		}
		t.CorrelationID = t.RefundID
	case webhook.KindDisputeCreated:
		t.Kind = order.KindDisputed
		t.IntentID = obj.IntentID
		t.DisputeID = obj.ID
		t.CorrelationID = obj.ID
	default:
		return t, false
	}
	return t, true
}
