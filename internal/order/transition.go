package order

import (
	"fmt"
	"time"
)

type TransitionKind string

const (
	KindPaymentSucceeded TransitionKind = "payment_succeeded"
	KindPaymentFailed    TransitionKind = "payment_failed"
	KindRefunded         TransitionKind = "refunded"
	KindDisputed         TransitionKind = "disputed"
)

// Transition is a gateway-caused change of an order. CorrelationID is the
// gateway object the change is keyed on: the intent for payment results, the
// refund for refunds and the dispute for disputes.
type Transition struct {
	Kind          TransitionKind
	CorrelationID string
	EventID       string
	IntentID      string
	CardBrand     string
	Last4         string
	FailureReason string
	RefundID      string
	DisputeID     string
}

func (t Transition) target() (Status, error) {
	switch t.Kind {
	case KindPaymentSucceeded:
		return StatusProcessing, nil
	case KindPaymentFailed:
		return StatusPending, nil
	case KindRefunded:
		return StatusRefunded, nil
	case KindDisputed:
		return StatusDisputed, nil
	}
	return "", fmt.Errorf("unknown transition kind %q", t.Kind)
}

// apply mutates o in place. The caller guarantees the transition has not
// been applied yet and holds the per-order lock.
func (t Transition) apply(o *Order, now time.Time) error {
	if t.CorrelationID == "" {
		return invalid("correlation_id", "must not be empty")
	}
	to, err := t.target()
	if err != nil {
		return err
	}
	if err := CheckTransition(o.Status, to); err != nil {
		return err
	}

	p := &o.Payment
	if t.Kind == KindPaymentFailed && t.IntentID != "" && p.IntentID != "" && t.IntentID != p.IntentID {
		return fmt.Errorf("%w: failure for intent %s, order uses %s", ErrIllegalTransition, t.IntentID, p.IntentID)
	}
	switch t.Kind {
	case KindPaymentSucceeded:
		p.Completed = true
		p.IntentID = t.IntentID
		p.IntentStatus = "succeeded"
		p.CardBrand = t.CardBrand
		p.Last4 = t.Last4
		p.Error = ""
	case KindPaymentFailed:
		p.Completed = false
		if t.IntentID != "" {
			p.IntentID = t.IntentID
		}
		p.IntentStatus = "requires_payment_method"
		p.Error = t.FailureReason
		if p.Error == "" {
			p.Error = "payment failed"
		}
	case KindRefunded:
		p.RefundID = t.RefundID
	case KindDisputed:
		p.DisputeID = t.DisputeID
	}

	p.History = append(p.History, PaymentEntry{
		Kind:          t.Kind,
		CorrelationID: t.CorrelationID,
		EventID:       t.EventID,
		At:            now,
	})
	o.Status = to
	o.UpdatedAt = now
	return nil
}
