package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the subset of gateway event types the service reacts to.
type Kind int

const (
	KindUnknown Kind = iota
	KindIntentSucceeded
	KindIntentFailed
	KindChargeRefunded
	KindDisputeCreated
)

var kindByType = map[string]Kind{
	"payment_intent.succeeded":      KindIntentSucceeded,
	"payment_intent.payment_failed": KindIntentFailed,
	"charge.refunded":               KindChargeRefunded,
	"charge.dispute.created":        KindDisputeCreated,
}

func (k Kind) String() string {
	for name, kind := range kindByType {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Object is the flattened data.object of a gateway event. Intents, charges
// and disputes share the fields below.
type Object struct {
	ID            string
	Amount        int64
	Currency      string
	Status        string
	Metadata      map[string]string
	IntentID      string
	CardBrand     string
	Last4         string
	FailureReason string
	RefundID      string
}

// OrderID returns the order correlation stored in metadata.
func (o Object) OrderID() string {
	return o.Metadata["orderId"]
}

type Event struct {
	ID      string
	Type    string
	Kind    Kind
	Created time.Time
	Object  Object
}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object rawObject `json:"object"`
	} `json:"data"`
}

type rawObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
	PaymentIntent string            `json:"payment_intent"`

	PaymentMethodDetails struct {
		Card struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	} `json:"payment_method_details"`

	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`

	Refunds struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"refunds"`
}

// Parse decodes an already verified payload.
func Parse(payload []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformed)
	}

	o := raw.Data.Object
	obj := Object{
		ID:        o.ID,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Status:    o.Status,
		Metadata:  o.Metadata,
		IntentID:  o.PaymentIntent,
		CardBrand: o.PaymentMethodDetails.Card.Brand,
		Last4:     o.PaymentMethodDetails.Card.Last4,
	}
	if obj.Metadata == nil {
		obj.Metadata = map[string]string{}
	}
	// On intent events the object is the intent itself.
	if obj.IntentID == "" && o.Object == "payment_intent" {
		obj.IntentID = o.ID
	}
	if o.LastPaymentError != nil {
		obj.FailureReason = o.LastPaymentError.Message
	}
	if len(o.Refunds.Data) > 0 {
		obj.RefundID = o.Refunds.Data[0].ID
	}

	return &Event{
		ID:      raw.ID,
		Type:    raw.Type,
		Kind:    kindByType[raw.Type],
		Created: time.Unix(raw.Created, 0).UTC(),
		Object:  obj,
	}, nil
}
