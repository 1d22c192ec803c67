package order

import (
	"github.com/google/uuid"

	"gozon/checkout-service/pkg/contracts"
)

// StatusChangedEvent builds the outbox event for a committed status change.
func StatusChangedEvent(previous Status, o *Order) contracts.OrderStatusChangedEvent {
	evt := contracts.OrderStatusChangedEvent{
		EventID:          uuid.New().String(),
		OrderID:          o.ID.String(),
		PreviousStatus:   string(previous),
		Status:           string(o.Status),
		PaymentCompleted: o.Payment.Completed,
		Total:            o.Total.String(),
		Currency:         o.Currency,
		Version:          o.Version,
		ChangedAt:        o.UpdatedAt,
	}
	if o.CustomerID != nil {
		evt.CustomerID = o.CustomerID.String()
	}
	return evt
}
