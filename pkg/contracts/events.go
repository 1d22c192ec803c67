package contracts

import "time"

const (
	EventOrderStatusChanged = "orders.status_changed"
	EventOrderPaid          = "orders.paid"
)

// OrderStatusChangedEvent is emitted through the outbox after every committed
// status change. Consumers use it for notifications, inventory and the live
// status feed.
type OrderStatusChangedEvent struct {
	EventID          string    `json:"event_id"`
	OrderID          string    `json:"order_id"`
	CustomerID       string    `json:"customer_id,omitempty"`
	PreviousStatus   string    `json:"previous_status"`
	Status           string    `json:"status"`
	PaymentCompleted bool      `json:"payment_completed"`
	Total            string    `json:"total"`
	Currency         string    `json:"currency"`
	Version          int64     `json:"version"`
	ChangedAt        time.Time `json:"changed_at"`
}

// EventType picks the routing key for the event. Payment completion gets its
// own key so fulfillment can bind to it alone.
func (e OrderStatusChangedEvent) EventType() string {
	if e.Status == "processing" && e.PaymentCompleted && e.PreviousStatus == "pending" {
		return EventOrderPaid
	}
	return EventOrderStatusChanged
}
