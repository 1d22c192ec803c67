package websocket

import (
	"context"
	"encoding/json"
	"time"

	"gozon/checkout-service/pkg/contracts"
)

// OrderUpdate is pushed to every subscriber of an order. Clients order
// updates by Version; delivery order is not guaranteed across replicas.
type OrderUpdate struct {
	OrderID          string    `json:"order_id"`
	Status           string    `json:"status"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	PaymentCompleted bool      `json:"payment_completed"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func FromEvent(evt contracts.OrderStatusChangedEvent) OrderUpdate {
	return OrderUpdate{
		OrderID:          evt.OrderID,
		Status:           evt.Status,
		PreviousStatus:   evt.PreviousStatus,
		PaymentCompleted: evt.PaymentCompleted,
		Version:          evt.Version,
		UpdatedAt:        evt.ChangedAt,
	}
}

type Client struct {
	hub     *Hub
	conn    *Conn
	send    chan []byte
	orderID string
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan OrderUpdate
	done       chan struct{}
	clients    map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan OrderUpdate, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.remove(c)
		case upd := <-h.broadcast:
			msg, err := json.Marshal(upd)
			if err != nil {
				continue
			}
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					// Slow subscriber; it reconnects and gets a fresh snapshot.
					h.remove(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[string]map[*Client]bool{}
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

// Broadcast queues u for delivery. It never blocks once the hub has stopped.
func (h *Hub) Broadcast(u OrderUpdate) {
	select {
	case h.broadcast <- u:
	case <-h.done:
	}
}

// Publish adapts the hub to an order status event sink.
func (h *Hub) Publish(evt contracts.OrderStatusChangedEvent) {
	h.Broadcast(FromEvent(evt))
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
