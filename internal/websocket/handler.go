package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/order"
)

type Conn = gw.Conn

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = gw.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type OrderReader interface {
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

type Handler struct {
	hub    *Hub
	orders OrderReader
	logger *slog.Logger
}

func NewHandler(hub *Hub, orders OrderReader, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, orders: orders, logger: logger}
}

// ServeWS streams status updates of one order. The first message is the
// current state; later ones arrive as the order changes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, ok := h.load(w, r, orderID)
	if !ok {
		return
	}
	if !auth.CanAccess(r.Context(), o.CustomerID) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}

	// Join before reading the snapshot so changes committed after the read
	// are queued on client.send. The snapshot is written before the pumps
	// start and always arrives first.
	client := &Client{
		hub:     h.hub,
		send:    make(chan []byte, 16),
		orderID: orderID.String(),
	}
	if !h.hub.join(client) {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	o, ok = h.load(w, r, orderID)
	if !ok {
		h.hub.leave(client)
		return
	}
	snapshot, err := json.Marshal(OrderUpdate{
		OrderID:          o.ID.String(),
		Status:           string(o.Status),
		PaymentCompleted: o.Payment.Completed,
		Version:          o.Version,
		UpdatedAt:        o.UpdatedAt,
	})
	if err != nil {
		h.hub.leave(client)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.leave(client)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(gw.TextMessage, snapshot); err != nil {
		h.hub.leave(client)
		_ = conn.Close()
		return
	}
	client.conn = conn
	go client.writePump()
	go client.readPump()
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*order.Order, bool) {
	o, err := h.orders.Get(r.Context(), id)
	if err == nil {
		return o, true
	}
	if order.IsNotFound(err) {
		http.Error(w, "order not found", http.StatusNotFound)
		return nil, false
	}
	h.logger.Error("load order for status feed", "order_id", id, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
	return nil, false
}

// readPump only services control frames; clients never send data.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(gw.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(gw.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gw.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
