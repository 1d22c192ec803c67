package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/order"
)

type createOrderRequest struct {
	Items           []order.Item        `json:"items"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Tax             decimal.Decimal     `json:"tax"`
	Shipping        decimal.Decimal     `json:"shipping"`
	Discount        decimal.Decimal     `json:"discount"`
	Total           decimal.Decimal     `json:"total"`
	Currency        string              `json:"currency"`
	PaymentMethod   order.PaymentMethod `json:"payment_method"`
	ContactName     string              `json:"contact_name"`
	ContactEmail    string              `json:"contact_email"`
	ContactPhone    string              `json:"contact_phone"`
	ShippingAddress *order.Address      `json:"shipping_address"`
	BillingAddress  *order.Address      `json:"billing_address"`
	Notes           string              `json:"notes"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	draft := order.Draft{
		Items:           req.Items,
		Subtotal:        req.Subtotal,
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
		Total:           req.Total,
		Currency:        req.Currency,
		PaymentMethod:   req.PaymentMethod,
		ContactName:     req.ContactName,
		ContactEmail:    req.ContactEmail,
		ContactPhone:    req.ContactPhone,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
	}
	if p, ok := auth.FromContext(r.Context()); ok {
		customer := p.UserID
		draft.CustomerID = &customer
	}

	o, err := s.orders.Create(r.Context(), draft)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireAdmin(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}

	filter := order.ListFilter{Status: order.Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	orders, err := s.orders.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) myOrders(w http.ResponseWriter, r *http.Request) {
	p, err := auth.Require(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	orders, err := s.orders.List(r.Context(), order.ListFilter{CustomerID: &p.UserID})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// visibleOrder loads the order named by the path. Orders the caller may not
// see are reported as missing.
func (s *Server) visibleOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}

	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if !auth.CanAccess(r.Context(), o.CustomerID) {
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return nil, false
	}
	return o, true
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := s.visibleOrder(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, o)
}

func (s *Server) updateShippingInfo(w http.ResponseWriter, r *http.Request) {
	o, ok := s.visibleOrder(w, r)
	if !ok {
		return
	}

	var req order.ShippingUpdate
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := s.orders.UpdateShippingInfo(r.Context(), o.ID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireAdmin(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Status order.Status `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	o, err := s.orders.UpdateStatus(r.Context(), id, req.Status)
	if errors.Is(err, order.ErrIllegalTransition) {
		s.rejectTransition(w, r, id, err)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// rejectTransition reports an illegal status change together with the
// statuses the order can move to.
func (s *Server) rejectTransition(w http.ResponseWriter, r *http.Request, id uuid.UUID, cause error) {
	current, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusConflict, map[string]any{
		"error":   cause.Error(),
		"status":  current.Status,
		"allowed": order.AllowedTransitions(current.Status),
	})
}
