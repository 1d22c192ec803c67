package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/order"
	"gozon/checkout-service/internal/payment"
	"gozon/checkout-service/internal/webhook"
)

const webhookTimeout = 10 * time.Second

func (s *Server) createIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount   *decimal.Decimal `json:"amount"`
		Currency string           `json:"currency"`
		OrderID  string           `json:"order_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeFieldError(w, "invalid order id", "order_id")
		return
	}

	o, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !auth.CanAccess(r.Context(), o.CustomerID) {
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}

	intent, err := s.payments.CreateIntent(r.Context(), payment.IntentParams{
		OrderID:  orderID,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) intentStatus(w http.ResponseWriter, r *http.Request) {
	intent, err := s.payments.IntentStatus(r.Context(), r.PathValue("intentId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// The client secret is only handed out on creation.
	intent.ClientSecret = ""
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.RequireAdmin(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}

	var req struct {
		IntentID string           `json:"intent_id"`
		Amount   *decimal.Decimal `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IntentID == "" {
		writeFieldError(w, "intent id is required", "intent_id")
		return
	}

	refund, err := s.payments.Refund(r.Context(), payment.RefundParams{
		IntentID: req.IntentID,
		Amount:   req.Amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refund)
}

// webhook verifies a gateway event over the raw body and applies it. Events
// that verify but cannot be matched to an order are acknowledged so the
// gateway stops redelivering them; processing errors are not, so it retries.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	evt, err := s.verifier.Verify(payload, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		if errors.Is(err, webhook.ErrMalformed) {
			s.logger.Warn("webhook payload malformed", "remote_addr", r.RemoteAddr, "err", err)
			writeError(w, http.StatusBadRequest, "malformed event")
			return
		}
		s.logger.Warn("webhook rejected",
			"security_event", true,
			"remote_addr", r.RemoteAddr,
			"err", err,
		)
		writeError(w, http.StatusBadRequest, "signature verification failed")
		return
	}

	// The gateway may hang up before the transition commits; finish anyway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), webhookTimeout)
	defer cancel()

	outcome, err := s.processor.Process(ctx, evt)
	if err != nil {
		s.logger.Error("webhook processing failed", "event_id", evt.ID, "event_type", evt.Type, "err", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	s.logger.Debug("webhook handled", "event_id", evt.ID, "event_type", evt.Type, "outcome", outcome.String())

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
