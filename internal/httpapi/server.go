package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/gateway"
	"gozon/checkout-service/internal/order"
	"gozon/checkout-service/internal/payment"
	"gozon/checkout-service/internal/paymentmethod"
	"gozon/checkout-service/internal/reconcile"
	"gozon/checkout-service/internal/webhook"
	"gozon/checkout-service/internal/websocket"
)

const maxBodyBytes = 1 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Orders         *order.Service
	Payments       *payment.Service
	PaymentMethods *paymentmethod.Service
	Processor      *reconcile.Processor
	Verifier       *webhook.Verifier
	Feed           *websocket.Handler
	Auth           *auth.Authenticator
	// Health is optional; without it /healthz always reports ok.
	Health Pinger
	Logger *slog.Logger
}

type Server struct {
	orders         *order.Service
	payments       *payment.Service
	paymentMethods *paymentmethod.Service
	processor      *reconcile.Processor
	verifier       *webhook.Verifier
	feed           *websocket.Handler
	auth           *auth.Authenticator
	health         Pinger
	logger         *slog.Logger
	mux            *http.ServeMux
}

func NewServer(d Deps) *Server {
	s := &Server{
		orders:         d.Orders,
		payments:       d.Payments,
		paymentMethods: d.PaymentMethods,
		processor:      d.Processor,
		verifier:       d.Verifier,
		feed:           d.Feed,
		auth:           d.Auth,
		health:         d.Health,
		logger:         d.Logger,
		mux:            http.NewServeMux(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	api := http.NewServeMux()

	api.HandleFunc("POST /orders", s.createOrder)
	api.HandleFunc("GET /orders", s.listOrders)
	api.HandleFunc("GET /orders/mine", s.myOrders)
	api.HandleFunc("GET /orders/{id}", s.getOrder)
	api.HandleFunc("POST /orders/{id}/shipping-info", s.updateShippingInfo)
	api.HandleFunc("PUT /orders/{id}/status", s.updateStatus)
	api.HandleFunc("GET /orders/{id}/ws", s.feed.ServeWS)

	api.HandleFunc("POST /payments/intent", s.createIntent)
	api.HandleFunc("GET /payments/intent/{intentId}", s.intentStatus)
	api.HandleFunc("POST /payments/refund", s.refund)

	api.HandleFunc("GET /payment-methods", s.listPaymentMethods)
	api.HandleFunc("POST /payment-methods", s.addPaymentMethod)
	api.HandleFunc("GET /payment-methods/default", s.defaultPaymentMethod)
	api.HandleFunc("GET /payment-methods/{id}", s.getPaymentMethod)
	api.HandleFunc("PUT /payment-methods/{id}", s.updatePaymentMethod)
	api.HandleFunc("PUT /payment-methods/{id}/default", s.setDefaultPaymentMethod)
	api.HandleFunc("DELETE /payment-methods/{id}", s.deletePaymentMethod)

	// The webhook authenticates by signature only, so it stays outside the
	// bearer token middleware.
	s.mux.HandleFunc("POST /payments/webhook", s.webhook)
	s.mux.HandleFunc("GET /healthz", s.healthz)
	s.mux.Handle("/", s.auth.Middleware(api))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// fail maps a service error to its HTTP status. Unknown errors are logged
// and reported as 500 without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var orderInvalid *order.ValidationError
	var methodInvalid *paymentmethod.ValidationError

	switch {
	case errors.As(err, &orderInvalid):
		writeFieldError(w, orderInvalid.Message, orderInvalid.Field)
	case errors.As(err, &methodInvalid):
		writeFieldError(w, methodInvalid.Message, methodInvalid.Field)
	case errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, paymentmethod.ErrNotFound),
		errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrIllegalTransition),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrIntentActive),
		errors.Is(err, payment.ErrNotPayable),
		errors.Is(err, paymentmethod.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, gateway.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, gateway.ErrInvalidRequest):
		s.logger.Warn("gateway call failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, "payment gateway error")
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("request timed out", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusGatewayTimeout, "timed out")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFieldError(w http.ResponseWriter, msg, field string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg, "field": field})
}
