package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/gateway"
	"gozon/checkout-service/internal/order"
	"gozon/checkout-service/internal/payment"
	"gozon/checkout-service/internal/paymentmethod"
	"gozon/checkout-service/internal/reconcile"
	"gozon/checkout-service/internal/webhook"
	"gozon/checkout-service/internal/websocket"
)

const (
	signingSecret = "whsec_test"
	jwtSecret     = "s3cret"
)

type harness struct {
	srv    *httptest.Server
	orders *order.Service
	fake   *gateway.Fake
	authn  *auth.Authenticator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	orders := order.NewService(order.NewMemoryRepository(hub.Publish), "lkr", logger)
	fake := gateway.NewFake()
	authn := auth.NewAuthenticator(jwtSecret)

	s := NewServer(Deps{
		Orders:         orders,
		Payments:       payment.NewService(orders, fake, payment.Options{}, logger),
		PaymentMethods: paymentmethod.NewService(paymentmethod.NewMemoryRepository(), logger),
		Processor:      reconcile.NewProcessor(orders, logger),
		Verifier:       webhook.NewVerifier(signingSecret, 5*time.Minute),
		Feed:           websocket.NewHandler(hub, orders, logger),
		Auth:           authn,
		Logger:         logger,
	})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	return &harness{srv: srv, orders: orders, fake: fake, authn: authn}
}

func (h *harness) token(t *testing.T, p auth.Principal) string {
	t.Helper()
	tok, err := h.authn.IssueToken(p, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, method, path string, body any, token string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func (h *harness) deliver(t *testing.T, payload []byte, header string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/payments/webhook", bytes.NewReader(payload))
	require.NoError(t, err)
	if header != "" {
		req.Header.Set(webhook.SignatureHeader, header)
	}
	return send(t, req)
}

func (h *harness) deliverSigned(t *testing.T, payload []byte) (int, []byte) {
	t.Helper()
	return h.deliver(t, payload, webhook.Sign(payload, signingSecret, time.Now()))
}

func send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func orderBody() map[string]any {
	return map[string]any{
		"items": []map[string]any{
			{"product_id": "seed-01", "name": "Tomato seeds", "unit_price": "500", "quantity": 2},
		},
		"subtotal":       "1000",
		"tax":            "100",
		"shipping":       "50",
		"discount":       "0",
		"total":          "1150",
		"payment_method": "credit_card",
		"contact_name":   "Nimal Perera",
		"contact_email":  "nimal@example.com",
	}
}

func (h *harness) createOrder(t *testing.T, token string) order.Order {
	t.Helper()
	status, body := h.do(t, http.MethodPost, "/orders", orderBody(), token)
	require.Equal(t, http.StatusCreated, status, string(body))
	return decode[order.Order](t, body)
}

func (h *harness) getOrder(t *testing.T, id uuid.UUID) order.Order {
	t.Helper()
	o, err := h.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return *o
}

func intentEvent(eventID, eventType, intentID string, orderID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":{`+
		`"id":%q,"object":"payment_intent","amount":115000,"currency":"lkr","status":"succeeded",`+
		`"metadata":{"orderId":%q},"payment_method_details":{"card":{"brand":"visa","last4":"4242"}}}}}`,
		eventID, eventType, time.Now().Unix(), intentID, orderID.String()))
}

func refundEvent(eventID, intentID, refundID string, orderID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"charge.refunded","created":%d,"data":{"object":{`+
		`"id":"ch_1","object":"charge","amount":115000,"currency":"lkr","payment_intent":%q,`+
		`"metadata":{"orderId":%q},"refunds":{"data":[{"id":%q}]}}}}`,
		eventID, time.Now().Unix(), intentID, orderID.String(), refundID))
}

func TestCheckoutFlow(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin})

	created := h.createOrder(t, "")
	assert.Equal(t, order.StatusPending, created.Status)
	assert.True(t, decimal.NewFromInt(1150).Equal(created.Total))
	assert.False(t, created.Payment.Completed)

	status, body := h.do(t, http.MethodPost, "/payments/intent", map[string]any{
		"order_id": created.ID.String(),
		"amount":   "1150",
		"currency": "lkr",
	}, "")
	require.Equal(t, http.StatusOK, status, string(body))
	intent := decode[gateway.Intent](t, body)
	assert.Equal(t, int64(115000), intent.Amount)
	assert.NotEmpty(t, intent.ClientSecret)

	succeeded := intentEvent("evt_1", "payment_intent.succeeded", intent.ID, created.ID)
	status, body = h.deliverSigned(t, succeeded)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"received":true}`, string(body))

	paid := h.getOrder(t, created.ID)
	assert.Equal(t, order.StatusProcessing, paid.Status)
	assert.True(t, paid.Payment.Completed)
	assert.Equal(t, "4242", paid.Payment.Last4)

	// Redelivery is acknowledged without a second change.
	status, _ = h.deliverSigned(t, succeeded)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, paid.Version, h.getOrder(t, created.ID).Version)

	h.fake.SetStatus(intent.ID, gateway.IntentSucceeded)
	status, body = h.do(t, http.MethodPost, "/payments/refund", map[string]any{"intent_id": intent.ID}, admin)
	require.Equal(t, http.StatusOK, status, string(body))
	refund := decode[gateway.Refund](t, body)
	assert.Equal(t, int64(115000), refund.Amount)

	// The order only moves once the gateway confirms the refund.
	assert.Equal(t, order.StatusProcessing, h.getOrder(t, created.ID).Status)

	status, _ = h.deliverSigned(t, refundEvent("evt_2", intent.ID, refund.ID, created.ID))
	require.Equal(t, http.StatusOK, status)
	refunded := h.getOrder(t, created.ID)
	assert.Equal(t, order.StatusRefunded, refunded.Status)

	// A late success for an older intent is acknowledged and ignored.
	status, _ = h.deliverSigned(t, intentEvent("evt_3", "payment_intent.succeeded", "pi_stale", created.ID))
	require.Equal(t, http.StatusOK, status)
	after := h.getOrder(t, created.ID)
	assert.Equal(t, order.StatusRefunded, after.Status)
	assert.Equal(t, refunded.Version, after.Version)
}

func TestCreateOrderRejectsBadTotal(t *testing.T) {
	h := newHarness(t)
	body := orderBody()
	body["total"] = "1100"

	status, resp := h.do(t, http.MethodPost, "/orders", body, "")
	require.Equal(t, http.StatusBadRequest, status)
	got := decode[map[string]string](t, resp)
	assert.Equal(t, "total", got["field"])
	assert.NotEmpty(t, got["error"])
}

func TestCreateOrderAttachesPrincipal(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	tok := h.token(t, auth.Principal{UserID: user, Role: auth.RoleCustomer})

	created := h.createOrder(t, tok)
	require.NotNil(t, created.CustomerID)
	assert.Equal(t, user, *created.CustomerID)

	status, body := h.do(t, http.MethodGet, "/orders/mine", nil, tok)
	require.Equal(t, http.StatusOK, status)
	mine := decode[struct {
		Orders []order.Order `json:"orders"`
	}](t, body)
	require.Len(t, mine.Orders, 1)
	assert.Equal(t, created.ID, mine.Orders[0].ID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	created := h.createOrder(t, "")
	payload := intentEvent("evt_1", "payment_intent.succeeded", "pi_1", created.ID)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong secret", webhook.Sign(payload, "whsec_other", time.Now())},
		{"replayed", webhook.Sign(payload, signingSecret, time.Now().Add(-time.Hour))},
		{"garbage", "t=abc,v1=zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := h.deliver(t, payload, tt.header)
			assert.Equal(t, http.StatusBadRequest, status)
		})
	}

	after := h.getOrder(t, created.ID)
	assert.Equal(t, order.StatusPending, after.Status)
	assert.False(t, after.Payment.Completed)
	assert.Equal(t, created.Version, after.Version)
}

func TestWebhookAcksUnknownEvents(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_9","type":"customer.created","created":1700000000,"data":{"object":{"id":"cus_1"}}}`)

	status, body := h.deliverSigned(t, payload)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"received":true}`, string(body))
}

func TestWebhookIgnoresBearerTokens(t *testing.T) {
	h := newHarness(t)
	created := h.createOrder(t, "")
	payload := intentEvent("evt_1", "payment_intent.succeeded", "pi_1", created.ID)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/payments/webhook", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(payload, signingSecret, time.Now()))
	req.Header.Set("Authorization", "Bearer not-a-token")

	status, _ := send(t, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, order.StatusProcessing, h.getOrder(t, created.ID).Status)
}

func TestCreateIntentTwiceReturnsSameIntent(t *testing.T) {
	h := newHarness(t)
	created := h.createOrder(t, "")
	req := map[string]any{"order_id": created.ID.String()}

	status, first := h.do(t, http.MethodPost, "/payments/intent", req, "")
	require.Equal(t, http.StatusOK, status)
	status, second := h.do(t, http.MethodPost, "/payments/intent", req, "")
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, decode[gateway.Intent](t, first).ID, decode[gateway.Intent](t, second).ID)
	assert.Equal(t, 1, h.fake.Calls("create"))
}

func TestCreateIntentErrors(t *testing.T) {
	h := newHarness(t)
	created := h.createOrder(t, "")

	status, _ := h.do(t, http.MethodPost, "/payments/intent", map[string]any{"order_id": uuid.NewString()}, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodPost, "/payments/intent", map[string]any{"order_id": "nope"}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/payments/intent", map[string]any{
		"order_id": created.ID.String(),
		"amount":   "999",
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	h.fake.Err = fmt.Errorf("%w: connection refused", gateway.ErrUnavailable)
	status, body := h.do(t, http.MethodPost, "/payments/intent", map[string]any{"order_id": created.ID.String()}, "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.JSONEq(t, `{"error":"payment gateway error"}`, string(body))
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t)
	created := h.createOrder(t, "")
	path := "/orders/" + created.ID.String() + "/status"
	admin := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin})
	customer := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleCustomer})

	status, _ := h.do(t, http.MethodPut, path, map[string]any{"status": "cancelled"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPut, path, map[string]any{"status": "cancelled"}, customer)
	assert.Equal(t, http.StatusForbidden, status)

	status, body := h.do(t, http.MethodPut, path, map[string]any{"status": "shipped"}, admin)
	require.Equal(t, http.StatusConflict, status)
	conflict := decode[struct {
		Status  order.Status   `json:"status"`
		Allowed []order.Status `json:"allowed"`
	}](t, body)
	assert.Equal(t, order.StatusPending, conflict.Status)
	assert.ElementsMatch(t, []order.Status{order.StatusPending, order.StatusProcessing, order.StatusCancelled}, conflict.Allowed)
	assert.Equal(t, order.StatusPending, h.getOrder(t, created.ID).Status)

	status, body = h.do(t, http.MethodPut, path, map[string]any{"status": "cancelled"}, admin)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, order.StatusCancelled, decode[order.Order](t, body).Status)

	status, _ = h.do(t, http.MethodPut, path, map[string]any{"status": "teleported"}, admin)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestShippingInfo(t *testing.T) {
	h := newHarness(t)
	created := h.createOrder(t, "")

	status, body := h.do(t, http.MethodPost, "/orders/"+created.ID.String()+"/shipping-info", map[string]any{
		"contact_phone":    "+94 77 123 4567",
		"shipping_address": map[string]any{"street": "12 Galle Rd", "city": "Colombo", "country": "LK"},
	}, "")
	require.Equal(t, http.StatusOK, status, string(body))

	updated := decode[order.Order](t, body)
	assert.True(t, updated.ShippingInfoSaved)
	assert.Equal(t, "Nimal Perera", updated.ContactName)
	assert.Equal(t, "+94 77 123 4567", updated.ContactPhone)
	require.NotNil(t, updated.BillingAddress)
	assert.Equal(t, "Colombo", updated.BillingAddress.City)
	assert.Equal(t, order.StatusPending, updated.Status)

	status, _ = h.do(t, http.MethodPost, "/orders/"+uuid.NewString()+"/shipping-info", map[string]any{}, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestOrderVisibility(t *testing.T) {
	h := newHarness(t)
	owner := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleCustomer})
	stranger := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleCustomer})
	admin := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleAdmin})
	created := h.createOrder(t, owner)
	path := "/orders/" + created.ID.String()

	status, _ := h.do(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = h.do(t, http.MethodGet, path, nil, stranger)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = h.do(t, http.MethodGet, path, nil, owner)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodGet, path, nil, admin)
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodGet, "/orders", nil, owner)
	assert.Equal(t, http.StatusForbidden, status)
	status, body := h.do(t, http.MethodGet, "/orders?status=pending", nil, admin)
	require.Equal(t, http.StatusOK, status)
	all := decode[struct {
		Orders []order.Order `json:"orders"`
	}](t, body)
	assert.Len(t, all.Orders, 1)
}

func TestPaymentMethods(t *testing.T) {
	h := newHarness(t)
	tok := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleCustomer})
	card := map[string]any{
		"gateway_method_id": "pm_1",
		"card_brand":        "visa",
		"last4":             "4242",
		"exp_month":         8,
		"exp_year":          time.Now().Year() + 2,
		"billing_details":   map[string]any{"name": "Nimal Perera"},
		"is_default":        true,
	}

	status, _ := h.do(t, http.MethodGet, "/payment-methods", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(t, http.MethodPost, "/payment-methods", card, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := h.do(t, http.MethodPost, "/payment-methods", card, tok)
	require.Equal(t, http.StatusCreated, status, string(body))
	added := decode[paymentmethod.Method](t, body)
	assert.True(t, added.IsDefault)
	display := decode[map[string]any](t, body)
	assert.Equal(t, fmt.Sprintf("08/%02d", (time.Now().Year()+2)%100), display["exp_date"])
	assert.Equal(t, "•••• •••• •••• 4242", display["masked_number"])

	status, _ = h.do(t, http.MethodPost, "/payment-methods", card, tok)
	assert.Equal(t, http.StatusConflict, status)

	card["gateway_method_id"] = "pm_2"
	card["last4"] = "42"
	status, body = h.do(t, http.MethodPost, "/payment-methods", card, tok)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "last4", decode[map[string]string](t, body)["field"])

	status, body = h.do(t, http.MethodGet, "/payment-methods/default", nil, tok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, added.ID, decode[paymentmethod.Method](t, body).ID)

	other := h.token(t, auth.Principal{UserID: uuid.New(), Role: auth.RoleCustomer})
	status, _ = h.do(t, http.MethodDelete, "/payment-methods/"+added.ID.String(), nil, other)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do(t, http.MethodDelete, "/payment-methods/"+added.ID.String(), nil, tok)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(t, http.MethodGet, "/payment-methods/"+added.ID.String(), nil, tok)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}
