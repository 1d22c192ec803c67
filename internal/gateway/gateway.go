package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnavailable    = errors.New("payment gateway unavailable")
	ErrInvalidAmount  = errors.New("invalid payment amount")
	ErrNotFound       = errors.New("gateway object not found")
	ErrInvalidRequest = errors.New("gateway rejected request")
)

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentCanceled              IntentStatus = "canceled"
	IntentSucceeded             IntentStatus = "succeeded"
)

// Terminal reports whether the intent can no longer be paid.
func (s IntentStatus) Terminal() bool {
	return s == IntentSucceeded || s == IntentCanceled
}

// Intent is the client-usable handle of a gateway payment intent.
type Intent struct {
	ID           string       `json:"id"`
	ClientSecret string       `json:"client_secret,omitempty"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	Status       IntentStatus `json:"status"`
	OrderID      string       `json:"order_id,omitempty"`
	Created      time.Time    `json:"created"`
}

type Refund struct {
	ID       string `json:"id"`
	IntentID string `json:"payment_intent"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type IntentRequest struct {
	OrderID  uuid.UUID
	Total    decimal.Decimal
	Currency string
	// Attempt distinguishes deliberate re-creation (after the previous intent
	// was canceled) from a retry of the same request.
	Attempt int
}

// IdempotencyKey is stable for a given order and attempt.
func (r IntentRequest) IdempotencyKey() string {
	return fmt.Sprintf("order:%s:intent:%d", r.OrderID, r.Attempt)
}

// Client is the narrow surface the service needs from the payment gateway.
type Client interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	// Refund issues a full refund when amount is nil.
	Refund(ctx context.Context, intentID string, amount *int64) (*Refund, error)
}

var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func currencyExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return 0
	}
	return 2
}

// MinorUnits converts a major-unit amount into the gateway's integer unit.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

// MajorUnits is the inverse of MinorUnits.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -currencyExponent(currency))
}
