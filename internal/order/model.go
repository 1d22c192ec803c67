package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusDisputed   Status = "disputed"
)

type PaymentMethod string

const (
	MethodCreditCard     PaymentMethod = "credit_card"
	MethodPayPal         PaymentMethod = "paypal"
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCreditCard, MethodPayPal, MethodBankTransfer, MethodCashOnDelivery:
		return true
	}
	return false
}

// Item is a point-in-time copy of a catalog product. It is never refreshed
// from the catalog after the order is placed.
type Item struct {
	ProductID   string          `json:"product_id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Image       string          `json:"image,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Address struct {
	Name    string `json:"name,omitempty"`
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Payment is the gateway correlation record of an order. Only gateway
// transitions and intent attachment write to it.
type Payment struct {
	IntentID        string         `json:"intent_id,omitempty"`
	IntentStatus    string         `json:"intent_status,omitempty"`
	IntentCreatedAt *time.Time     `json:"intent_created_at,omitempty"`
	IntentAttempts  int            `json:"intent_attempts,omitempty"`
	Completed       bool           `json:"completed"`
	CardBrand       string         `json:"card_brand,omitempty"`
	Last4           string         `json:"last4,omitempty"`
	RefundID        string         `json:"refund_id,omitempty"`
	DisputeID       string         `json:"dispute_id,omitempty"`
	Error           string         `json:"error,omitempty"`
	History         []PaymentEntry `json:"history,omitempty"`
}

// PaymentEntry records one applied gateway transition.
type PaymentEntry struct {
	Kind          TransitionKind `json:"kind"`
	CorrelationID string         `json:"correlation_id"`
	EventID       string         `json:"event_id,omitempty"`
	At            time.Time      `json:"at"`
}

// Applied reports whether a transition of the given kind and correlation id
// is already reflected in the record.
func (p Payment) Applied(kind TransitionKind, correlationID string) bool {
	for _, e := range p.History {
		if e.Kind == kind && e.CorrelationID == correlationID {
			return true
		}
	}
	return false
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	CustomerID        *uuid.UUID      `json:"customer_id,omitempty"`
	Items             []Item          `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Shipping          decimal.Decimal `json:"shipping"`
	Discount          decimal.Decimal `json:"discount"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	Status            Status          `json:"status"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	Payment           Payment         `json:"payment"`
	ContactName       string          `json:"contact_name,omitempty"`
	ContactEmail      string          `json:"contact_email,omitempty"`
	ContactPhone      string          `json:"contact_phone,omitempty"`
	ShippingAddress   *Address        `json:"shipping_address,omitempty"`
	BillingAddress    *Address        `json:"billing_address,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	ShippingInfoSaved bool            `json:"shipping_info_saved"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Draft is the caller-supplied input to Service.Create. Monetary values come
// from the catalog and are only checked for consistency here.
type Draft struct {
	CustomerID      *uuid.UUID
	Items           []Item
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	PaymentMethod   PaymentMethod
	ContactName     string
	ContactEmail    string
	ContactPhone    string
	ShippingAddress *Address
	BillingAddress  *Address
	Notes           string
}

// ShippingUpdate is a partial update of the delivery metadata. A nil field
// means "leave as is"; a non-nil pointer to an empty value clears the field.
type ShippingUpdate struct {
	ContactName     *string  `json:"contact_name"`
	ContactEmail    *string  `json:"contact_email"`
	ContactPhone    *string  `json:"contact_phone"`
	ShippingAddress *Address `json:"shipping_address"`
	BillingAddress  *Address `json:"billing_address"`
	Notes           *string  `json:"notes"`
}

// IntentRef is what the order keeps about a gateway payment intent.
type IntentRef struct {
	ID        string
	Status    string
	CreatedAt time.Time
	Attempt   int
}
