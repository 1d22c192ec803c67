package paymentmethod

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("payment method not found")
	ErrDuplicate = errors.New("payment method already exists")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Brand string

const (
	BrandVisa       Brand = "visa"
	BrandMastercard Brand = "mastercard"
	BrandAmex       Brand = "amex"
	BrandDiscover   Brand = "discover"
	BrandJCB        Brand = "jcb"
	BrandDiners     Brand = "diners"
	BrandUnionPay   Brand = "unionpay"
	BrandUnknown    Brand = "unknown"
)

func (b Brand) Valid() bool {
	switch b {
	case BrandVisa, BrandMastercard, BrandAmex, BrandDiscover, BrandJCB, BrandDiners, BrandUnionPay, BrandUnknown:
		return true
	}
	return false
}

type BillingAddress struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type BillingDetails struct {
	Name    string         `json:"name,omitempty"`
	Email   string         `json:"email,omitempty"`
	Address BillingAddress `json:"address"`
}

// Method is a saved card summary. The card itself lives at the gateway and
// is referenced by GatewayMethodID.
type Method struct {
	ID              uuid.UUID      `json:"id"`
	UserID          uuid.UUID      `json:"user_id"`
	GatewayMethodID string         `json:"gateway_method_id"`
	Brand           Brand          `json:"card_brand"`
	Last4           string         `json:"last4"`
	ExpMonth        int            `json:"exp_month"`
	ExpYear         int            `json:"exp_year"`
	Billing         BillingDetails `json:"billing_details"`
	IsDefault       bool           `json:"is_default"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ExpDate formats the expiry as MM/YY.
func (m Method) ExpDate() string {
	return fmt.Sprintf("%02d/%02d", m.ExpMonth, m.ExpYear%100)
}

func (m Method) MaskedNumber() string {
	return "•••• •••• •••• " + m.Last4
}

type Draft struct {
	GatewayMethodID string         `json:"gateway_method_id"`
	Brand           Brand          `json:"card_brand"`
	Last4           string         `json:"last4"`
	ExpMonth        int            `json:"exp_month"`
	ExpYear         int            `json:"exp_year"`
	Billing         BillingDetails `json:"billing_details"`
	IsDefault       bool           `json:"is_default"`
}

// Update changes billing details and the default flag. Nil fields are left
// as they are.
type Update struct {
	Billing   *BillingDetails `json:"billing_details"`
	IsDefault *bool           `json:"is_default"`
}
