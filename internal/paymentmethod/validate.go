package paymentmethod

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var last4Pattern = regexp.MustCompile(`^\d{4}$`)

const maxNameLength = 100

func (d Draft) validate(now time.Time) error {
	if strings.TrimSpace(d.GatewayMethodID) == "" {
		return &ValidationError{Field: "gateway_method_id", Message: "is required"}
	}
	if !d.Brand.Valid() {
		return &ValidationError{Field: "card_brand", Message: "unsupported card brand " + string(d.Brand)}
	}
	if !last4Pattern.MatchString(d.Last4) {
		return &ValidationError{Field: "last4", Message: "must be exactly 4 digits"}
	}
	if d.ExpMonth < 1 || d.ExpMonth > 12 {
		return &ValidationError{Field: "exp_month", Message: "must be between 1 and 12"}
	}
	year := now.Year()
	if d.ExpYear < year || d.ExpYear > year+20 {
		return &ValidationError{Field: "exp_year", Message: "must be the current or a future year"}
	}
	return d.Billing.validate()
}

func (b BillingDetails) validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(b.Name)) > maxNameLength {
		return &ValidationError{Field: "billing_details.name", Message: "cannot be longer than 100 characters"}
	}
	if b.Email != "" {
		if _, err := mail.ParseAddress(b.Email); err != nil {
			return &ValidationError{Field: "billing_details.email", Message: "must be a valid email"}
		}
	}
	return nil
}
