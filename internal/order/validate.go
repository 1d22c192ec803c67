package order

import (
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate checks the item list and the monetary invariant
// total == subtotal + tax + shipping - discount.
func (d Draft) Validate() error {
	if len(d.Items) == 0 {
		return invalid("items", "order must contain at least one item")
	}
	for i, it := range d.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return invalid("items", "item %d: product_id is required", i)
		}
		if strings.TrimSpace(it.Name) == "" {
			return invalid("items", "item %d: name is required", i)
		}
		if it.Quantity <= 0 {
			return invalid("items", "item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return invalid("items", "item %d: unit_price must not be negative", i)
		}
	}

	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"subtotal", d.Subtotal},
		{"tax", d.Tax},
		{"shipping", d.Shipping},
		{"discount", d.Discount},
		{"total", d.Total},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return invalid(a.field, "must not be negative")
		}
		if !a.value.Equal(a.value.Round(2)) {
			return invalid(a.field, "at most two decimal places allowed")
		}
	}
	if !d.Total.IsPositive() {
		return invalid("total", "must be greater than zero")
	}

	expected := d.Subtotal.Add(d.Tax).Add(d.Shipping).Sub(d.Discount)
	if !d.Total.Equal(expected) {
		return invalid("total", "expected %s (subtotal + tax + shipping - discount), got %s", expected.String(), d.Total.String())
	}

	if d.PaymentMethod != "" && !d.PaymentMethod.Valid() {
		return invalid("payment_method", "unsupported payment method %q", d.PaymentMethod)
	}
	if d.ContactEmail != "" {
		if _, err := mail.ParseAddress(d.ContactEmail); err != nil {
			return invalid("contact_email", "invalid email address")
		}
	}
	return nil
}

func (u ShippingUpdate) validate() error {
	if u.ContactEmail != nil && *u.ContactEmail != "" {
		if _, err := mail.ParseAddress(*u.ContactEmail); err != nil {
			return invalid("contact_email", "invalid email address")
		}
	}
	return nil
}

// merge applies the supplied fields and reports whether anything changed.
func (u ShippingUpdate) merge(o *Order) bool {
	changed := false
	setString := func(dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setString(&o.ContactName, u.ContactName)
	setString(&o.ContactEmail, u.ContactEmail)
	setString(&o.ContactPhone, u.ContactPhone)
	setString(&o.Notes, u.Notes)

	if u.ShippingAddress != nil && (o.ShippingAddress == nil || *o.ShippingAddress != *u.ShippingAddress) {
		addr := *u.ShippingAddress
		o.ShippingAddress = &addr
		changed = true
	}
	switch {
	case u.BillingAddress != nil:
		if o.BillingAddress == nil || *o.BillingAddress != *u.BillingAddress {
			addr := *u.BillingAddress
			o.BillingAddress = &addr
			changed = true
		}
	case o.BillingAddress == nil && o.ShippingAddress != nil:
		addr := *o.ShippingAddress
		o.BillingAddress = &addr
		changed = true
	}

	if !o.ShippingInfoSaved {
		o.ShippingInfoSaved = true
		changed = true
	}
	return changed
}
