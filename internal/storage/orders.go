package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"gozon/checkout-service/internal/order"
)

// OrderRepository stores orders in PostgreSQL. Status changes are written to
// order_outbox in the same transaction as the order row.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `
	id, customer_id, items,
	subtotal::text, tax::text, shipping::text, discount::text, total::text,
	currency, status, payment_method, payment,
	contact_name, contact_email, contact_phone,
	shipping_address, billing_address, notes, shipping_info_saved,
	version, created_at, updated_at`

type orderJSON struct {
	items    []byte
	payment  []byte
	shipping []byte
	billing  []byte
}

func encodeOrder(o *order.Order) (orderJSON, error) {
	var (
		enc orderJSON
		err error
	)
	if enc.items, err = json.Marshal(o.Items); err != nil {
		return enc, fmt.Errorf("encode items: %w", err)
	}
	if enc.payment, err = json.Marshal(o.Payment); err != nil {
		return enc, fmt.Errorf("encode payment: %w", err)
	}
	if enc.shipping, err = json.Marshal(o.ShippingAddress); err != nil {
		return enc, fmt.Errorf("encode shipping address: %w", err)
	}
	if enc.billing, err = json.Marshal(o.BillingAddress); err != nil {
		return enc, fmt.Errorf("encode billing address: %w", err)
	}
	return enc, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o                                        order.Order
		enc                                      orderJSON
		subtotal, tax, shipping, discount, total string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &enc.items,
		&subtotal, &tax, &shipping, &discount, &total,
		&o.Currency, &o.Status, &o.PaymentMethod, &enc.payment,
		&o.ContactName, &o.ContactEmail, &o.ContactPhone,
		&enc.shipping, &enc.billing, &o.Notes, &o.ShippingInfoSaved,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	for _, m := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{subtotal, &o.Subtotal}, {tax, &o.Tax}, {shipping, &o.Shipping}, {discount, &o.Discount}, {total, &o.Total},
	} {
		if *m.dst, err = decimal.NewFromString(m.raw); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", m.raw, err)
		}
	}

	if err := json.Unmarshal(enc.items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(enc.payment, &o.Payment); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	if err := json.Unmarshal(enc.shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(enc.billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	enc, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, items,
			subtotal, tax, shipping, discount, total,
			currency, status, payment_method, payment,
			contact_name, contact_email, contact_phone,
			shipping_address, billing_address, notes, shipping_info_saved,
			version, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
			$9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19,
			$20, $21, $22
		)`,
		o.ID, o.CustomerID, enc.items,
		o.Subtotal.String(), o.Tax.String(), o.Shipping.String(), o.Discount.String(), o.Total.String(),
		o.Currency, o.Status, o.PaymentMethod, enc.payment,
		o.ContactName, o.ContactEmail, o.ContactPhone,
		enc.shipping, enc.billing, o.Notes, o.ShippingInfoSaved,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: order %s already exists", order.ErrConflict, o.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1::uuid IS NULL OR customer_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		filter.CustomerID, string(filter.Status), filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var result []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// Update locks the single order row for the duration of fn. The version
// check on write guards against a writer that bypassed the row lock.
func (r *OrderRepository) Update(ctx context.Context, id uuid.UUID, fn func(o *order.Order) (bool, error)) (*order.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	before := o.Status
	changed, err := fn(o)
	if err != nil {
		return nil, err
	}
	if !changed {
		return o, nil
	}

	enc, err := encodeOrder(o)
	if err != nil {
		return nil, err
	}
	previousVersion := o.Version
	o.Version++

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $3, payment = $4,
		    contact_name = $5, contact_email = $6, contact_phone = $7,
		    shipping_address = $8, billing_address = $9, notes = $10,
		    shipping_info_saved = $11, version = $12, updated_at = $13
		WHERE id = $1 AND version = $2`,
		id, previousVersion, o.Status, enc.payment,
		o.ContactName, o.ContactEmail, o.ContactPhone,
		enc.shipping, enc.billing, o.Notes,
		o.ShippingInfoSaved, o.Version, o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: order %s changed concurrently", order.ErrConflict, id)
	}

	if before != o.Status {
		event := order.StatusChangedEvent(before, o)
		payload, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("marshal event: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO order_outbox (event_id, event_type, payload)
			VALUES ($1, $2, $3)`,
			event.EventID, event.EventType(), payload,
		)
		if err != nil {
			return nil, fmt.Errorf("insert outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}
