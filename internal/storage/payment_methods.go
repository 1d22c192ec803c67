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

	"gozon/checkout-service/internal/paymentmethod"
)

type PaymentMethodRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentMethodRepository(pool *pgxpool.Pool) *PaymentMethodRepository {
	return &PaymentMethodRepository{pool: pool}
}

const paymentMethodColumns = `
	id, user_id, gateway_method_id, card_brand, last4, exp_month, exp_year,
	billing_details, is_default, created_at, updated_at`

func scanPaymentMethod(row pgx.Row) (*paymentmethod.Method, error) {
	var (
		m       paymentmethod.Method
		billing []byte
	)
	err := row.Scan(
		&m.ID, &m.UserID, &m.GatewayMethodID, &m.Brand, &m.Last4, &m.ExpMonth, &m.ExpYear,
		&billing, &m.IsDefault, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, paymentmethod.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment method: %w", err)
	}
	if err := json.Unmarshal(billing, &m.Billing); err != nil {
		return nil, fmt.Errorf("decode billing details: %w", err)
	}
	return &m, nil
}

func clearDefault(ctx context.Context, tx pgx.Tx, userID, keep uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_methods
		SET is_default = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND id <> $2 AND is_default`,
		userID, keep,
	)
	if err != nil {
		return fmt.Errorf("clear default: %w", err)
	}
	return nil
}

func (r *PaymentMethodRepository) Create(ctx context.Context, m *paymentmethod.Method) error {
	billing, err := json.Marshal(m.Billing)
	if err != nil {
		return fmt.Errorf("encode billing details: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if m.IsDefault {
		if err := clearDefault(ctx, tx, m.UserID, m.ID); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_methods (`+paymentMethodColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.UserID, m.GatewayMethodID, m.Brand, m.Last4, m.ExpMonth, m.ExpYear,
		billing, m.IsDefault, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return paymentmethod.ErrDuplicate
		}
		return fmt.Errorf("insert payment method: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PaymentMethodRepository) Get(ctx context.Context, userID, id uuid.UUID) (*paymentmethod.Method, error) {
	return scanPaymentMethod(r.pool.QueryRow(ctx, `
		SELECT `+paymentMethodColumns+`
		FROM payment_methods
		WHERE id = $1 AND user_id = $2`, id, userID))
}

func (r *PaymentMethodRepository) List(ctx context.Context, userID uuid.UUID) ([]paymentmethod.Method, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentMethodColumns+`
		FROM payment_methods
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query payment methods: %w", err)
	}
	defer rows.Close()

	var result []paymentmethod.Method
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, rows.Err()
}

func (r *PaymentMethodRepository) Update(ctx context.Context, userID, id uuid.UUID, fn func(m *paymentmethod.Method) error) (*paymentmethod.Method, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	m, err := scanPaymentMethod(tx.QueryRow(ctx, `
		SELECT `+paymentMethodColumns+`
		FROM payment_methods
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, id, userID))
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if m.IsDefault {
		if err := clearDefault(ctx, tx, userID, id); err != nil {
			return nil, err
		}
	}

	billing, err := json.Marshal(m.Billing)
	if err != nil {
		return nil, fmt.Errorf("encode billing details: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE payment_methods
		SET billing_details = $2, is_default = $3, updated_at = $4
		WHERE id = $1`,
		id, billing, m.IsDefault, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update payment method: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PaymentMethodRepository) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM payment_methods WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete payment method: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paymentmethod.ErrNotFound
	}
	return nil
}
