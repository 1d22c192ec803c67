package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxDispatcher relays rows of a transactional outbox table to a
// Publisher. Rows are claimed with SKIP LOCKED so several replicas can run a
// dispatcher against the same table.
type OutboxDispatcher struct {
	pool      *pgxpool.Pool
	publisher Publisher
	table     string
	interval  time.Duration
	batchSize int
	lease     time.Duration
	logger    *slog.Logger
}

type outboxRow struct {
	ID        int64
	EventID   string
	EventType string
	Payload   []byte
	Attempts  int
}

func NewOutboxDispatcher(pool *pgxpool.Pool, publisher Publisher, table string, interval time.Duration, batch int, logger *slog.Logger) *OutboxDispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &OutboxDispatcher{
		pool:      pool,
		publisher: publisher,
		table:     pgx.Identifier{table}.Sanitize(),
		interval:  interval,
		batchSize: batch,
		lease:     30 * time.Second,
		logger:    logger,
	}
}

// Start runs the dispatch loop until ctx is done. The returned channel is
// closed when the loop has exited.
func (d *OutboxDispatcher) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.loop(ctx)
	}()
	return done
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Dispatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch failed", "table", d.table, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch publishes one batch and reports how many rows were sent.
func (d *OutboxDispatcher) Dispatch(ctx context.Context) (int, error) {
	rows, err := d.claimRows(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		if err := d.publishOne(ctx, row); err != nil {
			d.logger.Warn("publish event failed",
				"table", d.table,
				"event_id", row.EventID,
				"event_type", row.EventType,
				"attempts", row.Attempts+1,
				"err", err,
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) claimRows(ctx context.Context) ([]outboxRow, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		SELECT id, event_id::text, event_type, payload, attempts
		FROM %s
		WHERE (status = 'pending' AND next_retry <= NOW())
		   OR (status = 'processing' AND next_retry <= NOW())
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, d.table)

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outboxRow, error) {
		var r outboxRow
		err := row.Scan(&r.ID, &r.EventID, &r.EventType, &r.Payload, &r.Attempts)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(items))
	for i, row := range items {
		ids[i] = row.ID
	}
	claim := fmt.Sprintf(`
		UPDATE %s
		SET status = 'processing', next_retry = $2, updated_at = NOW()
		WHERE id = ANY($1)`, d.table)
	if _, err := tx.Exec(ctx, claim, ids, time.Now().Add(d.lease)); err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (d *OutboxDispatcher) publishOne(ctx context.Context, row outboxRow) error {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := d.publisher.Publish(pubCtx, Message{
		ID:         row.EventID,
		RoutingKey: row.EventType,
		Payload:    row.Payload,
	})
	if err != nil {
		return d.markFailure(ctx, row, err)
	}

	update := fmt.Sprintf(`
		UPDATE %s
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1`, d.table)
	_, err = d.pool.Exec(ctx, update, row.ID)
	return err
}

func (d *OutboxDispatcher) markFailure(ctx context.Context, row outboxRow, publishErr error) error {
	nextRetry := time.Now().Add(retryDelay(row.Attempts + 1))
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
		    attempts = attempts + 1,
		    next_retry = $2,
		    updated_at = NOW()
		WHERE id = $1`, d.table)
	if _, err := d.pool.Exec(ctx, query, row.ID, nextRetry); err != nil {
		return fmt.Errorf("update retry: %w", err)
	}
	return publishErr
}

// retryDelay doubles from 2s and is capped at one minute.
func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 6 {
		attempts = 6
	}
	delay := time.Duration(1<<attempts) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}
