package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gozon/checkout-service/internal/order"
	"gozon/checkout-service/internal/paymentmethod"
	"gozon/checkout-service/pkg/messaging"
)

// newTestStore connects to TEST_DATABASE_URL. The schema is migrated and the
// tables are emptied before each test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	_, err = store.Pool().Exec(ctx, `TRUNCATE orders, order_outbox, payment_methods`)
	require.NoError(t, err)
	return store
}

func testOrderService(store *Store) *order.Service {
	return order.NewService(store.Orders(), "lkr", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testDraft() order.Draft {
	return order.Draft{
		Items: []order.Item{{
			ProductID: "prod-1",
			Name:      "Organic fertilizer",
			UnitPrice: decimal.RequireFromString("333.33"),
			Quantity:  3,
		}},
		Subtotal:        decimal.RequireFromString("999.99"),
		Tax:             decimal.RequireFromString("100.01"),
		Shipping:        decimal.NewFromInt(50),
		Discount:        decimal.Zero,
		Total:           decimal.NewFromInt(1150),
		PaymentMethod:   order.MethodCreditCard,
		ContactEmail:    "farmer@example.com",
		ShippingAddress: &order.Address{Street: "12 Temple Rd", City: "Kandy", Country: "LK"},
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, RunMigrations(context.Background(), store.Pool()))
}

func TestOrderRoundTrip(t *testing.T) {
	store := newTestStore(t)
	svc := testOrderService(store)
	ctx := context.Background()

	customer := uuid.New()
	d := testDraft()
	d.CustomerID = &customer
	created, err := svc.Create(ctx, d)
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Subtotal.Equal(d.Subtotal))
	assert.True(t, got.Total.Equal(d.Total))
	assert.Equal(t, customer, *got.CustomerID)
	assert.Equal(t, "Kandy", got.ShippingAddress.City)
	assert.Nil(t, got.BillingAddress)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, int64(1), got.Version)

	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, order.ErrNotFound)

	mine, err := svc.List(ctx, order.ListFilter{CustomerID: &customer})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, created.ID, mine[0].ID)
}

func TestTransitionWritesOutboxOnce(t *testing.T) {
	store := newTestStore(t)
	svc := testOrderService(store)
	ctx := context.Background()

	o, err := svc.Create(ctx, testDraft())
	require.NoError(t, err)

	tr := order.Transition{Kind: order.KindPaymentSucceeded, CorrelationID: "pi_1", IntentID: "pi_1", Last4: "4242"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.ApplyTransition(ctx, o.ID, tr)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.Len(t, got.Payment.History, 1)

	var count int
	var eventType string
	err = store.Pool().QueryRow(ctx, `
		SELECT COUNT(*), MIN(event_type)
		FROM order_outbox
		WHERE payload->>'order_id' = $1`, o.ID.String()).Scan(&count, &eventType)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "orders.paid", eventType)
}

func TestIllegalTransitionLeavesRowUntouched(t *testing.T) {
	store := newTestStore(t)
	svc := testOrderService(store)
	ctx := context.Background()

	o, err := svc.Create(ctx, testDraft())
	require.NoError(t, err)

	_, _, err = svc.ApplyTransition(ctx, o.ID, order.Transition{Kind: order.KindRefunded, CorrelationID: "re_1", RefundID: "re_1"})
	assert.ErrorIs(t, err, order.ErrIllegalTransition)

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Version, got.Version)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Empty(t, got.Payment.History)
}

func TestRowLockDoesNotBlockOtherOrders(t *testing.T) {
	store := newTestStore(t)
	svc := testOrderService(store)
	repo := store.Orders()
	ctx := context.Background()

	a, err := svc.Create(ctx, testDraft())
	require.NoError(t, err)
	b, err := svc.Create(ctx, testDraft())
	require.NoError(t, err)

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = repo.Update(ctx, a.ID, func(o *order.Order) (bool, error) {
			close(locked)
			<-release
			return false, nil
		})
	}()
	<-locked
	defer close(release)

	start := time.Now()
	_, err = svc.UpdateStatus(ctx, b.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPaymentMethodDefaults(t *testing.T) {
	store := newTestStore(t)
	svc := paymentmethod.NewService(store.PaymentMethods(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	user := uuid.New()

	draft := func(id string, isDefault bool) paymentmethod.Draft {
		return paymentmethod.Draft{
			GatewayMethodID: id,
			Brand:           paymentmethod.BrandVisa,
			Last4:           "4242",
			ExpMonth:        12,
			ExpYear:         time.Now().Year() + 2,
			IsDefault:       isDefault,
		}
	}

	first, err := svc.Add(ctx, user, draft("pm_1", true))
	require.NoError(t, err)
	second, err := svc.Add(ctx, user, draft("pm_2", true))
	require.NoError(t, err)

	_, err = svc.Add(ctx, uuid.New(), draft("pm_1", false))
	assert.ErrorIs(t, err, paymentmethod.ErrDuplicate)

	list, err := svc.List(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.False(t, list[1].IsDefault)

	_, err = svc.SetDefault(ctx, user, first.ID)
	require.NoError(t, err)
	def, err := svc.Default(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first.ID, def.ID)

	assert.ErrorIs(t, svc.Delete(ctx, uuid.New(), first.ID), paymentmethod.ErrNotFound)
	require.NoError(t, svc.Delete(ctx, user, first.ID))
}

type recordingPublisher struct {
	mu   sync.Mutex
	fail bool
	msgs []messaging.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestOutboxDispatcherRelaysStatusChanges(t *testing.T) {
	store := newTestStore(t)
	svc := testOrderService(store)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	o, err := svc.Create(ctx, testDraft())
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	pub := &recordingPublisher{fail: true}
	d := messaging.NewOutboxDispatcher(store.Pool(), pub, "order_outbox", time.Second, 10, logger)

	sent, err := d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	var status string
	var attempts int
	err = store.Pool().QueryRow(ctx, `SELECT status, attempts FROM order_outbox`).Scan(&status, &attempts)
	require.NoError(t, err)
	assert.Equal(t, "pending", status)
	assert.Equal(t, 1, attempts)

	// Skip the backoff window.
	_, err = store.Pool().Exec(ctx, `UPDATE order_outbox SET next_retry = NOW()`)
	require.NoError(t, err)
	pub.fail = false

	sent, err = d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "orders.status_changed", pub.msgs[0].RoutingKey)
	assert.Contains(t, string(pub.msgs[0].Payload), `"status": "cancelled"`)

	sent, err = d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
