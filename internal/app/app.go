package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"gozon/checkout-service/internal/auth"
	"gozon/checkout-service/internal/config"
	"gozon/checkout-service/internal/gateway"
	"gozon/checkout-service/internal/httpapi"
	"gozon/checkout-service/internal/order"
	"gozon/checkout-service/internal/payment"
	"gozon/checkout-service/internal/paymentmethod"
	"gozon/checkout-service/internal/reconcile"
	"gozon/checkout-service/internal/storage"
	"gozon/checkout-service/internal/webhook"
	"gozon/checkout-service/internal/websocket"
	"gozon/checkout-service/pkg/contracts"
	"gozon/checkout-service/pkg/messaging"
)

const outboxTable = "order_outbox"

type App struct {
	cfg    config.Config
	logger *slog.Logger
	hub    *websocket.Hub

	// Set only with the postgres storage driver.
	store     *storage.Store
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	consumer  *messaging.Consumer

	httpSrv *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		hub:    websocket.NewHub(),
	}

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		orderRepo  order.Repository
		methodRepo paymentmethod.Repository
		health     httpapi.Pinger
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logger.Warn("using in-memory storage; orders are lost on restart")
		orderRepo = order.NewMemoryRepository(a.hub.Publish)
		methodRepo = paymentmethod.NewMemoryRepository()
	default:
		if err := a.connect(ctx); err != nil {
			return nil, err
		}
		orderRepo = a.store.Orders()
		methodRepo = a.store.PaymentMethods()
		health = a.store
	}

	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET is empty; every bearer token will be rejected")
	}

	orders := order.NewService(orderRepo, cfg.DefaultCurrency, logger)
	payments := payment.NewService(orders, gw, payment.Options{
		IntentTTL:   cfg.IntentTTL,
		CallTimeout: cfg.GatewayTimeout + 5*time.Second,
	}, logger)

	api := httpapi.NewServer(httpapi.Deps{
		Orders:         orders,
		Payments:       payments,
		PaymentMethods: paymentmethod.NewService(methodRepo, logger),
		Processor:      reconcile.NewProcessor(orders, logger),
		Verifier:       webhook.NewVerifier(cfg.WebhookSigningSecret, cfg.WebhookTolerance),
		Feed:           websocket.NewHandler(a.hub, orders, logger),
		Auth:           auth.NewAuthenticator(cfg.AuthJWTSecret),
		Health:         health,
		Logger:         logger,
	})
	a.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// connect opens the database and the broker. Status changes then travel
// order_outbox -> exchange -> consumer -> websocket hub.
func (a *App) connect(ctx context.Context) error {
	store, err := storage.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}

	publisher, err := messaging.NewRabbitPublisher(a.cfg.RabbitURL, a.cfg.OrdersExchange)
	if err != nil {
		store.Close()
		return err
	}

	consumer, err := messaging.NewRabbitConsumer(a.cfg.RabbitURL, a.cfg.OrdersExchange, a.cfg.OrdersStatusQueue, []string{"orders.#"}, a.logger)
	if err != nil {
		store.Close()
		_ = publisher.Close()
		return err
	}

	a.store = store
	a.publisher = publisher
	a.consumer = consumer
	a.outbox = messaging.NewOutboxDispatcher(store.Pool(), publisher, outboxTable, a.cfg.OutboxInterval, a.cfg.OutboxBatchSize, a.logger)
	return nil
}

func newGateway(cfg config.Config, logger *slog.Logger) (gateway.Client, error) {
	if cfg.GatewayMode == config.GatewayFake {
		logger.Warn("using in-process fake payment gateway")
		return gateway.NewFake(), nil
	}

	client, err := gateway.NewHTTPClient(gateway.Options{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
		RPS:     cfg.GatewayRPS,
		Burst:   int(cfg.GatewayRPS),
		Retries: cfg.GatewayRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init gateway: %w", err)
	}
	return client, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go a.hub.Run(ctx)

	if a.outbox != nil {
		a.outbox.Start(ctx)
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Start(ctx, a.handleStatusMessage); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		a.logger.Info("checkout http server listening", "addr", a.cfg.HTTPAddr, "storage", a.cfg.StorageDriver)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "err", err)
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// handleStatusMessage feeds committed status changes from the broker to the
// websocket hub.
func (a *App) handleStatusMessage(_ context.Context, msg amqp091.Delivery) error {
	var evt contracts.OrderStatusChangedEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return fmt.Errorf("decode status event: %w", err)
	}
	if evt.OrderID == "" {
		return errors.New("status event without order id")
	}

	a.hub.Publish(evt)
	return nil
}

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
