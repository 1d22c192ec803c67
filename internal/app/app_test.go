package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gozon/checkout-service/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		HTTPAddr:             "127.0.0.1:0",
		StorageDriver:        config.StorageMemory,
		GatewayMode:          config.GatewayFake,
		WebhookSigningSecret: "whsec_test",
		WebhookTolerance:     5 * time.Minute,
		IntentTTL:            time.Hour,
		DefaultCurrency:      "lkr",
		ShutdownGracePeriod:  time.Second,
	}
}

func TestNewWithMemoryStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), memoryConfig(), logger)
	require.NoError(t, err)
	assert.Nil(t, a.store)
	assert.Nil(t, a.outbox)

	srv := httptest.NewServer(a.httpSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRejectsBadGatewayURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig()
	cfg.GatewayMode = config.GatewayHTTP
	cfg.GatewayAPIKey = "sk_test"
	cfg.GatewayBaseURL = "not a url"

	_, err := New(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "init gateway")
}

func TestHandleStatusMessage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), memoryConfig(), logger)
	require.NoError(t, err)

	assert.Error(t, a.handleStatusMessage(context.Background(), amqp091.Delivery{Body: []byte("{")}))
	assert.Error(t, a.handleStatusMessage(context.Background(), amqp091.Delivery{Body: []byte(`{"status":"paid"}`)}))

	// A well-formed event is handed to the running hub.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.hub.Run(ctx)
		close(done)
	}()
	body := []byte(`{"order_id":"9f3c7a40-5a2e-4a57-a8c3-2f0b3e7b9d11","status":"processing","version":2}`)
	assert.NoError(t, a.handleStatusMessage(context.Background(), amqp091.Delivery{Body: body}))
	cancel()
	<-done
}
