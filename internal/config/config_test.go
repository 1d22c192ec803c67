package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("GATEWAY_API_KEY", "sk_test_123")
	t.Setenv("WEBHOOK_SIGNING_SECRET", "whsec_123")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, GatewayHTTP, cfg.GatewayMode)
	assert.Equal(t, 300*time.Second, cfg.WebhookTolerance)
	assert.Equal(t, 24*time.Hour, cfg.IntentTTL)
	assert.Equal(t, "lkr", cfg.DefaultCurrency)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 32, cfg.OutboxBatchSize)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("GATEWAY_MODE", "fake")
	t.Setenv("WEBHOOK_TOLERANCE", "120")
	t.Setenv("GATEWAY_RPS", "2.5")
	t.Setenv("INTENT_TTL", "30m")
	t.Setenv("DEFAULT_CURRENCY", "USD")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, GatewayFake, cfg.GatewayMode)
	assert.Equal(t, 2*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, 2.5, cfg.GatewayRPS)
	assert.Equal(t, 30*time.Minute, cfg.IntentTTL)
	assert.Equal(t, "usd", cfg.DefaultCurrency)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadReportsEveryProblem(t *testing.T) {
	t.Setenv("GATEWAY_API_KEY", "")
	t.Setenv("WEBHOOK_SIGNING_SECRET", "  ")
	t.Setenv("OUTBOX_INTERVAL", "soon")
	t.Setenv("GATEWAY_MODE", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{"GATEWAY_API_KEY", "WEBHOOK_SIGNING_SECRET", "OUTBOX_INTERVAL", "GATEWAY_MODE"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRejectsZeroTolerance(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_TOLERANCE", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "WEBHOOK_TOLERANCE")
}
