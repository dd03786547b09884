package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 10*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, devAccessSecret, cfg.JWTSecret)
	assert.Equal(t, "USD", cfg.Ledger.Currency)
	assert.Equal(t, "100", cfg.Ledger.SeedBalance.String())
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 25*time.Millisecond, cfg.Ledger.RetryBackoff)
	assert.Equal(t, "uid", cfg.Stripe.OwnerMetadataKey)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.WebhookTolerance)
	assert.True(t, cfg.IsDev())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LEDGER_SEED_BALANCE", "0")
	t.Setenv("LEDGER_CURRENCY", "eur")
	t.Setenv("IDEMPOTENCY_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Ledger.SeedBalance.IsZero())
	assert.Equal(t, "EUR", cfg.Ledger.Currency)
	assert.Equal(t, 90*time.Second, cfg.IdempotencyTTL)
}

func TestLoadRequiresBackingServicesOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LEDGER_SEED_BALANCE", "lots")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateLedgerBounds(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Ledger.MaxAttempts = 0
	cfg.Ledger.HistoryDefaultLimit = 500
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "LEDGER_HISTORY_DEFAULT_LIMIT")
}
