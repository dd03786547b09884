package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	devAccessSecret  = "dev-access-secret"
	devRefreshSecret = "dev-refresh-secret"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"WalletLedger"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	JWTSecret       string        `env:"JWT_SECRET"`
	RefreshSecret   string        `env:"JWT_REFRESH_SECRET"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	LoginPerMinute  int           `env:"LOGIN_ATTEMPTS_PER_MINUTE" envDefault:"5"`

	Stripe StripeConfig `envPrefix:"STRIPE_"`
	Ledger LedgerConfig `envPrefix:"LEDGER_"`
}

// StripeConfig holds the webhook verification settings.
type StripeConfig struct {
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	OwnerMetadataKey string        `env:"OWNER_METADATA_KEY" envDefault:"uid"`
}

// LedgerConfig tunes the wallet ledger.
type LedgerConfig struct {
	Currency            string          `env:"CURRENCY" envDefault:"USD"`
	SeedBalance         decimal.Decimal `env:"SEED_BALANCE" envDefault:"100.00"`
	MaxAttempts         int             `env:"MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoff        time.Duration   `env:"RETRY_BACKOFF" envDefault:"25ms"`
	HistoryDefaultLimit int             `env:"HISTORY_DEFAULT_LIMIT" envDefault:"20"`
	HistoryMaxLimit     int             `env:"HISTORY_MAX_LIMIT" envDefault:"100"`
}

// Load reads a .env file when one is present, then populates a Config from
// the environment and validates it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Ledger.Currency = strings.ToUpper(strings.TrimSpace(cfg.Ledger.Currency))

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devAccessSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	if !c.IsDev() {
		for name, v := range map[string]string{
			"DATABASE_URL":          c.DatabaseURL,
			"REDIS_URL":             c.RedisURL,
			"JWT_SECRET":            c.JWTSecret,
			"JWT_REFRESH_SECRET":    c.RefreshSecret,
			"STRIPE_WEBHOOK_SECRET": c.Stripe.WebhookSecret,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s must be set when APP_ENV=%s", name, c.AppEnv))
			}
		}
	}
	if len(c.Ledger.Currency) != 3 {
		errs = append(errs, fmt.Errorf("LEDGER_CURRENCY must be a 3-letter code, got %q", c.Ledger.Currency))
	}
	if c.Ledger.SeedBalance.IsNegative() {
		errs = append(errs, errors.New("LEDGER_SEED_BALANCE must not be negative"))
	}
	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, errors.New("LEDGER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Ledger.HistoryDefaultLimit < 1 || c.Ledger.HistoryMaxLimit < c.Ledger.HistoryDefaultLimit {
		errs = append(errs, errors.New("LEDGER_HISTORY_DEFAULT_LIMIT must be between 1 and LEDGER_HISTORY_MAX_LIMIT"))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the service runs in a local development environment,
// where missing backing services fall back to in-memory implementations.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
