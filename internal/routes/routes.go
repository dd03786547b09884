package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-ledger/internal/auth"
	"github.com/congo-pay/wallet-ledger/internal/config"
	"github.com/congo-pay/wallet-ledger/internal/funding"
	"github.com/congo-pay/wallet-ledger/internal/identity"
	"github.com/congo-pay/wallet-ledger/internal/ledger"
	"github.com/congo-pay/wallet-ledger/internal/logging"
	"github.com/congo-pay/wallet-ledger/internal/middleware"
	"github.com/congo-pay/wallet-ledger/internal/notification"
	"github.com/congo-pay/wallet-ledger/internal/payments"
	"github.com/congo-pay/wallet-ledger/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes. Without a
// database, users and wallets live in memory; that is only allowed in
// development environments.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID(d.Logger))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var (
		store        ledger.Store
		identityRepo identity.Repository
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger")
		store = ledger.NewInMemory()
		identityRepo = identity.NewMemoryRepository()
	}

	lc := d.Cfg.Ledger
	ledgerSvc := ledger.NewService(store, identity.NewDirectory(identityRepo),
		ledger.WithCurrency(lc.Currency),
		ledger.WithSeedBalance(lc.SeedBalance),
		ledger.WithRetry(lc.MaxAttempts, lc.RetryBackoff),
		ledger.WithLogger(d.Logger),
	)
	notifier := notification.NewLoggerNotifier(d.Logger)

	identitySvc := identity.NewService(identityRepo, ledgerSvc, d.Logger)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	paymentSvc := payments.NewService(ledgerSvc, notifier, d.Logger)

	identityHandler := identity.NewHandler(identitySvc)
	authHandler := auth.NewHandler(identitySvc, authSvc)
	walletHandler := wallet.NewHandler(ledgerSvc, lc.HistoryDefaultLimit, lc.HistoryMaxLimit)
	paymentHandler := payments.NewHandler(paymentSvc)

	if secret := d.Cfg.Stripe.WebhookSecret; secret != "" {
		provider := funding.NewStripeProvider(secret, d.Cfg.Stripe.WebhookTolerance, d.Cfg.Stripe.OwnerMetadataKey)
		fundingSvc := funding.NewService(provider, ledgerSvc, notifier, d.Logger)
		RegisterWebhookRoutes(app, funding.NewHandler(fundingSvc))
	} else {
		d.Logger.Warn("STRIPE_WEBHOOK_SECRET not set, stripe webhook disabled")
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identityHandler)
	jwtmw := middleware.JWTAuth(authSvc)
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute, d.Logger), jwtmw)

	// Protected routes
	protected := api.Group("", jwtmw)
	RegisterMeRoute(protected, identityHandler)
	RegisterWalletRoutes(protected, walletHandler)

	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	RegisterPaymentRoutes(protected, paymentHandler, idempotency)

	return nil
}
