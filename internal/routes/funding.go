package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/funding"
)

// RegisterWebhookRoutes wires payment-provider callbacks. They are
// authenticated by signature, not by bearer token.
func RegisterWebhookRoutes(app *fiber.App, h *funding.Handler) {
	app.Post("/webhooks/stripe", h.Stripe)
}
