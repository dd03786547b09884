package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/identity"
)

// RegisterIdentityRoutes wires onboarding; registration also opens the wallet.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterMeRoute exposes the caller's profile.
func RegisterMeRoute(r fiber.Router, h *identity.Handler) {
	r.Get("/me", h.Me)
}
