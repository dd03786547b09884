package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet and history endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallet", h.Get)
	r.Get("/wallet/transactions", h.Transactions)
}
