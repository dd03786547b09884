package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. Transfers replay the first
// response for a repeated Idempotency-Key when idempotency is non-nil.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotency fiber.Handler) {
	if idempotency != nil {
		r.Post("/payments/transfers", idempotency, h.CreateTransfer)
		return
	}
	r.Post("/payments/transfers", h.CreateTransfer)
}
