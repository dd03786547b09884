package wallet

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/ledger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Ledger is the subset of the ledger service the wallet endpoints read from.
type Ledger interface {
	GetOrCreateWallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
	ListTransactions(ctx context.Context, ownerID string, limit int) ([]ledger.TransactionRecord, error)
}

// Handler exposes wallet HTTP endpoints for the authenticated user.
type Handler struct {
	ledger       Ledger
	defaultLimit int
	maxLimit     int
}

// NewHandler builds a wallet HTTP handler. Non-positive limits fall back to
// 20 records per page and a cap of 100.
func NewHandler(l Ledger, defaultLimit, maxLimit int) *Handler {
	if maxLimit <= 0 {
		maxLimit = maxHistoryLimit
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = min(defaultHistoryLimit, maxLimit)
	}
	return &Handler{ledger: l, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Get returns the caller's wallet, opening it on first access.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return apperror.ErrMissingToken
	}
	w, err := h.ledger.GetOrCreateWallet(c.UserContext(), uid)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(NewResponse(w))
}

// Transactions returns the caller's most recent records, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return apperror.ErrMissingToken
	}

	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.ErrInvalidLimit
		}
		limit = min(n, h.maxLimit)
	}

	records, err := h.ledger.ListTransactions(c.UserContext(), uid, limit)
	if err != nil {
		return err
	}
	items := make([]TransactionResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, NewTransactionResponse(rec))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transactions": items,
		"count":        len(items),
		"limit":        limit,
	})
}
