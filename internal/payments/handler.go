package payments

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/wallet"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	To     string          `json:"to"`
	Amount json.RawMessage `json:"amount"`
}

// parseAmount accepts the amount as a JSON number or a numeric string.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if text == "" || text == "null" {
		return decimal.Zero, apperror.ErrValidationFailed.WithMessage("amount is required")
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, apperror.ErrInvalidAmount.WithMessage("amount must be a decimal number")
	}
	return amount, nil
}

// CreateTransfer sends money from the caller to another user by handle.
func (h *Handler) CreateTransfer(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return apperror.ErrMissingToken
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.ErrInvalidRequest
	}
	if strings.TrimSpace(req.To) == "" {
		return apperror.ErrValidationFailed.WithMessage("to is required")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}

	res, err := h.service.Transfer(c.UserContext(), TransferInput{FromUserID: uid, To: req.To, Amount: amount})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction": wallet.NewTransactionResponse(res.Debit),
		"balance":     res.SenderBalance.StringFixed(2),
		"currency":    h.service.ledger.Currency(),
	})
}
