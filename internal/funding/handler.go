package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
)

const stripeSignatureHeader = "Stripe-Signature"

var (
	errInvalidSignature = &apperror.AppError{Status: http.StatusBadRequest, Code: "INVALID_SIGNATURE", Message: "Webhook signature verification failed"}
	errMissingOwner     = &apperror.AppError{Status: http.StatusUnprocessableEntity, Code: "MISSING_OWNER", Message: "Payment event does not reference a wallet owner"}
	errCurrencyMismatch = &apperror.AppError{Status: http.StatusUnprocessableEntity, Code: "CURRENCY_MISMATCH", Message: "Payment currency is not supported"}
	errMalformedPayload = &apperror.AppError{Status: http.StatusUnprocessableEntity, Code: "MALFORMED_PAYLOAD", Message: "Payment event could not be decoded"}
)

// Handler exposes provider webhooks.
type Handler struct {
	service *Service
}

// NewHandler builds the webhook handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type webhookResponse struct {
	Outcome       Outcome `json:"outcome"`
	EventID       string  `json:"event_id"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Amount        string  `json:"amount,omitempty"`
	Balance       string  `json:"balance,omitempty"`
}

// Stripe reconciles a Stripe webhook delivery.
func (h *Handler) Stripe(c *fiber.Ctx) error {
	res, err := h.service.Reconcile(c.UserContext(), c.Body(), c.Get(stripeSignatureHeader))
	if err != nil {
		var payloadErr *PayloadError
		switch {
		case errors.Is(err, ErrInvalidSignature):
			return errInvalidSignature
		case errors.Is(err, ErrMissingOwner):
			return errMissingOwner
		case errors.Is(err, ErrCurrencyMismatch):
			return errCurrencyMismatch.WithMessage(err.Error())
		case errors.As(err, &payloadErr):
			return errMalformedPayload.WithMessage(payloadErr.Error())
		default:
			return err
		}
	}

	out := webhookResponse{Outcome: res.Outcome, EventID: res.EventID, TransactionID: res.TransactionID}
	if res.Outcome == OutcomeApplied {
		out.Amount = res.Amount.StringFixed(2)
		out.Balance = res.Balance.StringFixed(2)
	}
	return c.Status(http.StatusOK).JSON(out)
}
