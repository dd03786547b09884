// Package apperror maps domain failures onto a stable HTTP error contract.
package apperror

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/ledger"
	"github.com/congo-pay/wallet-ledger/internal/logging"
)

// AppError is the error shape rendered to API clients.
type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

// WithMessage returns a copy of e carrying a more specific message.
func (e *AppError) WithMessage(msg string) *AppError {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid handle or PIN"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrHandleTaken        = &AppError{http.StatusConflict, "HANDLE_TAKEN", "Handle is already taken"}
	ErrTooManyRequests    = &AppError{http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Too many attempts, try again later"}
	ErrInternal           = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrIdempotencyKeyRequired = &AppError{http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED", "Idempotency-Key header required"}
	ErrIdempotencyInProgress  = &AppError{http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "A request with this Idempotency-Key is still processing"}
	ErrIdempotencyKeyReused   = &AppError{http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was already used with a different request"}
	ErrIdempotencyUnavailable = &AppError{http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "Idempotency store is temporarily unavailable"}

	ErrInvalidAmount     = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero with at most two decimals"}
	ErrInvalidLimit      = &AppError{http.StatusBadRequest, "INVALID_LIMIT", "Limit must be a positive integer"}
	ErrInvalidOwner      = &AppError{http.StatusBadRequest, "INVALID_OWNER", "Owner is required"}
	ErrInsufficientFunds = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrRecipientNotFound = &AppError{http.StatusUnprocessableEntity, "RECIPIENT_NOT_FOUND", "Recipient not found"}
	ErrSelfTransfer      = &AppError{http.StatusUnprocessableEntity, "SELF_TRANSFER_NOT_ALLOWED", "Cannot transfer to yourself"}
	ErrWalletNotFound    = &AppError{http.StatusNotFound, "WALLET_NOT_FOUND", "Wallet not found"}
	ErrDuplicateDeposit  = &AppError{http.StatusConflict, "DUPLICATE_DEPOSIT", "Deposit already applied"}
	ErrVersionConflict   = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Wallet was modified concurrently, please retry"}
	ErrStoreUnavailable  = &AppError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Ledger store is temporarily unavailable"}
)

var ledgerErrors = []struct {
	err error
	app *AppError
}{
	{ledger.ErrInvalidAmount, ErrInvalidAmount},
	{ledger.ErrInvalidLimit, ErrInvalidLimit},
	{ledger.ErrInvalidOwner, ErrInvalidOwner},
	{ledger.ErrInsufficientFunds, ErrInsufficientFunds},
	{ledger.ErrRecipientNotFound, ErrRecipientNotFound},
	{ledger.ErrSelfTransfer, ErrSelfTransfer},
	{ledger.ErrWalletNotFound, ErrWalletNotFound},
	{ledger.ErrDuplicateDeposit, ErrDuplicateDeposit},
	{ledger.ErrRetriesExhausted, ErrVersionConflict},
	{ledger.ErrConflict, ErrVersionConflict},
	{ledger.ErrStoreUnavailable, ErrStoreUnavailable},
}

// From resolves err to an AppError. Unknown errors become ErrInternal.
func From(err error) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		return app
	}
	for _, m := range ledgerErrors {
		if errors.Is(err, m.err) {
			return m.app
		}
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return &AppError{Status: fe.Code, Code: codeFor(fe.Code), Message: fe.Message}
	}
	return ErrInternal
}

// Handler renders every error returned by a route as
// {"error":{"code":...,"message":...}}.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		app := From(err)
		if app.Status >= http.StatusInternalServerError {
			logging.FromContext(c.UserContext(), logger).Error("request failed",
				slog.String("method", c.Method()),
				slog.String("path", c.Path()),
				slog.String("code", app.Code),
				slog.Any("error", err),
			)
		}
		return c.Status(app.Status).JSON(fiber.Map{
			"error": fiber.Map{"code": app.Code, "message": app.Message},
		})
	}
}

func codeFor(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "ERROR"
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
