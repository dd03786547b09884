package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/wallet"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	PIN         string `json:"pin"`
}

type userResponse struct {
	ID           string     `json:"id"`
	Handle       string     `json:"handle"`
	DisplayName  string     `json:"display_name"`
	TokenVersion int        `json:"token_version"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func newUserResponse(u User) userResponse {
	return userResponse{
		ID:           u.ID,
		Handle:       u.Handle,
		DisplayName:  u.DisplayName,
		TokenVersion: u.TokenVersion,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

// Register handles user onboarding and returns the new user with its wallet.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.ErrInvalidRequest
	}
	acct, err := h.service.Register(c.UserContext(), Registration{
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		PIN:         req.PIN,
	})
	if err != nil {
		return mapError(err)
	}
	body := fiber.Map{"user": newUserResponse(acct.User)}
	if acct.Wallet.OwnerID != "" {
		body["wallet"] = wallet.NewResponse(acct.Wallet)
	}
	return c.Status(http.StatusCreated).JSON(body)
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return apperror.ErrMissingToken
	}
	user, err := h.service.Get(c.UserContext(), uid)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(newUserResponse(user))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrWeakPIN):
		return apperror.ErrValidationFailed.WithMessage(err.Error())
	case errors.Is(err, ErrHandleTaken):
		return apperror.ErrHandleTaken
	case errors.Is(err, ErrInvalidCredentials):
		return apperror.ErrInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return apperror.ErrResourceNotFound.WithMessage("user not found")
	default:
		return err
	}
}
