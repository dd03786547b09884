package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/auth"
)

// Authorizer verifies an access token against the current session state.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*auth.Claims, error)
}

// JWTAuth returns a middleware that validates bearer access tokens, rejects
// tokens revoked by logout, and exposes the caller as the user_id and handle
// locals.
func JWTAuth(authz Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return apperror.ErrMissingToken
		}

		claims, err := authz.Authorize(c.UserContext(), strings.TrimSpace(token))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
				return apperror.ErrInvalidToken
			}
			return err
		}

		c.Locals("user_id", claims.UserID())
		c.Locals("handle", claims.Handle)
		c.Locals("token_version", claims.Version)
		return c.Next()
	}
}
