package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/wallet-ledger/internal/config"
	"github.com/congo-pay/wallet-ledger/internal/identity"
)

// Service issues and verifies session tokens.
type Service struct {
	cfg    config.Config
	idRepo identity.Repository
}

// NewService builds the token service from the configured secrets and TTLs.
func NewService(cfg config.Config, idRepo identity.Repository) *Service {
	return &Service{cfg: cfg, idRepo: idRepo}
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Login issues an access and refresh token for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	now := time.Now()
	access, err := signToken(newClaims(user.ID, user.Handle, user.TokenVersion, TokenAccess, now, s.cfg.AccessTokenTTL), s.cfg.JWTSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := signToken(newClaims(user.ID, user.Handle, user.TokenVersion, TokenRefresh, now, s.cfg.RefreshTokenTTL), s.cfg.RefreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL.Seconds())}, nil
}

// Verify checks signature, expiry and type of token without consulting the
// user store.
func (s *Service) Verify(token string, kind TokenType) (*Claims, error) {
	secret := s.cfg.JWTSecret
	if kind == TokenRefresh {
		secret = s.cfg.RefreshSecret
	}
	return parseToken(token, secret, kind)
}

// Authorize verifies an access token and rejects it when the user has since
// logged out.
func (s *Service) Authorize(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.Verify(token, TokenAccess)
	if err != nil {
		return nil, err
	}
	if _, err := s.currentUser(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Refresh verifies the refresh token and returns a new access token if valid.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := s.Verify(refreshToken, TokenRefresh)
	if err != nil {
		return "", 0, err
	}
	user, err := s.currentUser(ctx, claims)
	if err != nil {
		return "", 0, err
	}
	access, err := signToken(newClaims(user.ID, user.Handle, user.TokenVersion, TokenAccess, time.Now(), s.cfg.AccessTokenTTL), s.cfg.JWTSecret)
	if err != nil {
		return "", 0, err
	}
	return access, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// Logout increments token version so older tokens become invalid.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.idRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	return s.idRepo.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) currentUser(ctx context.Context, claims *Claims) (identity.User, error) {
	user, err := s.idRepo.FindByID(ctx, claims.UserID())
	if errors.Is(err, identity.ErrUserNotFound) {
		return identity.User{}, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
	}
	if err != nil {
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}
