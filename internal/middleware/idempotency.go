package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/logging"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idempotency:v2:"
	pendingPrefix        = "pending:"
	cacheOpTimeout       = 2 * time.Second
	reserveAttempts      = 2
)

// errKeyReleased means the key was released between SetNX and Get, so the
// earlier attempt failed and the reservation can be taken again.
var errKeyReleased = errors.New("idempotency key released")

type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        string `json:"body"`
}

// Idempotency replays the first committed response for a caller's
// Idempotency-Key. Keys are scoped to the authenticated user and bound to a
// hash of the request body; only successful responses are kept, so a request
// that failed may be retried with the same key.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return apperror.ErrIdempotencyKeyRequired
		}
		log := logging.FromContext(c.UserContext(), logger).With(slog.String("idempotency_key", key))

		uid, _ := c.Locals("user_id").(string)
		cacheKey := idempotencyPrefix + uid + ":" + key
		fingerprint := bodyFingerprint(c.Method(), c.Path(), c.Body())

		ctx, cancel := context.WithTimeout(c.UserContext(), cacheOpTimeout)
		defer cancel()

		for attempt := 1; ; attempt++ {
			reserved, err := cache.SetNX(ctx, cacheKey, pendingPrefix+fingerprint, ttl).Result()
			if err != nil {
				log.Error("idempotency reservation failed", slog.Any("error", err))
				return apperror.ErrIdempotencyUnavailable
			}
			if reserved {
				break
			}
			err = replay(ctx, c, cache, cacheKey, fingerprint, log)
			if !errors.Is(err, errKeyReleased) {
				return err
			}
			if attempt == reserveAttempts {
				return apperror.ErrIdempotencyInProgress
			}
		}

		if err := c.Next(); err != nil {
			release(cache, cacheKey, log)
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusBadRequest {
			release(cache, cacheKey, log)
			return nil
		}

		payload, err := json.Marshal(storedResponse{
			Fingerprint: fingerprint,
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        string(c.Response().Body()),
		})
		if err != nil {
			release(cache, cacheKey, log)
			return err
		}

		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), cacheOpTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			// The operation already committed; the response still goes out.
			log.Error("failed to persist idempotent response", slog.Any("error", err))
			release(cache, cacheKey, log)
		}
		return nil
	}
}

func replay(ctx context.Context, c *fiber.Ctx, cache *redis.Client, cacheKey, fingerprint string, log *slog.Logger) error {
	cached, err := cache.Get(ctx, cacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return errKeyReleased
	}
	if err != nil {
		log.Error("idempotency lookup failed", slog.Any("error", err))
		return apperror.ErrIdempotencyUnavailable
	}

	if pending, ok := strings.CutPrefix(cached, pendingPrefix); ok {
		if pending != fingerprint {
			return apperror.ErrIdempotencyKeyReused
		}
		return apperror.ErrIdempotencyInProgress
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		log.Warn("failed to decode stored idempotent response", slog.Any("error", err))
		return apperror.ErrIdempotencyInProgress
	}
	if stored.Fingerprint != fingerprint {
		return apperror.ErrIdempotencyKeyReused
	}

	if stored.ContentType != "" {
		c.Set(fiber.HeaderContentType, stored.ContentType)
	}
	c.Set("Idempotent-Replayed", "true")
	return c.Status(stored.Status).SendString(stored.Body)
}

func release(cache *redis.Client, cacheKey string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := cache.Del(ctx, cacheKey).Err(); err != nil {
		log.Warn("failed to release idempotency key", slog.Any("error", err))
	}
}

func bodyFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + " " + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
