package middleware

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/logging"
)

const loginWindow = time.Minute

// LoginRateLimit limits login attempts per handle, or per client IP when the
// body names none. Without Redis, or when Redis errors, requests pass.
func LoginRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			Handle string `json:"handle"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Handle), "@"))
		if subject == "" {
			subject = "ip:" + c.IP()
		}
		key := "rl:login:" + subject

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err == nil && cnt == 1 {
			err = cache.Expire(ctx, key, loginWindow).Err()
		}
		if err != nil {
			logging.FromContext(ctx, logger).Warn("login rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if cnt > int64(maxPerMin) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, formatSeconds(ttl))
			}
			return apperror.ErrTooManyRequests
		}
		return c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
