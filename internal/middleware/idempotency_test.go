package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet-ledger/internal/apperror"
	"github.com/congo-pay/wallet-ledger/internal/logging"
)

type idempotencyFixture struct {
	app   *fiber.App
	mr    *miniredis.Miniredis
	cache *redis.Client
	calls *atomic.Int32
}

func setupTestApp(t *testing.T) idempotencyFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	calls := new(atomic.Int32)
	app := fiber.New(fiber.Config{ErrorHandler: apperror.Handler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User", "u-1"))
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		if strings.Contains(string(c.Body()), "fail") {
			return apperror.ErrInsufficientFunds
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})
	return idempotencyFixture{app: app, mr: mr, cache: cache, calls: calls}
}

func post(t *testing.T, app *fiber.App, key, user, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	f := setupTestApp(t)

	status, body := post(t, f.app, "", "", "{}")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if !strings.Contains(body, "IDEMPOTENCY_KEY_REQUIRED") {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	f := setupTestApp(t)

	status, first := post(t, f.app, "abc123", "", `{"amount":"5.00"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// The handler must not run again.
	status, second := post(t, f.app, "abc123", "", `{"amount":"5.00"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	f := setupTestApp(t)

	if status, _ := post(t, f.app, "k1", "", `{"amount":"5.00"}`); status != fiber.StatusCreated {
		t.Fatalf("first request status %d", status)
	}
	status, body := post(t, f.app, "k1", "", `{"amount":"6.00"}`)
	if status != fiber.StatusUnprocessableEntity || !strings.Contains(body, "IDEMPOTENCY_KEY_REUSED") {
		t.Fatalf("expected key reuse rejection, got %d %s", status, body)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	f := setupTestApp(t)

	post(t, f.app, "shared", "alice", "{}")
	post(t, f.app, "shared", "bob", "{}")
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected both users to reach the handler, got %d calls", got)
	}
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	f := setupTestApp(t)

	status, _ := post(t, f.app, "retry-me", "", `{"fail":true}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected domain failure, got %d", status)
	}
	if f.mr.Exists(idempotencyPrefix + "u-1:retry-me") {
		t.Fatalf("expected failed request to release its key")
	}
	post(t, f.app, "retry-me", "", `{"fail":true}`)
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("expected retry to reach handler, got %d calls", got)
	}
}

func TestIdempotencyInProgress(t *testing.T) {
	f := setupTestApp(t)

	fp := bodyFingerprint(fiber.MethodPost, "/resource", []byte("{}"))
	if err := f.mr.Set(idempotencyPrefix+"u-1:busy", pendingPrefix+fp); err != nil {
		t.Fatalf("seed pending marker: %v", err)
	}
	status, body := post(t, f.app, "busy", "", "{}")
	if status != fiber.StatusConflict || !strings.Contains(body, "IDEMPOTENCY_IN_PROGRESS") {
		t.Fatalf("expected in-progress conflict, got %d %s", status, body)
	}
	if got := f.calls.Load(); got != 0 {
		t.Fatalf("expected handler not to run, ran %d times", got)
	}
}

// releaseBeforeGet deletes key right before the first GET, mimicking a failed
// attempt releasing its reservation between SetNX and Get.
type releaseBeforeGet struct {
	mr    *miniredis.Miniredis
	key   string
	fired atomic.Bool
}

func (h *releaseBeforeGet) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *releaseBeforeGet) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "get" && h.fired.CompareAndSwap(false, true) {
			h.mr.Del(h.key)
		}
		return next(ctx, cmd)
	}
}

func (h *releaseBeforeGet) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestIdempotencyReservesAgainAfterConcurrentRelease(t *testing.T) {
	f := setupTestApp(t)

	key := idempotencyPrefix + "u-1:flaky"
	fp := bodyFingerprint(fiber.MethodPost, "/resource", []byte("{}"))
	if err := f.mr.Set(key, pendingPrefix+fp); err != nil {
		t.Fatalf("seed pending marker: %v", err)
	}
	f.cache.AddHook(&releaseBeforeGet{mr: f.mr, key: key})

	status, body := post(t, f.app, "flaky", "", "{}")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d after re-reserving, got %d %s", fiber.StatusCreated, status, body)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("expected handler to run once, ran %d times", got)
	}

	status, _ = post(t, f.app, "flaky", "", "{}")
	if status != fiber.StatusCreated || f.calls.Load() != 1 {
		t.Fatalf("expected cached replay, got %d after %d calls", status, f.calls.Load())
	}
}

func TestIdempotencyStoreDown(t *testing.T) {
	f := setupTestApp(t)
	f.mr.Close()

	status, _ := post(t, f.app, "k", "", "{}")
	if status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 when redis is down, got %d", status)
	}
}
