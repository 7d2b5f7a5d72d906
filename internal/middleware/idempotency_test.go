package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/joytrade/joycoin/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int64) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	var calls atomic.Int64
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})
	app.Post("/other", func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"other": true})
	})

	return app, &calls
}

func postWithKey(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode, string(body)
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	app, calls := setupTestApp(t)

	for i := 0; i < 2; i++ {
		status, _ := postWithKey(t, app, "/resource", "")
		if status != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("keyless requests must reach the handler every time, got %d calls", calls.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	status, body := postWithKey(t, app, "/resource", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}

	status2, body2 := postWithKey(t, app, "/resource", "abc123")
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected cached %d got %d", fiber.StatusCreated, status2)
	}
	if body2 != body {
		t.Fatalf("expected cached payload %s got %s", body, body2)
	}
	if calls.Load() != 1 {
		t.Fatalf("cached replay must not reach the handler, got %d calls", calls.Load())
	}
}

func TestIdempotencyKeyScopedToEndpoint(t *testing.T) {
	app, calls := setupTestApp(t)

	status, _ := postWithKey(t, app, "/resource", "shared-key")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}
	status2, body2 := postWithKey(t, app, "/other", "shared-key")
	if status2 != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status2)
	}
	if !strings.Contains(body2, "other") {
		t.Fatalf("same key on another endpoint must not replay, got %s", body2)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected both handlers invoked, got %d calls", calls.Load())
	}
}
