package engine

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/joytrade/joycoin/internal/ledger"
	"github.com/joytrade/joycoin/internal/logging"
)

func setupTestApp() *fiber.App {
	h := NewHandler(New(ledger.NewMemory(), nil, logging.Discard()))
	app := fiber.New()
	app.Get("/wallets/:ownerId", h.Wallet)
	app.Get("/wallets/:ownerId/transactions", h.History)
	app.Post("/coins/award", h.Award)
	app.Post("/coins/spend", h.Spend)
	app.Post("/coins/topup", h.TopUp)
	app.Post("/escrow/hold", h.Hold)
	app.Post("/escrow/release", h.Release)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp.StatusCode, decoded
}

func TestWalletEndpointCreatesOnFirstSight(t *testing.T) {
	app := setupTestApp()

	status, body := doJSON(t, app, fiber.MethodGet, "/wallets/alice", "")
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["owner_id"] != "alice" || body["balance"] != "0" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestAwardAndSpendEndpoints(t *testing.T) {
	app := setupTestApp()

	status, body := doJSON(t, app, fiber.MethodPost, "/coins/award",
		`{"owner_id":"alice","amount":"100","category":"PHOTO_UPLOAD","description":"Upload reward","reference_id":"PHOTO-1"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("award: expected 201, got %d (%v)", status, body)
	}
	if body["type"] != "EARN" || body["amount"] != "100" {
		t.Fatalf("unexpected award body %v", body)
	}

	status, _ = doJSON(t, app, fiber.MethodPost, "/coins/spend",
		`{"owner_id":"alice","amount":"120","category":"PURCHASE"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("overdraft spend: expected 400, got %d", status)
	}

	status, body = doJSON(t, app, fiber.MethodGet, "/wallets/alice/transactions?type=EARN", "")
	if status != fiber.StatusOK {
		t.Fatalf("history: expected 200, got %d", status)
	}
	entries, ok := body["transactions"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected 1 EARN entry, got %v", body["transactions"])
	}
}

func TestAwardRejectsNegativeAmount(t *testing.T) {
	app := setupTestApp()

	status, _ := doJSON(t, app, fiber.MethodPost, "/coins/award",
		`{"owner_id":"alice","amount":"-5","category":"BONUS"}`)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestTopUpDuplicateReturnsConflictWithOriginal(t *testing.T) {
	app := setupTestApp()

	status, first := doJSON(t, app, fiber.MethodPost, "/coins/topup",
		`{"owner_id":"alice","amount":"500","payment_method":"stripe","payment_ref":"PAY-1"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("topup: expected 201, got %d", status)
	}

	status, dup := doJSON(t, app, fiber.MethodPost, "/coins/topup",
		`{"owner_id":"alice","amount":"500","payment_method":"stripe","payment_ref":"PAY-1"}`)
	if status != fiber.StatusConflict {
		t.Fatalf("duplicate topup: expected 409, got %d", status)
	}
	if dup["duplicate"] != true {
		t.Fatalf("expected duplicate marker, got %v", dup)
	}
	tx, ok := dup["transaction"].(map[string]any)
	if !ok || tx["id"] != first["id"] {
		t.Fatalf("expected original entry in conflict body, got %v", dup)
	}
}

func TestEscrowEndpointsRoundTrip(t *testing.T) {
	app := setupTestApp()

	if status, _ := doJSON(t, app, fiber.MethodPost, "/coins/award",
		`{"owner_id":"buyer","amount":"100","category":"BONUS"}`); status != fiber.StatusCreated {
		t.Fatalf("award failed: %d", status)
	}

	status, _ := doJSON(t, app, fiber.MethodPost, "/escrow/hold",
		`{"owner_id":"buyer","amount":"40","reference_id":"ORDER-1","description":"Order 1"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("hold: expected 201, got %d", status)
	}

	status, body := doJSON(t, app, fiber.MethodPost, "/escrow/release",
		`{"reference_id":"ORDER-1","to_owner_id":"seller","description":"Order 1 complete"}`)
	if status != fiber.StatusCreated {
		t.Fatalf("release: expected 201, got %d (%v)", status, body)
	}

	status, wallet := doJSON(t, app, fiber.MethodGet, "/wallets/seller", "")
	if status != fiber.StatusOK || wallet["balance"] != "40" {
		t.Fatalf("seller wallet wrong: %d %v", status, wallet)
	}

	// The hold is resolved, so releasing again is a 404.
	status, _ = doJSON(t, app, fiber.MethodPost, "/escrow/release",
		`{"reference_id":"ORDER-1","to_owner_id":"seller"}`)
	if status != fiber.StatusNotFound {
		t.Fatalf("second release: expected 404, got %d", status)
	}
}
