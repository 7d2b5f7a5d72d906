package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/joytrade/joycoin/internal/config"
	"github.com/joytrade/joycoin/internal/deal"
	"github.com/joytrade/joycoin/internal/engine"
	"github.com/joytrade/joycoin/internal/ledger"
	"github.com/joytrade/joycoin/internal/middleware"
	"github.com/joytrade/joycoin/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.Dev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))
	app.Use(middleware.Metrics())
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgres(d.DB)
	} else {
		store = ledger.NewMemory()
	}

	var notifier notification.Notifier
	if d.Cache != nil {
		notifier = notification.NewQueueNotifier(d.Cache, d.Cfg.NotifyQueueKey)
	} else {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	eng := engine.New(store, notifier, d.Logger)
	engineHandler := engine.NewHandler(eng)

	var dealStore deal.Store
	if d.DB != nil {
		dealStore = deal.NewPostgresStore(d.DB)
	} else {
		dealStore = deal.NewMemoryStore()
	}
	dealSvc := deal.NewService(dealStore, d.Logger)
	dealHandler := deal.NewHandler(dealSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, engineHandler)
	RegisterEscrowRoutes(api, engineHandler)
	RegisterDealRoutes(api, dealHandler)

	return nil
}
