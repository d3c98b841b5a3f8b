package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/duobank/duobank/internal/account"
	"github.com/duobank/duobank/internal/audit"
	"github.com/duobank/duobank/internal/auth"
	"github.com/duobank/duobank/internal/config"
	"github.com/duobank/duobank/internal/identity"
	"github.com/duobank/duobank/internal/ledger"
	"github.com/duobank/duobank/internal/middleware"
	"github.com/duobank/duobank/internal/notification"
	"github.com/duobank/duobank/internal/transactions"
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
	if !isDev(d.Cfg.Env) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.AccessLog(d.Logger))

	RegisterHealthRoutes(app, d)

	// Storage: Postgres when configured, otherwise the in-memory store with a
	// seeded system user so exchanges work out of the box.
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		mem := ledger.NewMemoryStore()
		mem.Bootstrap()
		store = mem
	}

	var notifier notification.Notifier
	if d.Cache != nil {
		notifier = notification.NewRedisNotifier(d.Cache, d.Logger)
	} else {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	var sink audit.Sink
	if d.DB != nil {
		sink = audit.NewPostgresSink(d.DB)
	} else {
		sink = audit.NewMemorySink()
	}

	engine := ledger.NewEngine(store, notifier, d.Logger)

	var identityRepo identity.Repository
	if d.DB != nil {
		identityRepo = identity.NewPostgresRepository(d.DB)
	} else {
		identityRepo = identity.NewMemoryRepository(store.(*ledger.MemoryStore))
	}
	identitySvc := identity.NewService(identityRepo, engine, sink, d.Logger)

	authSvc := auth.NewService(d.Cfg, identityRepo)
	authHandler := auth.NewHandler(identitySvc, authSvc)
	accountHandler := account.NewHandler(account.NewService(store))
	txHandler := transactions.NewHandler(engine, store)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	rateLimiter := middleware.LoginRateLimit(d.Cache, 5)
	RegisterAuthRoutes(api, authHandler, rateLimiter)

	// Protected routes
	jwtmw := middleware.JWTAuth(d.Cfg, identityRepo)
	protected := api.Group("", jwtmw)
	protected.Get("/me", authHandler.Me)
	RegisterAccountRoutes(protected, accountHandler)

	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	RegisterTransactionRoutes(protected, txHandler, idem)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
