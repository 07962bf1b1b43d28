package http

import (
	"context"
	"time"

	"cleanup_worker/infra/database"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthDeps are the optional stores readiness checks. Nil means not configured.
type HealthDeps struct {
	DB    *sqlx.DB
	Redis *redis.Client
	Mongo *mongo.Client
}

type HealthHandler struct {
	deps    HealthDeps
	timeout time.Duration
}

func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 5 * time.Second}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true
	check := func(name string, configured bool, ping func(context.Context) error) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	check("postgres", h.deps.DB != nil, func(ctx context.Context) error { return h.deps.DB.PingContext(ctx) })
	check("redis", h.deps.Redis != nil, func(ctx context.Context) error { return h.deps.Redis.Ping(ctx).Err() })
	check("mongodb", h.deps.Mongo != nil, func(ctx context.Context) error { return h.deps.Mongo.Ping(ctx, nil) })

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.deps.DB != nil {
		body["postgres_pool"] = database.GetPoolStats(h.deps.DB)
	}
	if h.deps.Redis != nil {
		body["redis_pool"] = database.GetRedisStats(h.deps.Redis)
	}
	return c.Status(statusCode).JSON(body)
}
