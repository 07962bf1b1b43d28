package bootstrap

import (
	"context"
	"strings"

	"cleanup_worker/adapter/in/http"
	"cleanup_worker/config"
	"cleanup_worker/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the operator API. base bounds runs started over HTTP.
func NewAPI(base context.Context, cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		// go-json for the report payloads
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Run triggers carry no body.
		BodyLimit:          64 * 1024,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "*" && cfg.IsProduction() {
		allowOrigins = ""
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
		MaxAge:        86400,
	}))

	// Health, readiness and metrics (no auth)
	http.NewHealthHandler(http.HealthDeps{
		DB:    deps.SQLDB,
		Redis: deps.Redis,
		Mongo: deps.MongoDB,
	}).Register(app)

	api := app.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	api.Use(middleware.NoCache())

	http.NewRunHandler(base, deps.Runner).Register(api, middleware.RequireScope(middleware.ScopeRun))
	http.NewReportHandler(deps.Runner, deps.Reports, deps.Ledger).Register(api)

	return app
}
