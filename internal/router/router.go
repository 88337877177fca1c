package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/handlers"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/middleware"
	"github.com/soltixdb/shardgate/internal/proxy"
	"github.com/soltixdb/shardgate/internal/utils"
)

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, coord *proxy.Coordinator, store metadata.Store, cfg *config.Config) *handlers.Handler {
	h := handlers.New(logger, coord, store, utils.Version)

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization," + utils.HeaderAPIKey + "," + utils.HeaderRequestID,
	}))
	app.Use(logging.FiberMiddleware(logger, "/health"))

	// Health check (no auth required)
	app.Get("/health", h.Health)

	authMiddleware := middleware.APIKeyAuth(logger, cfg.Auth.APIKeys, cfg.Auth.Enabled)

	v1 := app.Group("/v1", authMiddleware)
	v1.Get("/clusters", h.ListClusters)
	v1.Get("/clusters/:cluster", h.GetCluster)
	v1.Get("/clusters/:cluster/locate/:key", h.Locate)
	v1.Get("/clusters/:cluster/status", h.GetStatus)

	admin := app.Group("/admin", authMiddleware)
	admin.Get("/failfast", h.FailFast)
	admin.Get("/pools", h.Pools)
	admin.Get("/latency", h.Latency)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates the admin Fiber app
func New(logger *logging.Logger, coord *proxy.Coordinator, store metadata.Store, cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "shardgate admin",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, coord, store, cfg)

	return app
}
