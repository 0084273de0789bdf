package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/guest-messaging/internal/api/http/handlers"
	"github.com/spec-kit/guest-messaging/internal/auth"
	"github.com/spec-kit/guest-messaging/internal/observability"
	"github.com/spec-kit/guest-messaging/internal/realtime"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Conversations  *handlers.ConversationsHandler
	Gateway        *realtime.Gateway
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware

	HandshakeTimeout time.Duration
	AllowedOrigins   []string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health", cfg.Health.Live)
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	conversations := api.Group("/conversations")
	conversations.Post("/", cfg.Conversations.CreateConversation)
	conversations.Get("/", cfg.Conversations.ListConversations)
	conversations.Get("/:id", cfg.Conversations.GetConversation)
	conversations.Get("/:id/messages", cfg.Conversations.ListMessages)
	conversations.Post("/:id/messages", cfg.Conversations.SendMessage)
	conversations.Patch("/:id/read", cfg.Conversations.MarkRead)
	conversations.Patch("/:id/close", auth.RequireStaff(), cfg.Conversations.CloseConversation)

	if cfg.Gateway != nil {
		app.Get("/ws", cfg.AuthMiddleware.HandleUpgrade, websocket.New(cfg.Gateway.Serve, websocket.Config{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Origins:          cfg.AllowedOrigins,
		}))
	}
}
