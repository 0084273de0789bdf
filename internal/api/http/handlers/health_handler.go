package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/guest-messaging/internal/persistence"
)

const readinessTimeout = 2 * time.Second

// dependency is one backing service checked by /health/ready.
type dependency struct {
	name    string
	enabled func() bool
	ping    func(context.Context) error
}

// HealthHandler answers the orchestrator's liveness and readiness checks.
type HealthHandler struct {
	serviceName string
	version     string
	deps        []dependency
}

// NewHealthHandler wires the chat store and the shared Redis state into
// readiness. A backend that is switched off shows as "disabled" and never
// fails the check, because the service then runs on its in-process fallback.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		deps: []dependency{
			{
				name:    "postgres",
				enabled: func() bool { return postgres.PoolHandle() != nil },
				ping:    postgres.Ping,
			},
			{
				name:    "redis",
				enabled: redis.Enabled,
				ping:    redis.Ping,
			},
		},
	}
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready pings every enabled backend within readinessTimeout.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	report := fiber.Map{}
	ready := true
	for _, dep := range h.deps {
		if !dep.enabled() {
			report[dep.name] = "disabled"
			continue
		}
		if err := dep.ping(ctx); err != nil {
			report[dep.name] = err.Error()
			ready = false
			continue
		}
		report[dep.name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "DEPENDENCY_UNAVAILABLE",
				"message": "chat backend unavailable",
				"details": report,
			},
		})
	}
	return c.JSON(fiber.Map{
		"status":       "ready",
		"dependencies": report,
	})
}
