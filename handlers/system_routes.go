// handlers/system_routes.go
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"skills-studio/middleware"
	"skills-studio/services"
)

type SessionRevoker interface {
	// Revoke reports whether the session was actually invalidated.
	Revoke(ctx context.Context, claims *services.SessionClaims) (bool, error)
}

// HealthCheck reports whether the service's dependencies respond.
type HealthCheck func(ctx context.Context) error

// SetupSystemRoutes mounts health, metrics and logout.
func SetupSystemRoutes(app *fiber.App, revoker SessionRevoker, auth fiber.Handler, health HealthCheck, log *zap.Logger) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if health != nil {
			if err := health(c.UserContext()); err != nil {
				log.Warn("health check failed", zap.Error(err))
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/auth/logout", auth, func(c *fiber.Ctx) error {
		revoked, err := revoker.Revoke(c.UserContext(), middleware.ClaimsFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "revoked": revoked})
	})
}
