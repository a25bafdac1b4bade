// handlers/respond.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skills-studio/apperr"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return fiber.StatusUnauthorized
	case apperr.KindPermissionDenied:
		return fiber.StatusForbidden
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as {"error": msg, "reason": code}. Store and other
// internal failures are logged and returned as is with a 500.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	if kind == apperr.KindInternal {
		log.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	if kind == apperr.KindUpstream {
		log.Warn("upstream failure", zap.String("path", c.Path()), zap.Error(err))
	}

	body := fiber.Map{"error": err.Error()}
	if reason := apperr.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
