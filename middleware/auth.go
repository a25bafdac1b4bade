// middleware/auth.go
package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skills-studio/apperr"
	"skills-studio/services"
)

// Locals keys set by SessionAuthMiddleware.
const (
	LocalUserID    = "user_id"
	LocalUserEmail = "user_email"
	LocalClaims    = "session_claims"
)

type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*services.Principal, *services.SessionClaims, error)
}

// SessionAuthMiddleware requires a valid "Authorization: Bearer <jwt>" and
// attaches the caller's identity to the request.
func SessionAuthMiddleware(verifier SessionVerifier, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || token == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":  "missing bearer token",
				"reason": apperr.ReasonMissingCredential,
			})
		}

		principal, claims, err := verifier.Verify(c.UserContext(), strings.TrimSpace(token))
		if err != nil {
			if apperr.Is(err, apperr.KindUnauthorized) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error":  err.Error(),
					"reason": apperr.ReasonOf(err),
				})
			}
			log.Error("session verification failed", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "could not verify session",
			})
		}

		c.Locals(LocalUserID, principal.UserID)
		c.Locals(LocalUserEmail, principal.Email)
		c.Locals(LocalClaims, claims)
		return c.Next()
	}
}

// PrincipalFrom returns the identity attached by SessionAuthMiddleware, or
// nil on unauthenticated routes.
func PrincipalFrom(c *fiber.Ctx) *services.Principal {
	userID, _ := c.Locals(LocalUserID).(string)
	if userID == "" {
		return nil
	}
	email, _ := c.Locals(LocalUserEmail).(string)
	return &services.Principal{UserID: userID, Email: email}
}

// ClaimsFrom returns the verified session claims.
func ClaimsFrom(c *fiber.Ctx) *services.SessionClaims {
	claims, _ := c.Locals(LocalClaims).(*services.SessionClaims)
	return claims
}
