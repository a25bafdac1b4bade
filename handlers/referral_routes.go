// handlers/referral_routes.go
package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skills-studio/middleware"
	"skills-studio/models"
)

type AttributionService interface {
	Attribute(ctx context.Context, userID, code string) (*models.Referral, bool, error)
}

type attributeRequest struct {
	Code string `json:"code"`
}

// SetupReferralRoutes mounts signup attribution. The code comes from the
// ref_code cookie, or from the body when the visitor signed up on another
// device.
func SetupReferralRoutes(app *fiber.App, svc AttributionService, auth fiber.Handler, log *zap.Logger) {
	group := app.Group("/referrals", auth)

	group.Post("/attribute", func(c *fiber.Ctx) error {
		code := strings.TrimSpace(c.Cookies(middleware.ReferralCookieName))
		if code == "" && len(c.Body()) > 0 {
			var req attributeRequest
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body")
			}
			code = req.Code
		}

		p := middleware.PrincipalFrom(c)
		userID := ""
		if p != nil {
			userID = p.UserID
		}
		ref, created, err := svc.Attribute(c.UserContext(), userID, code)
		if err != nil {
			return writeError(c, log, err)
		}

		if code != "" {
			middleware.ClearReferralMarker(c)
		}
		resp := fiber.Map{"success": true, "attributed": created}
		if ref != nil {
			resp["referral"] = ref
		}
		return c.JSON(resp)
	})
}
