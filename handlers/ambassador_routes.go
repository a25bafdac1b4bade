// handlers/ambassador_routes.go
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skills-studio/middleware"
	"skills-studio/models"
	"skills-studio/services"
)

type AmbassadorService interface {
	Get(ctx context.Context, p *services.Principal) (*models.Ambassador, error)
	Apply(ctx context.Context, p *services.Principal) (*models.Ambassador, bool, error)
	SubmitSocialProof(ctx context.Context, p *services.Principal, links []string) (*models.Ambassador, error)
	CompleteTraining(ctx context.Context, p *services.Principal) (*models.Ambassador, error)
	BeginPayoutOnboarding(ctx context.Context, p *services.Principal) (*services.PayoutLink, error)
	DisconnectPayout(ctx context.Context, p *services.Principal) (*models.Ambassador, error)
	Stats(ctx context.Context, p *services.Principal) (*services.Stats, error)
}

type verifyPostsRequest struct {
	Links []string `json:"links"`
}

// SetupAmbassadorRoutes mounts the ambassador onboarding API. Every route
// requires a session.
func SetupAmbassadorRoutes(app *fiber.App, svc AmbassadorService, auth fiber.Handler, log *zap.Logger) {
	group := app.Group("/ambassador", auth)

	group.Get("/me", func(c *fiber.Ctx) error {
		a, err := svc.Get(c.UserContext(), middleware.PrincipalFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "ambassador": a})
	})

	group.Post("/apply", func(c *fiber.Ctx) error {
		a, created, err := svc.Apply(c.UserContext(), middleware.PrincipalFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"success": true, "created": created, "ambassador": a})
	})

	group.Post("/verify-posts", func(c *fiber.Ctx) error {
		var req verifyPostsRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		a, err := svc.SubmitSocialProof(c.UserContext(), middleware.PrincipalFrom(c), req.Links)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "ambassador": a})
	})

	group.Post("/complete-training", func(c *fiber.Ctx) error {
		a, err := svc.CompleteTraining(c.UserContext(), middleware.PrincipalFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "ambassador": a})
	})

	group.Post("/connect", func(c *fiber.Ctx) error {
		link, err := svc.BeginPayoutOnboarding(c.UserContext(), middleware.PrincipalFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":         true,
			"url":             link.URL,
			"mode":            link.Mode,
			"account_id":      link.AccountID,
			"onboarding_step": link.Step,
		})
	})

	group.Post("/disconnect", func(c *fiber.Ctx) error {
		a, err := svc.DisconnectPayout(c.UserContext(), middleware.PrincipalFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "ambassador": a})
	})

	group.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := svc.Stats(c.UserContext(), middleware.PrincipalFrom(c))
		if err != nil {
			return writeError(c, log, err)
		}
		resp := fiber.Map{
			"success":         true,
			"ambassador":      stats.Ambassador,
			"onboarding_step": stats.Ambassador.OnboardingStep,
			"referral_code":   stats.ReferralCode,
			"referral_link":   stats.ReferralLink,
			"summary":         stats.Summary,
		}
		if stats.PayoutURL != "" {
			resp["payout_url"] = stats.PayoutURL
			resp["payout_mode"] = stats.PayoutMode
		}
		if stats.PayoutLinkError != "" {
			resp["payout_link_error"] = stats.PayoutLinkError
		}
		return c.JSON(resp)
	})
}
