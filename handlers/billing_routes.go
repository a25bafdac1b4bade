// handlers/billing_routes.go
package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skills-studio/models"
	"skills-studio/services"
)

type BillingService interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (string, error)
}

type LedgerService interface {
	Accrue(ctx context.Context, in services.AccrueInput) (*models.Commission, bool, error)
}

type accrueRequest struct {
	AmbassadorID   string  `json:"ambassador_id"`
	ReferralID     *string `json:"referral_id"`
	AmountCents    int64   `json:"amount_cents"`
	Status         string  `json:"status"`
	IdempotencyKey string  `json:"idempotency_key"`
	Source         string  `json:"source"`
}

// SetupBillingRoutes mounts the Stripe webhook, which authenticates by
// signature, and the service-to-service commission endpoint.
func SetupBillingRoutes(app *fiber.App, billing BillingService, ledger LedgerService, serviceAuth fiber.Handler, log *zap.Logger) {
	app.Post("/webhooks/stripe", func(c *fiber.Ctx) error {
		// Body() is only valid for the lifetime of the handler
		payload := append([]byte(nil), c.Body()...)

		result, err := billing.HandleStripeWebhook(c.UserContext(), payload, c.Get("Stripe-Signature"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"received": true, "result": result})
	})

	internal := app.Group("/internal", serviceAuth)

	internal.Post("/commissions", func(c *fiber.Ctx) error {
		var req accrueRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		commission, created, err := ledger.Accrue(c.UserContext(), services.AccrueInput{
			AmbassadorID:   req.AmbassadorID,
			ReferralID:     req.ReferralID,
			AmountCents:    req.AmountCents,
			Status:         models.CommissionStatus(req.Status),
			IdempotencyKey: req.IdempotencyKey,
			Source:         req.Source,
		})
		if err != nil {
			return writeError(c, log, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(fiber.Map{"success": true, "created": created, "commission": commission})
	})
}
