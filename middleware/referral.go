// middleware/referral.go
package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	ReferralCookieName   = "ref_code"
	ReferralQueryParam   = "ref"
	maxReferralMarkerLen = 64
)

// ReferralMarker remembers the ?ref= code a visitor arrived with so it can
// be attributed at signup. It never fails the request; a bad code is simply
// inert later.
func ReferralMarker(ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		code := strings.TrimSpace(c.Query(ReferralQueryParam))
		if code != "" && len(code) <= maxReferralMarkerLen {
			c.Cookie(&fiber.Cookie{
				Name:     ReferralCookieName,
				Value:    code,
				Path:     "/",
				Expires:  time.Now().Add(ttl),
				MaxAge:   int(ttl.Seconds()),
				HTTPOnly: false,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		return c.Next()
	}
}

// ClearReferralMarker expires the marker once it has been consumed.
func ClearReferralMarker(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     ReferralCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
