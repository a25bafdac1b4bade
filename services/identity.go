package services

import "skills-studio/apperr"

// Principal is the authenticated caller, resolved by the session middleware.
type Principal struct {
	UserID string
	Email  string
}

func requirePrincipal(p *Principal) error {
	if p == nil || p.UserID == "" {
		return apperr.Unauthorized(apperr.ReasonMissingCredential, "authentication required")
	}
	return nil
}
