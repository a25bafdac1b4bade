package services

import "context"

// AccountStatus is what the payout processor reports about a sub-account.
type AccountStatus struct {
	AccountID        string
	DetailsSubmitted bool
	PayoutsEnabled   bool
}

// Verified reports whether the account can receive payouts. Local onboarding
// step 4 is only a cache of this.
func (s AccountStatus) Verified() bool {
	return s.DetailsSubmitted && s.PayoutsEnabled
}

// PayoutProcessor is the external payments provider holding ambassador
// sub-accounts.
type PayoutProcessor interface {
	CreateSubAccount(ctx context.Context, email string) (string, error)
	RetrieveAccount(ctx context.Context, accountID string) (AccountStatus, error)
	CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error)
	CreateDashboardLoginLink(ctx context.Context, accountID string) (string, error)
}
