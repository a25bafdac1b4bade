package services

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"skills-studio/apperr"
)

// StripeConnect implements PayoutProcessor with Stripe Connect Express
// accounts.
type StripeConnect struct {
	api *client.API
}

func NewStripeConnect(secretKey string) *StripeConnect {
	return &StripeConnect{api: client.New(secretKey, nil)}
}

func (s *StripeConnect) CreateSubAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx

	acct, err := s.api.Accounts.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return acct.ID, nil
}

func (s *StripeConnect) RetrieveAccount(ctx context.Context, accountID string) (AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := s.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return AccountStatus{}, stripeError(err)
	}
	return AccountStatus{
		AccountID:        acct.ID,
		DetailsSubmitted: acct.DetailsSubmitted,
		PayoutsEnabled:   acct.PayoutsEnabled,
	}, nil
}

func (s *StripeConnect) CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String(string(stripe.AccountLinkTypeAccountOnboarding)),
	}
	params.Context = ctx

	link, err := s.api.AccountLinks.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return link.URL, nil
}

func (s *StripeConnect) CreateDashboardLoginLink(ctx context.Context, accountID string) (string, error) {
	params := &stripe.LoginLinkParams{Account: stripe.String(accountID)}
	params.Context = ctx

	link, err := s.api.LoginLinks.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return link.URL, nil
}

// stripeError keeps Stripe's human-readable message; the default Error()
// of *stripe.Error is the full JSON body.
func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return apperr.Upstream(apperr.ReasonPayoutProcessor, errors.New(se.Msg))
	}
	return apperr.Upstream(apperr.ReasonPayoutProcessor, err)
}
