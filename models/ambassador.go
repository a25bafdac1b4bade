package models

import "time"

// OnboardingStep encodes progress through the ambassador program gates.
type OnboardingStep int

const (
	StepUnapplied    OnboardingStep = 0
	StepApplied      OnboardingStep = 1
	StepTrained      OnboardingStep = 2 // social proof submitted / training viewed
	StepPayoutLinked OnboardingStep = 3 // payout account linked, pending verification
	StepOnboarded    OnboardingStep = 4 // payout account verified
)

func (s OnboardingStep) String() string {
	switch s {
	case StepApplied:
		return "applied"
	case StepTrained:
		return "trained"
	case StepPayoutLinked:
		return "payout_linked"
	case StepOnboarded:
		return "onboarded"
	default:
		return "unapplied"
	}
}

// Ambassador is a user enrolled in the referral program. Rows are never
// deleted; the payout account may be unlinked.
type Ambassador struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"`
	Email  string `json:"email"`

	OnboardingStep OnboardingStep `gorm:"not null;default:0;check:chk_ambassadors_step,onboarding_step BETWEEN 0 AND 4" json:"onboarding_step"`

	// ReferralCode is immutable once set. Nullable so a missing code can be
	// detected and backfilled on read.
	ReferralCode *string `gorm:"type:varchar(16);uniqueIndex" json:"referral_code"`

	SocialProofCount    int        `gorm:"not null;default:0" json:"social_proof_count"`
	ProofLinks          []string   `gorm:"type:jsonb;serializer:json" json:"proof_links,omitempty"`
	TrainingCompletedAt *time.Time `json:"training_completed_at,omitempty"`

	PayoutAccountID  *string    `gorm:"index" json:"payout_account_id,omitempty"`
	PayoutVerifiedAt *time.Time `json:"payout_verified_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Code returns the referral code or "" when it has not been assigned.
func (a *Ambassador) Code() string {
	if a == nil || a.ReferralCode == nil {
		return ""
	}
	return *a.ReferralCode
}

// HasPayoutAccount reports whether an external payout account is linked.
func (a *Ambassador) HasPayoutAccount() bool {
	return a != nil && a.PayoutAccountID != nil && *a.PayoutAccountID != ""
}
