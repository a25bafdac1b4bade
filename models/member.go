package models

import "time"

const (
	PlanFree = "free"
	PlanPro  = "pro"
)

const (
	SubscriptionNone     = "none"
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	// SubscriptionPastDue is a failed renewal the processor is still retrying.
	SubscriptionPastDue = "past_due"
	SubscriptionCanceled = "canceled"
)

// Member is the local billing view of an identity-provider user: which plan
// they are on and which Stripe customer pays for it. Rows are written by the
// billing event processor.
type Member struct {
	ID                 string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID             string  `gorm:"uniqueIndex;not null" json:"user_id"`
	Email              string  `gorm:"index" json:"email"`
	Plan               string  `gorm:"type:varchar(32);not null;default:'free'" json:"plan"`
	SubscriptionStatus string  `gorm:"type:varchar(32);not null;default:'none'" json:"subscription_status"`
	StripeCustomerID   *string `gorm:"uniqueIndex" json:"stripe_customer_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// HoldsPlan reports whether the member currently pays for one of plans.
func (m *Member) HoldsPlan(plans []string) bool {
	if m == nil {
		return false
	}
	switch m.SubscriptionStatus {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
	default:
		return false
	}
	for _, p := range plans {
		if m.Plan == p {
			return true
		}
	}
	return false
}
