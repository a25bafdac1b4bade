package models

import "time"

type ReferralStatus string

const (
	ReferralStatusTrial     ReferralStatus = "trial"
	ReferralStatusActivePro ReferralStatus = "active_pro"
)

// Referral records that a user was referred by an ambassador. One row per
// referred user; the first attribution wins.
type Referral struct {
	ID               string         `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	AmbassadorID     string         `gorm:"type:uuid;index;not null" json:"ambassador_id"`
	ReferredUserID   string         `gorm:"uniqueIndex;not null" json:"referred_user_id"`
	ReferralCodeUsed string         `gorm:"type:varchar(16);not null" json:"referral_code_used"`
	Status           ReferralStatus `gorm:"type:varchar(16);not null;default:'trial';check:chk_referrals_status,status IN ('trial','active_pro')" json:"status"`
	ConvertedAt      *time.Time     `json:"converted_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
