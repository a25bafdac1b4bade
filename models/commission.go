package models

import "time"

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

// Valid reports whether s is a known ledger status.
func (s CommissionStatus) Valid() bool {
	return s == CommissionPending || s == CommissionPaid
}

// Commission is one append-only ledger entry owed to an ambassador. The only
// in-place change allowed is pending → paid.
type Commission struct {
	ID           string  `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	AmbassadorID string  `gorm:"type:uuid;index;not null" json:"ambassador_id"`
	ReferralID   *string `gorm:"type:uuid;index" json:"referral_id,omitempty"`

	// minor currency units
	AmountCents int64            `gorm:"not null;check:chk_commissions_amount,amount_cents >= 0" json:"amount_cents"`
	Currency    string           `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status      CommissionStatus `gorm:"type:varchar(16);not null;index;check:chk_commissions_status,status IN ('pending','paid')" json:"status"`

	// IdempotencyKey is caller-supplied (e.g. the billing event id).
	IdempotencyKey *string `gorm:"uniqueIndex" json:"idempotency_key,omitempty"`
	Source         string  `gorm:"type:varchar(64)" json:"source,omitempty"`

	PaidAt    *time.Time `json:"paid_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
