package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert or update violates a unique
	// constraint other than the conflict target of the statement.
	ErrDuplicate = errors.New("duplicate key")
)

const pgUniqueViolation = "23505"

// Repository groups the data-access interfaces the services depend on.
type Repository struct {
	Members      MemberRepository
	Ambassadors  AmbassadorRepository
	Referrals    ReferralRepository
	Commissions  CommissionRepository
	BillingEvent BillingEventRepository
}

// New wires the GORM implementations.
func New(db *gorm.DB) *Repository {
	return &Repository{
		Members:      NewMemberRepo(db),
		Ambassadors:  NewAmbassadorRepo(db),
		Referrals:    NewReferralRepo(db),
		Commissions:  NewCommissionRepo(db),
		BillingEvent: NewBillingEventRepo(db),
	}
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}
