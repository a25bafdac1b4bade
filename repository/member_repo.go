package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skills-studio/models"
)

type MemberRepository interface {
	GetByUserID(ctx context.Context, userID string) (*models.Member, error)
	GetByStripeCustomer(ctx context.Context, customerID string) (*models.Member, error)
	GetByEmail(ctx context.Context, email string) (*models.Member, error)
	// Upsert writes m keyed by user id, overwriting plan and billing fields.
	Upsert(ctx context.Context, m *models.Member) error
}

type memberRepo struct {
	db *gorm.DB
}

func NewMemberRepo(db *gorm.DB) MemberRepository {
	return &memberRepo{db: db}
}

func (r *memberRepo) first(ctx context.Context, query string, arg interface{}) (*models.Member, error) {
	var m models.Member
	if err := r.db.WithContext(ctx).Where(query, arg).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *memberRepo) GetByUserID(ctx context.Context, userID string) (*models.Member, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *memberRepo) GetByStripeCustomer(ctx context.Context, customerID string) (*models.Member, error) {
	return r.first(ctx, "stripe_customer_id = ?", customerID)
}

func (r *memberRepo) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	return r.first(ctx, "LOWER(email) = LOWER(?)", email)
}

func (r *memberRepo) Upsert(ctx context.Context, m *models.Member) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "plan", "subscription_status", "stripe_customer_id", "updated_at",
		}),
	}).Create(m).Error
	return translate(err)
}
