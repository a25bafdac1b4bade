package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skills-studio/models"
)

// AmbassadorRepository is the ambassador data access. Every mutating method
// is a single conditional statement; the bool result reports whether a row
// matched the condition.
type AmbassadorRepository interface {
	GetByID(ctx context.Context, id string) (*models.Ambassador, error)
	GetByUserID(ctx context.Context, userID string) (*models.Ambassador, error)
	GetByCode(ctx context.Context, code string) (*models.Ambassador, error)
	// CreateIfAbsent inserts a, doing nothing when the user already has a row.
	// A referral-code collision returns ErrDuplicate.
	CreateIfAbsent(ctx context.Context, a *models.Ambassador) (bool, error)
	// BackfillCode sets the referral code only while it is NULL.
	BackfillCode(ctx context.Context, id, code string) (bool, error)
	RecordSocialProof(ctx context.Context, id string, links []string) (bool, error)
	MarkTrainingComplete(ctx context.Context, id string, at time.Time) (bool, error)
	// BindPayoutAccount links accountID only while no account is linked.
	BindPayoutAccount(ctx context.Context, id, accountID string) (bool, error)
	// MarkPayoutVerified moves step 3 → 4 for the given account.
	MarkPayoutVerified(ctx context.Context, id, accountID string, at time.Time) (bool, error)
	// UnlinkPayoutAccount clears an unverified account, moving step 3 → 2.
	UnlinkPayoutAccount(ctx context.Context, id string) (bool, error)
	AdvanceStep(ctx context.Context, id string) (bool, error)
	ListByStep(ctx context.Context, step models.OnboardingStep, limit int) ([]models.Ambassador, error)
}

type ambassadorRepo struct {
	db *gorm.DB
}

func NewAmbassadorRepo(db *gorm.DB) AmbassadorRepository {
	return &ambassadorRepo{db: db}
}

func (r *ambassadorRepo) first(ctx context.Context, query string, arg interface{}) (*models.Ambassador, error) {
	var a models.Ambassador
	if err := r.db.WithContext(ctx).Where(query, arg).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *ambassadorRepo) GetByID(ctx context.Context, id string) (*models.Ambassador, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *ambassadorRepo) GetByUserID(ctx context.Context, userID string) (*models.Ambassador, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *ambassadorRepo) GetByCode(ctx context.Context, code string) (*models.Ambassador, error) {
	return r.first(ctx, "referral_code = ?", code)
}

func (r *ambassadorRepo) CreateIfAbsent(ctx context.Context, a *models.Ambassador) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(a)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ambassadorRepo) update(ctx context.Context, where func(*gorm.DB) *gorm.DB, values map[string]interface{}) (bool, error) {
	res := where(r.db.WithContext(ctx).Model(&models.Ambassador{})).Updates(values)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ambassadorRepo) BackfillCode(ctx context.Context, id, code string) (bool, error) {
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND (referral_code IS NULL OR referral_code = '')", id)
	}, map[string]interface{}{"referral_code": code})
}

func (r *ambassadorRepo) RecordSocialProof(ctx context.Context, id string, links []string) (bool, error) {
	encoded, err := json.Marshal(links)
	if err != nil {
		return false, err
	}
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND onboarding_step >= ?", id, models.StepApplied)
	}, map[string]interface{}{
		"proof_links":        string(encoded),
		"social_proof_count": len(links),
		"onboarding_step":    gorm.Expr("GREATEST(onboarding_step, ?)", models.StepTrained),
	})
}

func (r *ambassadorRepo) MarkTrainingComplete(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND onboarding_step >= ?", id, models.StepApplied)
	}, map[string]interface{}{
		"training_completed_at": gorm.Expr("COALESCE(training_completed_at, ?)", at),
		"onboarding_step":       gorm.Expr("GREATEST(onboarding_step, ?)", models.StepTrained),
	})
}

func (r *ambassadorRepo) BindPayoutAccount(ctx context.Context, id, accountID string) (bool, error) {
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND payout_account_id IS NULL AND onboarding_step >= ?", id, models.StepTrained)
	}, map[string]interface{}{
		"payout_account_id": accountID,
		"onboarding_step":   gorm.Expr("GREATEST(onboarding_step, ?)", models.StepPayoutLinked),
	})
}

func (r *ambassadorRepo) MarkPayoutVerified(ctx context.Context, id, accountID string, at time.Time) (bool, error) {
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND onboarding_step = ? AND payout_account_id = ?", id, models.StepPayoutLinked, accountID)
	}, map[string]interface{}{
		"onboarding_step":    models.StepOnboarded,
		"payout_verified_at": at,
	})
}

func (r *ambassadorRepo) UnlinkPayoutAccount(ctx context.Context, id string) (bool, error) {
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND onboarding_step = ? AND payout_account_id IS NOT NULL", id, models.StepPayoutLinked)
	}, map[string]interface{}{
		"payout_account_id":  nil,
		"payout_verified_at": nil,
		"onboarding_step":    models.StepTrained,
	})
}

func (r *ambassadorRepo) AdvanceStep(ctx context.Context, id string) (bool, error) {
	return r.update(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ? AND onboarding_step < ?", id, models.StepOnboarded)
	}, map[string]interface{}{
		"onboarding_step": gorm.Expr("onboarding_step + 1"),
	})
}

func (r *ambassadorRepo) ListByStep(ctx context.Context, step models.OnboardingStep, limit int) ([]models.Ambassador, error) {
	var out []models.Ambassador
	q := r.db.WithContext(ctx).Where("onboarding_step = ?", step).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}
