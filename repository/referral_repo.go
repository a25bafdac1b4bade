package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skills-studio/models"
)

type ReferralRepository interface {
	// CreateIfAbsent inserts r unless the referred user is already attributed.
	CreateIfAbsent(ctx context.Context, r *models.Referral) (bool, error)
	GetByReferredUser(ctx context.Context, userID string) (*models.Referral, error)
	// SetStatus changes the status of the referred user's referral, if any.
	SetStatus(ctx context.Context, referredUserID string, status models.ReferralStatus, at time.Time) (bool, error)
	CountByStatus(ctx context.Context, ambassadorID string) (map[models.ReferralStatus]int64, error)
	ListByAmbassador(ctx context.Context, ambassadorID string, limit int) ([]models.Referral, error)
}

type referralRepo struct {
	db *gorm.DB
}

func NewReferralRepo(db *gorm.DB) ReferralRepository {
	return &referralRepo{db: db}
}

func (r *referralRepo) CreateIfAbsent(ctx context.Context, ref *models.Referral) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referred_user_id"}},
			DoNothing: true,
		}).
		Create(ref)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *referralRepo) GetByReferredUser(ctx context.Context, userID string) (*models.Referral, error) {
	var ref models.Referral
	if err := r.db.WithContext(ctx).Where("referred_user_id = ?", userID).First(&ref).Error; err != nil {
		return nil, translate(err)
	}
	return &ref, nil
}

func (r *referralRepo) SetStatus(ctx context.Context, referredUserID string, status models.ReferralStatus, at time.Time) (bool, error) {
	values := map[string]interface{}{"status": status}
	if status == models.ReferralStatusActivePro {
		values["converted_at"] = gorm.Expr("COALESCE(converted_at, ?)", at)
	}
	res := r.db.WithContext(ctx).Model(&models.Referral{}).
		Where("referred_user_id = ? AND status <> ?", referredUserID, status).
		Updates(values)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *referralRepo) CountByStatus(ctx context.Context, ambassadorID string) (map[models.ReferralStatus]int64, error) {
	var rows []struct {
		Status models.ReferralStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Referral{}).
		Select("status, COUNT(*) AS total").
		Where("ambassador_id = ?", ambassadorID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make(map[models.ReferralStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *referralRepo) ListByAmbassador(ctx context.Context, ambassadorID string, limit int) ([]models.Referral, error) {
	var out []models.Referral
	q := r.db.WithContext(ctx).Where("ambassador_id = ?", ambassadorID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}
