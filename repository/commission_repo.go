package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skills-studio/models"
)

type CommissionRepository interface {
	Create(ctx context.Context, c *models.Commission) error
	// CreateIfAbsent inserts c unless its idempotency key was already used.
	CreateIfAbsent(ctx context.Context, c *models.Commission) (bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Commission, error)
	SumByStatus(ctx context.Context, ambassadorID string) (map[models.CommissionStatus]int64, error)
	// MarkPaid flips pending entries to paid and returns how many changed.
	MarkPaid(ctx context.Context, ids []string, at time.Time) (int64, error)
	ListByAmbassador(ctx context.Context, ambassadorID string, limit int) ([]models.Commission, error)
}

type commissionRepo struct {
	db *gorm.DB
}

func NewCommissionRepo(db *gorm.DB) CommissionRepository {
	return &commissionRepo{db: db}
}

func (r *commissionRepo) Create(ctx context.Context, c *models.Commission) error {
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *commissionRepo) CreateIfAbsent(ctx context.Context, c *models.Commission) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(c)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *commissionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Commission, error) {
	var c models.Commission
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *commissionRepo) SumByStatus(ctx context.Context, ambassadorID string) (map[models.CommissionStatus]int64, error) {
	var rows []struct {
		Status models.CommissionStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Select("status, COALESCE(SUM(amount_cents), 0) AS total").
		Where("ambassador_id = ?", ambassadorID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make(map[models.CommissionStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *commissionRepo) MarkPaid(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("id IN ? AND status = ?", ids, models.CommissionPending).
		Updates(map[string]interface{}{
			"status":  models.CommissionPaid,
			"paid_at": at,
		})
	if res.Error != nil {
		return 0, translate(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *commissionRepo) ListByAmbassador(ctx context.Context, ambassadorID string, limit int) ([]models.Commission, error) {
	var out []models.Commission
	q := r.db.WithContext(ctx).Where("ambassador_id = ?", ambassadorID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, translate(err)
	}
	return out, nil
}
