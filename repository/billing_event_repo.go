package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"skills-studio/models"
)

type BillingEventRepository interface {
	// Record stores e unless the provider event was already received.
	Record(ctx context.Context, e *models.BillingEvent) (bool, error)
	Get(ctx context.Context, provider, providerEventID string) (*models.BillingEvent, error)
	MarkProcessed(ctx context.Context, id string, at time.Time, processingErr string) error
}

type billingEventRepo struct {
	db *gorm.DB
}

func NewBillingEventRepo(db *gorm.DB) BillingEventRepository {
	return &billingEventRepo{db: db}
}

func (r *billingEventRepo) Record(ctx context.Context, e *models.BillingEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(e)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *billingEventRepo) Get(ctx context.Context, provider, providerEventID string) (*models.BillingEvent, error) {
	var e models.BillingEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *billingEventRepo) MarkProcessed(ctx context.Context, id string, at time.Time, processingErr string) error {
	values := map[string]interface{}{"processing_error": processingErr}
	if processingErr == "" {
		values["processed_at"] = at
	}
	err := r.db.WithContext(ctx).Model(&models.BillingEvent{}).
		Where("id = ?", id).
		Updates(values).Error
	return translate(err)
}
