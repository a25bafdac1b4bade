package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skills-studio/apperr"
	"skills-studio/metrics"
	"skills-studio/models"
	"skills-studio/repository"
	"skills-studio/utils"
)

// AttributionService binds a newly signed-up user to the ambassador whose
// code they arrived with.
type AttributionService struct {
	ambassadors repository.AmbassadorRepository
	referrals   repository.ReferralRepository
	dispatch    *Dispatcher
	log         *zap.Logger
	now         func() time.Time
}

func NewAttributionService(repo *repository.Repository, dispatch *Dispatcher, log *zap.Logger) *AttributionService {
	if dispatch == nil {
		dispatch = NewDispatcher(nil, 0, log)
	}
	return &AttributionService{
		ambassadors: repo.Ambassadors,
		referrals:   repo.Referrals,
		dispatch:    dispatch,
		log:         log,
		now:         time.Now,
	}
}

// Attribute records that userID was referred by the owner of code. Unknown,
// empty and self-referring codes are no-ops returning (nil, false, nil). The
// first attribution wins; later calls return the existing referral with
// created=false.
func (s *AttributionService) Attribute(ctx context.Context, userID, code string) (*models.Referral, bool, error) {
	if userID == "" {
		return nil, false, apperr.Unauthorized(apperr.ReasonMissingCredential, "authentication required")
	}

	code = utils.NormalizeReferralCode(code)
	if code == "" {
		metrics.Attributions.WithLabelValues("no_code").Inc()
		return nil, false, nil
	}

	amb, err := s.ambassadors.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.Attributions.WithLabelValues("unknown_code").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if amb.UserID == userID {
		metrics.Attributions.WithLabelValues("self").Inc()
		return nil, false, nil
	}

	ref := &models.Referral{
		ID:               uuid.NewString(),
		AmbassadorID:     amb.ID,
		ReferredUserID:   userID,
		ReferralCodeUsed: code,
		Status:           models.ReferralStatusTrial,
	}
	created, err := s.referrals.CreateIfAbsent(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.referrals.GetByReferredUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	if !created {
		metrics.Attributions.WithLabelValues("already_attributed").Inc()
		return existing, false, nil
	}

	metrics.Attributions.WithLabelValues("created").Inc()
	s.log.Info("referral attributed",
		zap.String("referral_id", existing.ID),
		zap.String("ambassador_id", amb.ID),
		zap.String("user_id", userID),
	)
	s.dispatch.Send(ReferralEvent{
		Type:            EventReferralCreated,
		ReferralID:      existing.ID,
		AmbassadorID:    amb.ID,
		AmbassadorEmail: amb.Email,
		ReferralCode:    code,
		ReferredUserID:  userID,
		OccurredAt:      s.now().UTC(),
	})
	return existing, true, nil
}
