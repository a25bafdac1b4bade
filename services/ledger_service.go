package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"skills-studio/apperr"
	"skills-studio/metrics"
	"skills-studio/models"
	"skills-studio/repository"
)

// AccrueInput describes one commission entry to append.
type AccrueInput struct {
	AmbassadorID string
	ReferralID   *string
	AmountCents  int64
	// Status defaults to pending.
	Status models.CommissionStatus
	// IdempotencyKey makes redelivery of the same accrual return the
	// original entry. Optional.
	IdempotencyKey string
	Source         string
}

// ReferralCounts is the per-status breakdown of an ambassador's referrals.
type ReferralCounts struct {
	Trial     int64 `json:"trial"`
	ActivePro int64 `json:"active_pro"`
	Total     int64 `json:"total"`
}

// Summary is recomputed from raw ledger and referral rows on every call.
type Summary struct {
	TotalEarnedCents   int64          `json:"total_earned_cents"`
	PendingCents       int64          `json:"pending_cents"`
	TotalEarnedDisplay string         `json:"total_earned_display"`
	PendingDisplay     string         `json:"pending_display"`
	Referrals          ReferralCounts `json:"referrals"`
}

// RecentActivityLimit bounds the referral and commission lists on the
// dashboard.
const RecentActivityLimit = 20

// Activity is an ambassador's newest referrals and ledger entries.
type Activity struct {
	Referrals   []models.Referral   `json:"referrals"`
	Commissions []models.Commission `json:"commissions"`
}

// LedgerService owns the append-only commission ledger.
type LedgerService struct {
	ambassadors repository.AmbassadorRepository
	referrals   repository.ReferralRepository
	commissions repository.CommissionRepository
	log         *zap.Logger
	now         func() time.Time
}

func NewLedgerService(repo *repository.Repository, log *zap.Logger) *LedgerService {
	return &LedgerService{
		ambassadors: repo.Ambassadors,
		referrals:   repo.Referrals,
		commissions: repo.Commissions,
		log:         log,
		now:         time.Now,
	}
}

// Accrue appends a commission entry. With an idempotency key, a repeated
// call returns the entry created by the first one and created=false.
func (s *LedgerService) Accrue(ctx context.Context, in AccrueInput) (*models.Commission, bool, error) {
	if in.AmountCents < 0 {
		return nil, false, apperr.Validation(apperr.ReasonInvalidAmount, "amount must not be negative")
	}
	if in.Status == "" {
		in.Status = models.CommissionPending
	}
	if !in.Status.Valid() {
		return nil, false, apperr.Validation(apperr.ReasonInvalidStatus, fmt.Sprintf("unknown commission status %q", in.Status))
	}
	if in.AmbassadorID == "" {
		return nil, false, apperr.Validation(apperr.ReasonAmbassadorNotFound, "ambassador_id is required")
	}
	if _, err := s.ambassadors.GetByID(ctx, in.AmbassadorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperr.NotFound(apperr.ReasonAmbassadorNotFound, "ambassador not found")
		}
		return nil, false, err
	}

	c := &models.Commission{
		ID:           uuid.NewString(),
		AmbassadorID: in.AmbassadorID,
		ReferralID:   in.ReferralID,
		AmountCents:  in.AmountCents,
		Currency:     "usd",
		Status:       in.Status,
		Source:       in.Source,
	}
	if in.Status == models.CommissionPaid {
		paidAt := s.now()
		c.PaidAt = &paidAt
	}

	if in.IdempotencyKey == "" {
		if err := s.commissions.Create(ctx, c); err != nil {
			return nil, false, err
		}
		s.recordAccrual(c)
		return c, true, nil
	}

	key := in.IdempotencyKey
	c.IdempotencyKey = &key
	created, err := s.commissions.CreateIfAbsent(ctx, c)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.commissions.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	s.recordAccrual(c)
	return c, true, nil
}

func (s *LedgerService) recordAccrual(c *models.Commission) {
	status := string(c.Status)
	metrics.CommissionsAccrued.WithLabelValues(status).Inc()
	metrics.CommissionCents.WithLabelValues(status).Add(float64(c.AmountCents))
	s.log.Info("commission accrued",
		zap.String("commission_id", c.ID),
		zap.String("ambassador_id", c.AmbassadorID),
		zap.Int64("amount_cents", c.AmountCents),
		zap.String("status", status),
	)
}

// MarkPaid moves pending entries to paid and returns how many changed.
// Entries already paid are left untouched.
func (s *LedgerService) MarkPaid(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.commissions.MarkPaid(ctx, ids, s.now())
	if err != nil {
		return 0, err
	}
	s.log.Info("commissions marked paid", zap.Int64("count", n), zap.Int("requested", len(ids)))
	return n, nil
}

// Summarize aggregates an ambassador's earnings and referral counts.
func (s *LedgerService) Summarize(ctx context.Context, ambassadorID string) (*Summary, error) {
	var (
		sums   map[models.CommissionStatus]int64
		counts map[models.ReferralStatus]int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sums, err = s.commissions.SumByStatus(gctx, ambassadorID)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = s.referrals.CountByStatus(gctx, ambassadorID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := &Summary{
		TotalEarnedCents: sums[models.CommissionPaid],
		PendingCents:     sums[models.CommissionPending],
		Referrals: ReferralCounts{
			Trial:     counts[models.ReferralStatusTrial],
			ActivePro: counts[models.ReferralStatusActivePro],
		},
	}
	sum.Referrals.Total = sum.Referrals.Trial + sum.Referrals.ActivePro
	sum.TotalEarnedDisplay = FormatUSD(sum.TotalEarnedCents)
	sum.PendingDisplay = FormatUSD(sum.PendingCents)
	return sum, nil
}

// Recent lists the newest referrals and ledger entries, at most limit of
// each.
func (s *LedgerService) Recent(ctx context.Context, ambassadorID string, limit int) (*Activity, error) {
	out := &Activity{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Referrals, err = s.referrals.ListByAmbassador(gctx, ambassadorID, limit)
		return err
	})
	g.Go(func() error {
		var err error
		out.Commissions, err = s.commissions.ListByAmbassador(gctx, ambassadorID, limit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if out.Referrals == nil {
		out.Referrals = []models.Referral{}
	}
	if out.Commissions == nil {
		out.Commissions = []models.Commission{}
	}
	return out, nil
}

var usdPrinter = message.NewPrinter(language.AmericanEnglish)

// FormatUSD renders minor units as a dollar amount, e.g. "$ 12.34".
func FormatUSD(cents int64) string {
	return usdPrinter.Sprint(currency.Symbol(currency.USD.Amount(float64(cents) / 100)))
}
