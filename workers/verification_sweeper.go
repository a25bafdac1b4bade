package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"skills-studio/models"
)

const sweepBatchSize = 200

type ambassadorLister interface {
	ListByStep(ctx context.Context, step models.OnboardingStep, limit int) ([]models.Ambassador, error)
}

type verificationSyncer interface {
	SyncVerification(ctx context.Context, a *models.Ambassador) (*models.Ambassador, error)
}

// VerificationSweeper periodically re-checks ambassadors waiting on payout
// verification. The dashboard read path syncs lazily as well, so a missed
// sweep only delays promotion.
type VerificationSweeper struct {
	ambassadors ambassadorLister
	syncer      verificationSyncer
	interval    time.Duration
	timeout     time.Duration
	log         *zap.Logger
	sched       gocron.Scheduler
}

func NewVerificationSweeper(ambassadors ambassadorLister, syncer verificationSyncer, interval time.Duration, log *zap.Logger) *VerificationSweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &VerificationSweeper{
		ambassadors: ambassadors,
		syncer:      syncer,
		interval:    interval,
		timeout:     interval,
		log:         log,
	}
}

// Start schedules the sweep. Runs never overlap.
func (w *VerificationSweeper) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
			defer cancel()
			w.RunOnce(ctx)
		}),
		gocron.WithName("verification-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule verification sweep: %w", err)
	}
	sched.Start()
	w.sched = sched
	w.log.Info("verification sweep scheduled", zap.Duration("interval", w.interval))
	return nil
}

func (w *VerificationSweeper) Stop() error {
	if w.sched == nil {
		return nil
	}
	return w.sched.Shutdown()
}

// RunOnce syncs one batch of step-3 ambassadors and returns how many were
// promoted. Per-ambassador failures are logged and skipped.
func (w *VerificationSweeper) RunOnce(ctx context.Context) int {
	pending, err := w.ambassadors.ListByStep(ctx, models.StepPayoutLinked, sweepBatchSize)
	if err != nil {
		w.log.Error("verification sweep: list ambassadors", zap.Error(err))
		return 0
	}

	promoted := 0
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		a := &pending[i]
		synced, err := w.syncer.SyncVerification(ctx, a)
		if err != nil {
			w.log.Warn("verification sweep: sync failed", zap.String("ambassador_id", a.ID), zap.Error(err))
			continue
		}
		if synced.OnboardingStep == models.StepOnboarded {
			promoted++
		}
	}
	if len(pending) > 0 {
		w.log.Info("verification sweep finished", zap.Int("checked", len(pending)), zap.Int("promoted", promoted))
	}
	return promoted
}
