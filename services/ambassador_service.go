package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skills-studio/apperr"
	"skills-studio/metrics"
	"skills-studio/models"
	"skills-studio/repository"
	"skills-studio/utils"
)

const maxCodeAttempts = 5

const (
	PayoutModeOnboarding = "onboarding"
	PayoutModeDashboard  = "dashboard"
)

// ProofArchiver stores a copy of submitted social proof.
type ProofArchiver interface {
	Archive(ctx context.Context, snap utils.ProofSnapshot) (string, error)
}

// ProgramSettings are the tunables of the ambassador program.
type ProgramSettings struct {
	QualifyingPlans []string
	MinProofLinks   int
	PublicURL       string
	ReturnURL       string
	RefreshURL      string
}

// PayoutLink is where the frontend sends the ambassador next.
type PayoutLink struct {
	URL       string                `json:"url"`
	Mode      string                `json:"mode"`
	AccountID string                `json:"account_id"`
	Step      models.OnboardingStep `json:"onboarding_step"`
}

// Stats is the ambassador dashboard payload.
type Stats struct {
	Ambassador      *models.Ambassador `json:"ambassador"`
	ReferralCode    string             `json:"referral_code"`
	ReferralLink    string             `json:"referral_link"`
	Summary         *Summary           `json:"summary"`
	Recent          *Activity          `json:"recent"`
	PayoutURL       string             `json:"payout_url,omitempty"`
	PayoutMode      string             `json:"payout_mode,omitempty"`
	PayoutLinkError string             `json:"payout_link_error,omitempty"`
}

// AmbassadorService drives the onboarding state machine. Every transition is
// a single conditional write, so concurrent requests for the same ambassador
// cannot move the step backwards or skip a gate.
type AmbassadorService struct {
	members     repository.MemberRepository
	ambassadors repository.AmbassadorRepository
	payouts     PayoutProcessor
	ledger      *LedgerService
	archive     ProofArchiver
	settings    ProgramSettings
	log         *zap.Logger
	now         func() time.Time
	newCode     func() (string, error)
}

func NewAmbassadorService(
	repo *repository.Repository,
	payouts PayoutProcessor,
	ledger *LedgerService,
	settings ProgramSettings,
	log *zap.Logger,
) *AmbassadorService {
	if len(settings.QualifyingPlans) == 0 {
		settings.QualifyingPlans = []string{models.PlanPro}
	}
	if settings.MinProofLinks <= 0 {
		settings.MinProofLinks = 3
	}
	return &AmbassadorService{
		members:     repo.Members,
		ambassadors: repo.Ambassadors,
		payouts:     payouts,
		ledger:      ledger,
		settings:    settings,
		log:         log,
		now:         time.Now,
		newCode:     utils.NewReferralCode,
	}
}

// WithArchive enables proof snapshots.
func (s *AmbassadorService) WithArchive(a ProofArchiver) *AmbassadorService {
	s.archive = a
	return s
}

func (s *AmbassadorService) current(ctx context.Context, userID string) (*models.Ambassador, error) {
	a, err := s.ambassadors.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound(apperr.ReasonAmbassadorNotFound, "not an ambassador")
	}
	return a, err
}

func (s *AmbassadorService) reload(ctx context.Context, id string) (*models.Ambassador, error) {
	return s.ambassadors.GetByID(ctx, id)
}

func (s *AmbassadorService) deny(reason, msg string) error {
	metrics.GatingDenials.WithLabelValues(reason).Inc()
	return apperr.PermissionDenied(reason, msg)
}

// Get returns the caller's ambassador record.
func (s *AmbassadorService) Get(ctx context.Context, p *Principal) (*models.Ambassador, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	return s.current(ctx, p.UserID)
}

// Apply enrolls the caller. An existing enrollment is returned unchanged
// with created=false.
func (s *AmbassadorService) Apply(ctx context.Context, p *Principal) (*models.Ambassador, bool, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, false, err
	}

	existing, err := s.ambassadors.GetByUserID(ctx, p.UserID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	member, err := s.members.GetByUserID(ctx, p.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	if !member.HoldsPlan(s.settings.QualifyingPlans) {
		return nil, false, s.deny(apperr.ReasonRequiresPro, "an active Pro subscription is required to apply")
	}

	email := p.Email
	if email == "" && member != nil {
		email = member.Email
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, false, err
		}
		a := &models.Ambassador{
			ID:             uuid.NewString(),
			UserID:         p.UserID,
			Email:          email,
			OnboardingStep: models.StepApplied,
			ReferralCode:   &code,
		}

		created, err := s.ambassadors.CreateIfAbsent(ctx, a)
		if errors.Is(err, repository.ErrDuplicate) {
			// referral code collision
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if !created {
			// a concurrent Apply won
			winner, err := s.ambassadors.GetByUserID(ctx, p.UserID)
			return winner, false, err
		}

		metrics.Transitions.WithLabelValues("apply").Inc()
		s.log.Info("ambassador applied", zap.String("ambassador_id", a.ID), zap.String("user_id", p.UserID))
		return a, true, nil
	}
	return nil, false, fmt.Errorf("allocate referral code: %d collisions", maxCodeAttempts)
}

// ensureReferralCode assigns a code to a record that has none.
func (s *AmbassadorService) ensureReferralCode(ctx context.Context, a *models.Ambassador) (*models.Ambassador, error) {
	if a.Code() != "" {
		return a, nil
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		_, err = s.ambassadors.BackfillCode(ctx, a.ID, code)
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// whether we or a concurrent reader set it, the stored code wins
		return s.reload(ctx, a.ID)
	}
	return nil, fmt.Errorf("backfill referral code: %d collisions", maxCodeAttempts)
}

// normalizeProofLinks trims and dedupes links and rejects anything that is
// not an absolute http(s) URL.
func normalizeProofLinks(links []string) ([]string, error) {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, raw := range links {
		link := strings.TrimSpace(raw)
		if link == "" {
			continue
		}
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperr.Validation(apperr.ReasonInvalidLink, fmt.Sprintf("invalid link: %s", link))
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	return out, nil
}

// SubmitSocialProof records the caller's public posts about the program and
// moves them to step 2.
func (s *AmbassadorService) SubmitSocialProof(ctx context.Context, p *Principal, links []string) (*models.Ambassador, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	clean, err := normalizeProofLinks(links)
	if err != nil {
		return nil, err
	}
	if len(clean) < s.settings.MinProofLinks {
		return nil, apperr.Validation(apperr.ReasonInsufficientLinks,
			fmt.Sprintf("at least %d distinct links are required", s.settings.MinProofLinks))
	}

	a, err := s.current(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ambassadors.RecordSocialProof(ctx, a.ID, clean); err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("social_proof").Inc()

	s.archiveProof(ctx, a, clean)
	return s.reload(ctx, a.ID)
}

func (s *AmbassadorService) archiveProof(ctx context.Context, a *models.Ambassador, links []string) {
	if s.archive == nil {
		return
	}
	location, err := s.archive.Archive(ctx, utils.ProofSnapshot{
		AmbassadorID: a.ID,
		UserID:       a.UserID,
		Email:        a.Email,
		Links:        links,
		SubmittedAt:  s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("proof archive failed", zap.String("ambassador_id", a.ID), zap.Error(err))
		return
	}
	s.log.Debug("proof archived", zap.String("ambassador_id", a.ID), zap.String("url", location))
}

// CompleteTraining records that the caller finished the training material.
// Social proof must already be on file.
func (s *AmbassadorService) CompleteTraining(ctx context.Context, p *Principal) (*models.Ambassador, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	a, err := s.current(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if a.SocialProofCount < s.settings.MinProofLinks {
		return nil, apperr.Validation(apperr.ReasonInsufficientLinks,
			fmt.Sprintf("submit at least %d links before completing training", s.settings.MinProofLinks))
	}
	if _, err := s.ambassadors.MarkTrainingComplete(ctx, a.ID, s.now()); err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues("training").Inc()
	return s.reload(ctx, a.ID)
}

// BeginPayoutOnboarding links a payout sub-account (creating it on first
// call) and returns where the ambassador should go: the processor's hosted
// onboarding, or its dashboard once verified.
func (s *AmbassadorService) BeginPayoutOnboarding(ctx context.Context, p *Principal) (*PayoutLink, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	a, err := s.current(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if a.OnboardingStep < models.StepTrained {
		return nil, s.deny(apperr.ReasonRequiresTraining, "complete training before connecting payouts")
	}

	accountID, err := s.bindAccount(ctx, a)
	if err != nil {
		return nil, err
	}

	status, err := s.payouts.RetrieveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if status.Verified() {
		if _, err := s.markVerified(ctx, a.ID, accountID); err != nil {
			return nil, err
		}
		link, err := s.payouts.CreateDashboardLoginLink(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return &PayoutLink{URL: link, Mode: PayoutModeDashboard, AccountID: accountID, Step: models.StepOnboarded}, nil
	}

	link, err := s.payouts.CreateOnboardingLink(ctx, accountID, s.settings.ReturnURL, s.settings.RefreshURL)
	if err != nil {
		return nil, err
	}
	return &PayoutLink{URL: link, Mode: PayoutModeOnboarding, AccountID: accountID, Step: models.StepPayoutLinked}, nil
}

// bindAccount returns the linked account id, creating and binding one when
// none exists. If a concurrent request binds first, its account is used and
// ours is left orphaned at the processor.
func (s *AmbassadorService) bindAccount(ctx context.Context, a *models.Ambassador) (string, error) {
	if a.HasPayoutAccount() {
		return *a.PayoutAccountID, nil
	}

	accountID, err := s.payouts.CreateSubAccount(ctx, a.Email)
	if err != nil {
		return "", err
	}
	bound, err := s.ambassadors.BindPayoutAccount(ctx, a.ID, accountID)
	if err != nil {
		return "", err
	}
	if bound {
		metrics.Transitions.WithLabelValues("payout_linked").Inc()
		s.log.Info("payout account linked", zap.String("ambassador_id", a.ID), zap.String("account_id", accountID))
		return accountID, nil
	}

	winner, err := s.reload(ctx, a.ID)
	if err != nil {
		return "", err
	}
	if !winner.HasPayoutAccount() {
		return "", fmt.Errorf("bind payout account: ambassador %s not eligible", a.ID)
	}
	s.log.Warn("payout account bind lost race",
		zap.String("ambassador_id", a.ID),
		zap.String("orphaned_account_id", accountID),
		zap.String("account_id", *winner.PayoutAccountID),
	)
	return *winner.PayoutAccountID, nil
}

func (s *AmbassadorService) markVerified(ctx context.Context, id, accountID string) (bool, error) {
	ok, err := s.ambassadors.MarkPayoutVerified(ctx, id, accountID, s.now())
	if err != nil {
		return false, err
	}
	if ok {
		metrics.Transitions.WithLabelValues("onboarded").Inc()
		s.log.Info("payout account verified", zap.String("ambassador_id", id), zap.String("account_id", accountID))
	}
	return ok, nil
}

// SyncVerification pulls the processor's view of a step-3 ambassador and
// promotes them to step 4 once verified. Other steps are returned as is.
func (s *AmbassadorService) SyncVerification(ctx context.Context, a *models.Ambassador) (*models.Ambassador, error) {
	if a.OnboardingStep != models.StepPayoutLinked || !a.HasPayoutAccount() {
		return a, nil
	}
	status, err := s.payouts.RetrieveAccount(ctx, *a.PayoutAccountID)
	if err != nil {
		return a, err
	}
	if !status.Verified() {
		return a, nil
	}
	if _, err := s.markVerified(ctx, a.ID, *a.PayoutAccountID); err != nil {
		return a, err
	}
	return s.reload(ctx, a.ID)
}

// DisconnectPayout unlinks a pending payout account, moving the caller from
// step 3 back to step 2. Without a linked account it is a no-op. A verified
// account is managed from the processor dashboard and cannot be unlinked.
func (s *AmbassadorService) DisconnectPayout(ctx context.Context, p *Principal) (*models.Ambassador, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	a, err := s.current(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if !a.HasPayoutAccount() {
		return a, nil
	}
	if a.OnboardingStep == models.StepOnboarded {
		return nil, s.deny(apperr.ReasonPayoutVerified, "a verified payout account cannot be disconnected")
	}
	ok, err := s.ambassadors.UnlinkPayoutAccount(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.Transitions.WithLabelValues("payout_disconnected").Inc()
		s.log.Info("payout account disconnected", zap.String("ambassador_id", a.ID), zap.String("account_id", *a.PayoutAccountID))
	}
	return s.reload(ctx, a.ID)
}

// Advance bumps a user's step by one without checking gates. Operators only.
func (s *AmbassadorService) Advance(ctx context.Context, userID string) (*models.Ambassador, error) {
	a, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := s.ambassadors.AdvanceStep(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.Transitions.WithLabelValues("manual_advance").Inc()
		s.log.Warn("ambassador step advanced manually", zap.String("ambassador_id", a.ID), zap.Stringer("from", a.OnboardingStep))
	}
	return s.reload(ctx, a.ID)
}

// SyncUser runs SyncVerification for one user. Operators only.
func (s *AmbassadorService) SyncUser(ctx context.Context, userID string) (*models.Ambassador, error) {
	a, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.SyncVerification(ctx, a)
}

// ReferralLink is the shareable signup URL for code.
func (s *AmbassadorService) ReferralLink(code string) string {
	return s.settings.PublicURL + "/?ref=" + url.QueryEscape(code)
}

// Stats returns the dashboard view. It repairs a missing referral code and
// syncs payout verification on the way; payout failures are reported in
// PayoutLinkError and do not fail the read.
func (s *AmbassadorService) Stats(ctx context.Context, p *Principal) (*Stats, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	a, err := s.current(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if a, err = s.ensureReferralCode(ctx, a); err != nil {
		return nil, err
	}

	out := &Stats{}
	if a.OnboardingStep == models.StepPayoutLinked {
		synced, err := s.SyncVerification(ctx, a)
		if err != nil {
			s.log.Warn("verification sync failed", zap.String("ambassador_id", a.ID), zap.Error(err))
			out.PayoutLinkError = err.Error()
		}
		a = synced
	}

	summary, err := s.ledger.Summarize(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	recent, err := s.ledger.Recent(ctx, a.ID, RecentActivityLimit)
	if err != nil {
		return nil, err
	}

	out.Ambassador = a
	out.ReferralCode = a.Code()
	out.ReferralLink = s.ReferralLink(a.Code())
	out.Summary = summary
	out.Recent = recent

	if a.HasPayoutAccount() && out.PayoutLinkError == "" {
		var link string
		switch a.OnboardingStep {
		case models.StepOnboarded:
			link, err = s.payouts.CreateDashboardLoginLink(ctx, *a.PayoutAccountID)
			out.PayoutMode = PayoutModeDashboard
		default:
			link, err = s.payouts.CreateOnboardingLink(ctx, *a.PayoutAccountID, s.settings.ReturnURL, s.settings.RefreshURL)
			out.PayoutMode = PayoutModeOnboarding
		}
		if err != nil {
			s.log.Warn("payout link failed", zap.String("ambassador_id", a.ID), zap.Error(err))
			out.PayoutMode = ""
			out.PayoutLinkError = err.Error()
		} else {
			out.PayoutURL = link
		}
	}
	return out, nil
}
