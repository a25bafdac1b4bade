package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"skills-studio/models"
	"skills-studio/repository"
)

// ── Mock MemberRepository ──

type mockMemberRepo struct {
	mu      sync.Mutex
	members map[string]*models.Member // key: user_id
}

func newMockMemberRepo() *mockMemberRepo {
	return &mockMemberRepo{members: make(map[string]*models.Member)}
}

func (m *mockMemberRepo) GetByUserID(_ context.Context, userID string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.members[userID]; ok {
		cp := *mem
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockMemberRepo) GetByStripeCustomer(_ context.Context, customerID string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.StripeCustomerID != nil && *mem.StripeCustomerID == customerID {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockMemberRepo) GetByEmail(_ context.Context, email string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if strings.EqualFold(mem.Email, email) {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockMemberRepo) Upsert(_ context.Context, mem *models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mem
	if existing, ok := m.members[mem.UserID]; ok {
		cp.ID = existing.ID
	}
	m.members[mem.UserID] = &cp
	return nil
}

func (m *mockMemberRepo) put(userID, plan, status string) {
	m.members[userID] = &models.Member{
		ID:                 "mem-" + userID,
		UserID:             userID,
		Email:              userID + "@example.com",
		Plan:               plan,
		SubscriptionStatus: status,
	}
}

// ── Mock AmbassadorRepository ──

type mockAmbassadorRepo struct {
	mu          sync.Mutex
	ambassadors map[string]*models.Ambassador // key: id
	// createErr is returned once by the next CreateIfAbsent call.
	createErr []error
}

func newMockAmbassadorRepo() *mockAmbassadorRepo {
	return &mockAmbassadorRepo{ambassadors: make(map[string]*models.Ambassador)}
}

func (m *mockAmbassadorRepo) find(pred func(*models.Ambassador) bool) (*models.Ambassador, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.ambassadors {
		if pred(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockAmbassadorRepo) GetByID(_ context.Context, id string) (*models.Ambassador, error) {
	return m.find(func(a *models.Ambassador) bool { return a.ID == id })
}

func (m *mockAmbassadorRepo) GetByUserID(_ context.Context, userID string) (*models.Ambassador, error) {
	return m.find(func(a *models.Ambassador) bool { return a.UserID == userID })
}

func (m *mockAmbassadorRepo) GetByCode(_ context.Context, code string) (*models.Ambassador, error) {
	return m.find(func(a *models.Ambassador) bool { return a.Code() == code })
}

func (m *mockAmbassadorRepo) CreateIfAbsent(_ context.Context, a *models.Ambassador) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		return false, err
	}
	for _, existing := range m.ambassadors {
		if existing.UserID == a.UserID {
			return false, nil
		}
		if a.Code() != "" && existing.Code() == a.Code() {
			return false, repository.ErrDuplicate
		}
	}
	cp := *a
	m.ambassadors[a.ID] = &cp
	return true, nil
}

// mutate applies fn to the row with id when cond holds, like a conditional
// UPDATE.
func (m *mockAmbassadorRepo) mutate(id string, cond func(*models.Ambassador) bool, fn func(*models.Ambassador)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ambassadors[id]
	if !ok || !cond(a) {
		return false, nil
	}
	fn(a)
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockAmbassadorRepo) BackfillCode(_ context.Context, id, code string) (bool, error) {
	m.mu.Lock()
	for _, a := range m.ambassadors {
		if a.Code() == code {
			m.mu.Unlock()
			return false, repository.ErrDuplicate
		}
	}
	m.mu.Unlock()
	return m.mutate(id, func(a *models.Ambassador) bool { return a.Code() == "" }, func(a *models.Ambassador) {
		a.ReferralCode = &code
	})
}

func maxStep(a, b models.OnboardingStep) models.OnboardingStep {
	if a > b {
		return a
	}
	return b
}

func (m *mockAmbassadorRepo) RecordSocialProof(_ context.Context, id string, links []string) (bool, error) {
	return m.mutate(id, func(a *models.Ambassador) bool { return a.OnboardingStep >= models.StepApplied }, func(a *models.Ambassador) {
		a.ProofLinks = append([]string(nil), links...)
		a.SocialProofCount = len(links)
		a.OnboardingStep = maxStep(a.OnboardingStep, models.StepTrained)
	})
}

func (m *mockAmbassadorRepo) MarkTrainingComplete(_ context.Context, id string, at time.Time) (bool, error) {
	return m.mutate(id, func(a *models.Ambassador) bool { return a.OnboardingStep >= models.StepApplied }, func(a *models.Ambassador) {
		if a.TrainingCompletedAt == nil {
			a.TrainingCompletedAt = &at
		}
		a.OnboardingStep = maxStep(a.OnboardingStep, models.StepTrained)
	})
}

func (m *mockAmbassadorRepo) BindPayoutAccount(_ context.Context, id, accountID string) (bool, error) {
	return m.mutate(id, func(a *models.Ambassador) bool {
		return a.PayoutAccountID == nil && a.OnboardingStep >= models.StepTrained
	}, func(a *models.Ambassador) {
		a.PayoutAccountID = &accountID
		a.OnboardingStep = maxStep(a.OnboardingStep, models.StepPayoutLinked)
	})
}

func (m *mockAmbassadorRepo) MarkPayoutVerified(_ context.Context, id, accountID string, at time.Time) (bool, error) {
	return m.mutate(id, func(a *models.Ambassador) bool {
		return a.OnboardingStep == models.StepPayoutLinked && a.PayoutAccountID != nil && *a.PayoutAccountID == accountID
	}, func(a *models.Ambassador) {
		a.OnboardingStep = models.StepOnboarded
		a.PayoutVerifiedAt = &at
	})
}

func (m *mockAmbassadorRepo) UnlinkPayoutAccount(_ context.Context, id string) (bool, error) {
	return m.mutate(id, func(a *models.Ambassador) bool {
		return a.OnboardingStep == models.StepPayoutLinked && a.PayoutAccountID != nil
	}, func(a *models.Ambassador) {
		a.PayoutAccountID = nil
		a.PayoutVerifiedAt = nil
		a.OnboardingStep = models.StepTrained
	})
}

func (m *mockAmbassadorRepo) AdvanceStep(_ context.Context, id string) (bool, error) {
	return m.mutate(id, func(a *models.Ambassador) bool { return a.OnboardingStep < models.StepOnboarded }, func(a *models.Ambassador) {
		a.OnboardingStep++
	})
}

func (m *mockAmbassadorRepo) ListByStep(_ context.Context, step models.OnboardingStep, limit int) ([]models.Ambassador, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ambassador
	for _, a := range m.ambassadors {
		if a.OnboardingStep == step {
			out = append(out, *a)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockAmbassadorRepo) put(a *models.Ambassador) *models.Ambassador {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.ambassadors[a.ID] = &cp
	return a
}

func (m *mockAmbassadorRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ambassadors)
}

// ── Mock ReferralRepository ──

type mockReferralRepo struct {
	mu        sync.Mutex
	referrals map[string]*models.Referral // key: referred_user_id
}

func newMockReferralRepo() *mockReferralRepo {
	return &mockReferralRepo{referrals: make(map[string]*models.Referral)}
}

func (m *mockReferralRepo) CreateIfAbsent(_ context.Context, r *models.Referral) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referrals[r.ReferredUserID]; ok {
		return false, nil
	}
	cp := *r
	m.referrals[r.ReferredUserID] = &cp
	return true, nil
}

func (m *mockReferralRepo) GetByReferredUser(_ context.Context, userID string) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.referrals[userID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockReferralRepo) SetStatus(_ context.Context, userID string, status models.ReferralStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[userID]
	if !ok || r.Status == status {
		return false, nil
	}
	r.Status = status
	if status == models.ReferralStatusActivePro && r.ConvertedAt == nil {
		r.ConvertedAt = &at
	}
	return true, nil
}

func (m *mockReferralRepo) CountByStatus(_ context.Context, ambassadorID string) (map[models.ReferralStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.ReferralStatus]int64)
	for _, r := range m.referrals {
		if r.AmbassadorID == ambassadorID {
			out[r.Status]++
		}
	}
	return out, nil
}

func (m *mockReferralRepo) ListByAmbassador(_ context.Context, ambassadorID string, limit int) ([]models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Referral
	for _, r := range m.referrals {
		if r.AmbassadorID == ambassadorID && (limit <= 0 || len(out) < limit) {
			out = append(out, *r)
		}
	}
	return out, nil
}

// ── Mock CommissionRepository ──

type mockCommissionRepo struct {
	mu          sync.Mutex
	commissions map[string]*models.Commission // key: id
}

func newMockCommissionRepo() *mockCommissionRepo {
	return &mockCommissionRepo{commissions: make(map[string]*models.Commission)}
}

func (m *mockCommissionRepo) Create(_ context.Context, c *models.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.commissions[c.ID] = &cp
	return nil
}

func (m *mockCommissionRepo) CreateIfAbsent(_ context.Context, c *models.Commission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.commissions {
		if existing.IdempotencyKey != nil && c.IdempotencyKey != nil && *existing.IdempotencyKey == *c.IdempotencyKey {
			return false, nil
		}
	}
	cp := *c
	m.commissions[c.ID] = &cp
	return true, nil
}

func (m *mockCommissionRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commissions {
		if c.IdempotencyKey != nil && *c.IdempotencyKey == key {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockCommissionRepo) SumByStatus(_ context.Context, ambassadorID string) (map[models.CommissionStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.CommissionStatus]int64)
	for _, c := range m.commissions {
		if c.AmbassadorID == ambassadorID {
			out[c.Status] += c.AmountCents
		}
	}
	return out, nil
}

func (m *mockCommissionRepo) MarkPaid(_ context.Context, ids []string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if c, ok := m.commissions[id]; ok && c.Status == models.CommissionPending {
			c.Status = models.CommissionPaid
			c.PaidAt = &at
			n++
		}
	}
	return n, nil
}

func (m *mockCommissionRepo) ListByAmbassador(_ context.Context, ambassadorID string, limit int) ([]models.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Commission
	for _, c := range m.commissions {
		if c.AmbassadorID == ambassadorID && (limit <= 0 || len(out) < limit) {
			out = append(out, *c)
		}
	}
	return out, nil
}

// ── Mock BillingEventRepository ──

type mockBillingEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.BillingEvent // key: provider/event id
}

func newMockBillingEventRepo() *mockBillingEventRepo {
	return &mockBillingEventRepo{events: make(map[string]*models.BillingEvent)}
}

func (m *mockBillingEventRepo) Record(_ context.Context, e *models.BillingEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.Provider + "/" + e.ProviderEventID
	if _, ok := m.events[key]; ok {
		return false, nil
	}
	cp := *e
	m.events[key] = &cp
	return true, nil
}

func (m *mockBillingEventRepo) Get(_ context.Context, provider, eventID string) (*models.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[provider+"/"+eventID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockBillingEventRepo) MarkProcessed(_ context.Context, id string, at time.Time, processingErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			e.ProcessingError = processingErr
			if processingErr == "" {
				e.ProcessedAt = &at
			}
			return nil
		}
	}
	return errors.New("billing event not found")
}

// ── Fakes ──

type fakeProcessor struct {
	mu          sync.Mutex
	created     int
	verified    map[string]bool
	err         error
	retrieveErr error
	linkErr     error
	lastReturn  string
	lastRefresh string
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{verified: make(map[string]bool)}
}

func (f *fakeProcessor) CreateSubAccount(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created++
	return "acct_" + string(rune('a'+f.created-1)), nil
}

func (f *fakeProcessor) RetrieveAccount(_ context.Context, accountID string) (AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retrieveErr != nil {
		return AccountStatus{}, f.retrieveErr
	}
	v := f.verified[accountID]
	return AccountStatus{AccountID: accountID, DetailsSubmitted: v, PayoutsEnabled: v}, nil
}

func (f *fakeProcessor) CreateOnboardingLink(_ context.Context, accountID, returnURL, refreshURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return "", f.linkErr
	}
	f.lastReturn, f.lastRefresh = returnURL, refreshURL
	return "https://connect.example/onboard/" + accountID, nil
}

func (f *fakeProcessor) CreateDashboardLoginLink(_ context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return "https://connect.example/dashboard/" + accountID, nil
}

func (f *fakeProcessor) setVerified(accountID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified[accountID] = true
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []ReferralEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, evt ReferralEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// ── Fixture ──

type fixture struct {
	members     *mockMemberRepo
	ambassadors *mockAmbassadorRepo
	referrals   *mockReferralRepo
	commissions *mockCommissionRepo
	events      *mockBillingEventRepo
	processor   *fakeProcessor
	notifier    *recordingNotifier
	dispatch    *Dispatcher

	repo        *repository.Repository
	ledger      *LedgerService
	ambassador  *AmbassadorService
	attribution *AttributionService
	billing     *BillingService
}

func newFixture() *fixture {
	f := &fixture{
		members:     newMockMemberRepo(),
		ambassadors: newMockAmbassadorRepo(),
		referrals:   newMockReferralRepo(),
		commissions: newMockCommissionRepo(),
		events:      newMockBillingEventRepo(),
		processor:   newFakeProcessor(),
		notifier:    &recordingNotifier{},
	}
	f.repo = &repository.Repository{
		Members:      f.members,
		Ambassadors:  f.ambassadors,
		Referrals:    f.referrals,
		Commissions:  f.commissions,
		BillingEvent: f.events,
	}
	log := zap.NewNop()
	f.dispatch = NewDispatcher(f.notifier, time.Second, log)
	f.ledger = NewLedgerService(f.repo, log)
	f.ambassador = NewAmbassadorService(f.repo, f.processor, f.ledger, ProgramSettings{
		QualifyingPlans: []string{models.PlanPro},
		MinProofLinks:   3,
		PublicURL:       "https://studio.example",
		ReturnURL:       "https://studio.example/ambassador/dashboard?connect=return",
		RefreshURL:      "https://studio.example/ambassador/dashboard?connect=refresh",
	}, log)
	f.attribution = NewAttributionService(f.repo, f.dispatch, log)
	f.billing = NewBillingService(f.repo, f.ledger, 2000, "", log)
	return f
}

func principal(userID string) *Principal {
	return &Principal{UserID: userID, Email: userID + "@example.com"}
}

func strPtr(s string) *string { return &s }
