package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"skills-studio/apperr"
	"skills-studio/metrics"
	"skills-studio/models"
	"skills-studio/repository"
)

const providerStripe = "stripe"

// Billing event types handled by BillingService. Everything else is recorded
// and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

const (
	BillingProcessed = "processed"
	BillingDuplicate = "duplicate"
	BillingIgnored   = "ignored"
)

// BillingEventInput is a verified provider event.
type BillingEventInput struct {
	ID      string
	Type    string
	Data    json.RawMessage
	Payload []byte
}

// BillingService keeps member plans and referral statuses in step with the
// billing provider and accrues commissions on paid invoices.
type BillingService struct {
	members       repository.MemberRepository
	referrals     repository.ReferralRepository
	events        repository.BillingEventRepository
	ledger        *LedgerService
	rateBps       int64
	webhookSecret string
	log           *zap.Logger
	now           func() time.Time
}

func NewBillingService(repo *repository.Repository, ledger *LedgerService, rateBps int64, webhookSecret string, log *zap.Logger) *BillingService {
	return &BillingService{
		members:       repo.Members,
		referrals:     repo.Referrals,
		events:        repo.BillingEvent,
		ledger:        ledger,
		rateBps:       rateBps,
		webhookSecret: webhookSecret,
		log:           log,
		now:           time.Now,
	}
}

// HandleStripeWebhook verifies the signature and processes the event.
func (s *BillingService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	if s.webhookSecret == "" {
		return "", errors.New("stripe webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", apperr.Unauthorized(apperr.ReasonInvalidCredential, "invalid webhook signature")
	}
	var data json.RawMessage
	if event.Data != nil {
		data = event.Data.Raw
	}
	return s.ProcessEvent(ctx, BillingEventInput{
		ID:      event.ID,
		Type:    string(event.Type),
		Data:    data,
		Payload: payload,
	})
}

// ProcessEvent applies one event at most once. A delivery whose earlier
// processing failed is retried; one that succeeded is reported as duplicate.
func (s *BillingService) ProcessEvent(ctx context.Context, in BillingEventInput) (string, error) {
	if in.ID == "" {
		return "", apperr.Validation(apperr.ReasonInvalidStatus, "event id is required")
	}

	rec := &models.BillingEvent{
		ID:              uuid.NewString(),
		Provider:        providerStripe,
		ProviderEventID: in.ID,
		EventType:       in.Type,
		Payload:         string(in.Payload),
	}
	created, err := s.events.Record(ctx, rec)
	if err != nil {
		return "", err
	}
	if !created {
		existing, err := s.events.Get(ctx, providerStripe, in.ID)
		if err != nil {
			return "", err
		}
		if existing.ProcessedAt != nil {
			metrics.BillingEvents.WithLabelValues(in.Type, BillingDuplicate).Inc()
			return BillingDuplicate, nil
		}
		rec = existing
	}

	result, procErr := s.apply(ctx, in)
	errText := ""
	if procErr != nil {
		errText = procErr.Error()
		result = "failed"
	}
	if err := s.events.MarkProcessed(ctx, rec.ID, s.now(), errText); err != nil {
		s.log.Error("mark billing event processed", zap.String("event_id", in.ID), zap.Error(err))
	}
	metrics.BillingEvents.WithLabelValues(in.Type, result).Inc()

	if procErr != nil {
		s.log.Error("billing event failed", zap.String("event_id", in.ID), zap.String("type", in.Type), zap.Error(procErr))
		return "", procErr
	}
	return result, nil
}

type checkoutSession struct {
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Mode string `json:"mode"`
}

type invoice struct {
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	AmountPaid    int64  `json:"amount_paid"`
	BillingReason string `json:"billing_reason"`
}

type subscription struct {
	Customer string `json:"customer"`
	Status   string `json:"status"`
}

func (s *BillingService) apply(ctx context.Context, in BillingEventInput) (string, error) {
	switch in.Type {
	case EventCheckoutCompleted:
		var cs checkoutSession
		if err := json.Unmarshal(in.Data, &cs); err != nil {
			return "", fmt.Errorf("decode checkout session: %w", err)
		}
		return s.onCheckoutCompleted(ctx, cs)
	case EventInvoicePaid:
		var inv invoice
		if err := json.Unmarshal(in.Data, &inv); err != nil {
			return "", fmt.Errorf("decode invoice: %w", err)
		}
		return s.onInvoicePaid(ctx, in.ID, inv)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub subscription
		if err := json.Unmarshal(in.Data, &sub); err != nil {
			return "", fmt.Errorf("decode subscription: %w", err)
		}
		if in.Type == EventSubscriptionDeleted {
			sub.Status = models.SubscriptionCanceled
		}
		return s.onSubscriptionChanged(ctx, sub)
	default:
		return BillingIgnored, nil
	}
}

func (s *BillingService) onCheckoutCompleted(ctx context.Context, cs checkoutSession) (string, error) {
	if cs.Mode != "subscription" || cs.ClientReferenceID == "" {
		return BillingIgnored, nil
	}
	email := cs.CustomerEmail
	if email == "" && cs.CustomerDetails != nil {
		email = cs.CustomerDetails.Email
	}
	m := &models.Member{
		ID:                 uuid.NewString(),
		UserID:             cs.ClientReferenceID,
		Email:              email,
		Plan:               models.PlanPro,
		SubscriptionStatus: models.SubscriptionActive,
	}
	if cs.Customer != "" {
		customer := cs.Customer
		m.StripeCustomerID = &customer
	}
	if err := s.members.Upsert(ctx, m); err != nil {
		return "", err
	}
	return BillingProcessed, nil
}

// findMember resolves a billing customer to a member, by customer id first
// and then by email.
func (s *BillingService) findMember(ctx context.Context, customerID, email string) (*models.Member, error) {
	if customerID != "" {
		m, err := s.members.GetByStripeCustomer(ctx, customerID)
		if err == nil || !errors.Is(err, repository.ErrNotFound) {
			return m, err
		}
	}
	if email != "" {
		return s.members.GetByEmail(ctx, email)
	}
	return nil, repository.ErrNotFound
}

func (s *BillingService) onInvoicePaid(ctx context.Context, eventID string, inv invoice) (string, error) {
	if !strings.HasPrefix(inv.BillingReason, "subscription") {
		return BillingIgnored, nil
	}
	m, err := s.findMember(ctx, inv.Customer, inv.CustomerEmail)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn("invoice for unknown customer", zap.String("event_id", eventID), zap.String("customer", inv.Customer))
		return BillingIgnored, nil
	}
	if err != nil {
		return "", err
	}

	m.Plan = models.PlanPro
	m.SubscriptionStatus = models.SubscriptionActive
	if m.StripeCustomerID == nil && inv.Customer != "" {
		customer := inv.Customer
		m.StripeCustomerID = &customer
	}
	if err := s.members.Upsert(ctx, m); err != nil {
		return "", err
	}

	if _, err := s.referrals.SetStatus(ctx, m.UserID, models.ReferralStatusActivePro, s.now()); err != nil {
		return "", err
	}
	ref, err := s.referrals.GetByReferredUser(ctx, m.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return BillingProcessed, nil
	}
	if err != nil {
		return "", err
	}

	amount := CommissionFor(inv.AmountPaid, s.rateBps)
	if amount <= 0 {
		return BillingProcessed, nil
	}
	referralID := ref.ID
	if _, _, err := s.ledger.Accrue(ctx, AccrueInput{
		AmbassadorID:   ref.AmbassadorID,
		ReferralID:     &referralID,
		AmountCents:    amount,
		Status:         models.CommissionPending,
		IdempotencyKey: providerStripe + ":" + eventID,
		Source:         EventInvoicePaid,
	}); err != nil {
		return "", err
	}
	return BillingProcessed, nil
}

func (s *BillingService) onSubscriptionChanged(ctx context.Context, sub subscription) (string, error) {
	m, err := s.findMember(ctx, sub.Customer, "")
	if errors.Is(err, repository.ErrNotFound) {
		return BillingIgnored, nil
	}
	if err != nil {
		return "", err
	}

	m.SubscriptionStatus = sub.Status
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionTrialing, models.SubscriptionPastDue:
		m.Plan = models.PlanPro
	default:
		m.Plan = models.PlanFree
	}
	if err := s.members.Upsert(ctx, m); err != nil {
		return "", err
	}

	if m.Plan == models.PlanFree {
		if _, err := s.referrals.SetStatus(ctx, m.UserID, models.ReferralStatusTrial, s.now()); err != nil {
			return "", err
		}
	}
	return BillingProcessed, nil
}

// CommissionFor is amountCents * rateBps / 10000, rounded down.
func CommissionFor(amountCents, rateBps int64) int64 {
	if amountCents <= 0 || rateBps <= 0 {
		return 0
	}
	return amountCents * rateBps / 10000
}
