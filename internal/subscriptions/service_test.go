package subscriptions

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/outbox"
)

type stubSubsRepo struct {
	subs map[uuid.UUID]*models.Subscription
}

func newStubSubsRepo() *stubSubsRepo {
	return &stubSubsRepo{subs: map[uuid.UUID]*models.Subscription{}}
}

func (s *stubSubsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubSubsRepo) Create(_ context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subs[sub.ID] = sub
	return nil
}

func (s *stubSubsRepo) Save(_ context.Context, sub *models.Subscription) error {
	s.subs[sub.ID] = sub
	return nil
}

func (s *stubSubsRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.subs[id], nil
}

func (s *stubSubsRepo) FindByProfileID(_ context.Context, gateway, profileID string) (*models.Subscription, error) {
	for _, sub := range s.subs {
		if sub.Gateway == gateway && sub.ProfileID == profileID {
			return sub, nil
		}
	}
	return nil, nil
}

func (s *stubSubsRepo) ListByParentOrder(_ context.Context, parentOrderID uuid.UUID) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subs {
		if sub.ParentOrderID == parentOrderID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *stubSubsRepo) DeletePendingByParentOrder(_ context.Context, parentOrderID uuid.UUID) error {
	for id, sub := range s.subs {
		if sub.ParentOrderID == parentOrderID && sub.Status == enums.SubscriptionStatusPending {
			delete(s.subs, id)
		}
	}
	return nil
}

func (s *stubSubsRepo) ListActivePastExpiration(_ context.Context, asOf time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subs {
		if sub.Status == enums.SubscriptionStatusActive && sub.Expiration.Before(asOf) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (s *stubSubsRepo) ListForReconciliation(_ context.Context, updatedBefore time.Time, limit int) ([]models.Subscription, error) {
	return nil, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubPublisher struct {
	events []outbox.DomainEvent
}

func (p *stubPublisher) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) has(eventType enums.OutboxEventType) bool {
	for _, event := range p.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

// lifecycleAdapter accepts every lifecycle call and records what was asked.
type lifecycleAdapter struct {
	gateways.BaseAdapter
	id                string
	cancelled         bool
	cancelImmediately bool
	reactivated       bool
	retried           bool
	updatedToken      string
	failPeriodEnd     bool
}

func (a *lifecycleAdapter) ID() string                                      { return a.id }
func (a *lifecycleAdapter) CanCancel(*models.Subscription) bool             { return true }
func (a *lifecycleAdapter) CanReactivate(*models.Subscription) bool         { return true }
func (a *lifecycleAdapter) CanRetry(*models.Subscription) bool              { return true }
func (a *lifecycleAdapter) CanUpdate(*models.Subscription) bool             { return true }
func (a *lifecycleAdapter) CreateProfiles(context.Context, *gateways.Session) error {
	return nil
}

func (a *lifecycleAdapter) Cancel(_ context.Context, _ *models.Subscription, atPeriodEnd bool) error {
	if a.failPeriodEnd {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "period-end cancel unsupported")
	}
	a.cancelled = true
	return nil
}

func (a *lifecycleAdapter) CancelImmediately(context.Context, *models.Subscription) error {
	a.cancelImmediately = true
	return nil
}

func (a *lifecycleAdapter) Reactivate(context.Context, *models.Subscription) error {
	a.reactivated = true
	return nil
}

func (a *lifecycleAdapter) Retry(context.Context, *models.Subscription) error {
	a.retried = true
	return nil
}

func (a *lifecycleAdapter) UpdatePaymentMethod(_ context.Context, _ *models.Subscription, token string) error {
	a.updatedToken = token
	return nil
}

func newLifecycleService(t *testing.T, repo Repository, adapter gateways.Adapter) (Service, *stubPublisher) {
	t.Helper()
	registry := gateways.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	publisher := &stubPublisher{}
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: io.Discard})
	svc, err := NewService(repo, stubTxRunner{}, publisher, registry, logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, publisher
}

func activeSub(gateway string, expiration time.Time) *models.Subscription {
	return &models.Subscription{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		ParentOrderID: uuid.New(),
		ProductID:     uuid.New(),
		Gateway:       gateway,
		ProfileID:     "I-PROFILE",
		Status:        enums.SubscriptionStatusActive,
		Period:        enums.BillingPeriodMonth,
		Expiration:    expiration,
	}
}

func TestCancelAtPeriodEndKeepsExpiration(t *testing.T) {
	repo := newStubSubsRepo()
	adapter := &lifecycleAdapter{id: "paypal_commerce"}
	svc, publisher := newLifecycleService(t, repo, adapter)

	expiration := time.Now().UTC().AddDate(0, 1, 0)
	sub := activeSub("paypal_commerce", expiration)
	repo.subs[sub.ID] = sub

	if err := svc.Cancel(context.Background(), sub.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !adapter.cancelled || adapter.cancelImmediately {
		t.Fatal("expected period-end cancel at the gateway")
	}
	if sub.Status != enums.SubscriptionStatusCancelled {
		t.Fatalf("status %s", sub.Status)
	}
	if !sub.Expiration.Equal(expiration) {
		t.Fatal("period-end cancel must keep paid-through expiration")
	}
	if !publisher.has(enums.EventSubscriptionCancelled) {
		t.Fatal("subscription.cancelled event not emitted")
	}
}

func TestCancelFallsBackToImmediate(t *testing.T) {
	repo := newStubSubsRepo()
	adapter := &lifecycleAdapter{id: "paypal_commerce", failPeriodEnd: true}
	svc, _ := newLifecycleService(t, repo, adapter)

	sub := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 1, 0))
	repo.subs[sub.ID] = sub

	if err := svc.Cancel(context.Background(), sub.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !adapter.cancelImmediately {
		t.Fatal("expected immediate-cancel fallback")
	}
	if sub.Expiration.After(time.Now().UTC().Add(time.Minute)) {
		t.Fatal("immediate cancel should cut expiration to now")
	}
}

func TestReactivateCancelledUnexpired(t *testing.T) {
	repo := newStubSubsRepo()
	adapter := &lifecycleAdapter{id: "paypal_commerce"}
	svc, publisher := newLifecycleService(t, repo, adapter)

	sub := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 1, 0))
	sub.Status = enums.SubscriptionStatusCancelled
	repo.subs[sub.ID] = sub

	if err := svc.Reactivate(context.Background(), sub.ID); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !adapter.reactivated || sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("reactivation not applied: %s", sub.Status)
	}
	if !publisher.has(enums.EventSubscriptionActivated) {
		t.Fatal("subscription.activated event not emitted")
	}
}

func TestReactivateRefusedPastExpiration(t *testing.T) {
	repo := newStubSubsRepo()
	svc, _ := newLifecycleService(t, repo, &lifecycleAdapter{id: "paypal_commerce"})

	sub := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, -1, 0))
	sub.Status = enums.SubscriptionStatusCancelled
	repo.subs[sub.ID] = sub

	err := svc.Reactivate(context.Background(), sub.ID)
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRetryOnlyFailing(t *testing.T) {
	repo := newStubSubsRepo()
	adapter := &lifecycleAdapter{id: "paypal_commerce"}
	svc, _ := newLifecycleService(t, repo, adapter)

	sub := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 1, 0))
	repo.subs[sub.ID] = sub

	err := svc.Retry(context.Background(), sub.ID)
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict for non-failing sub, got %v", err)
	}

	sub.Status = enums.SubscriptionStatusFailing
	if err := svc.Retry(context.Background(), sub.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !adapter.retried {
		t.Fatal("gateway retry not invoked")
	}
	if sub.Status != enums.SubscriptionStatusFailing {
		t.Fatal("retry must not assume recovery before the webhook confirms")
	}
}

func TestRenewAdvancesOnePeriod(t *testing.T) {
	repo := newStubSubsRepo()
	svc, publisher := newLifecycleService(t, repo, &lifecycleAdapter{id: "paypal_commerce"})

	expiration := time.Now().UTC().AddDate(0, 0, 3)
	sub := activeSub("paypal_commerce", expiration)
	sub.TimesBilled = 1
	repo.subs[sub.ID] = sub

	if err := svc.Renew(context.Background(), sub); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if sub.TimesBilled != 2 {
		t.Fatalf("times billed %d", sub.TimesBilled)
	}
	if !sub.Expiration.Equal(expiration.AddDate(0, 1, 0)) {
		t.Fatalf("expiration %s", sub.Expiration)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("status %s", sub.Status)
	}
	if !publisher.has(enums.EventSubscriptionRenewed) {
		t.Fatal("subscription.renewed event not emitted")
	}
}

func TestRenewCompletesAtBillTimes(t *testing.T) {
	repo := newStubSubsRepo()
	svc, publisher := newLifecycleService(t, repo, &lifecycleAdapter{id: "paypal_commerce"})

	sub := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 0, 3))
	sub.BillTimes = 3
	sub.TimesBilled = 2
	repo.subs[sub.ID] = sub

	if err := svc.Renew(context.Background(), sub); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusCompleted {
		t.Fatalf("status %s", sub.Status)
	}
	if !publisher.has(enums.EventSubscriptionCompleted) {
		t.Fatal("subscription.completed event not emitted")
	}
}

func TestRenewForeverWhenBillTimesZero(t *testing.T) {
	repo := newStubSubsRepo()
	svc, _ := newLifecycleService(t, repo, &lifecycleAdapter{id: "paypal_commerce"})

	sub := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 0, 3))
	sub.TimesBilled = 500
	repo.subs[sub.ID] = sub

	if err := svc.Renew(context.Background(), sub); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("bill times zero must never complete, got %s", sub.Status)
	}
}

func TestEffectiveStatusLazyExpiration(t *testing.T) {
	now := time.Now().UTC()
	sub := activeSub("paypal_commerce", now.Add(-time.Hour))

	if got := EffectiveStatus(sub, now); got != enums.SubscriptionStatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatal("effective status must not rewrite the row")
	}

	sub.Expiration = now.Add(time.Hour)
	if got := EffectiveStatus(sub, now); got != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", got)
	}
}

func TestActivateForOrder(t *testing.T) {
	repo := newStubSubsRepo()
	svc, publisher := newLifecycleService(t, repo, &lifecycleAdapter{id: "paypal_commerce"})

	parentOrderID := uuid.New()
	unit := enums.TrialUnitDay

	plain := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 1, 0))
	plain.ParentOrderID = parentOrderID
	plain.Status = enums.SubscriptionStatusPending
	repo.subs[plain.ID] = plain

	trial := activeSub("paypal_commerce", time.Now().UTC().AddDate(0, 0, 14))
	trial.ParentOrderID = parentOrderID
	trial.Status = enums.SubscriptionStatusPending
	trial.TrialQuantity = 14
	trial.TrialUnit = &unit
	repo.subs[trial.ID] = trial

	if err := svc.ActivateForOrder(context.Background(), nil, parentOrderID, "CAP-9"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if repo.subs[plain.ID].Status != enums.SubscriptionStatusActive {
		t.Fatalf("plain line %s", repo.subs[plain.ID].Status)
	}
	if repo.subs[trial.ID].Status != enums.SubscriptionStatusTrialling {
		t.Fatalf("trial line %s", repo.subs[trial.ID].Status)
	}
	if repo.subs[plain.ID].TransactionID != "CAP-9" {
		t.Fatal("transaction id not recorded")
	}
	if !publisher.has(enums.EventSubscriptionActivated) {
		t.Fatal("subscription.activated event not emitted")
	}
}
