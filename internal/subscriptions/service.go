package subscriptions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns subscription lifecycle transitions. Gateway side effects run
// before the local row changes: if the processor refuses, our state stays put.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID, immediately bool) error
	Reactivate(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID) error
	UpdatePaymentMethod(ctx context.Context, id uuid.UUID, token string) error
	Renew(ctx context.Context, sub *models.Subscription) error
	Expire(ctx context.Context, tx *gorm.DB, sub *models.Subscription) error
	MarkFailing(ctx context.Context, sub *models.Subscription) error
	MarkCancelled(ctx context.Context, sub *models.Subscription) error
	ActivateForOrder(ctx context.Context, tx *gorm.DB, parentOrderID uuid.UUID, transactionID string) error
	FindByProfileID(ctx context.Context, gateway, profileID string) (*models.Subscription, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	registry *gateways.Registry
	logg     *logger.Logger
}

// NewService builds the subscription lifecycle service.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, registry *gateways.Registry, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if registry == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher, registry: registry, logg: logg}, nil
}

// EffectiveStatus resolves the status a reader should see. Rows are not
// rewritten on read; the expiration sweep persists the transition later.
func EffectiveStatus(sub *models.Subscription, now time.Time) enums.SubscriptionStatus {
	if sub.Status == enums.SubscriptionStatusActive && now.After(sub.Expiration) {
		return enums.SubscriptionStatusExpired
	}
	return sub.Status
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) FindByProfileID(ctx context.Context, gateway, profileID string) (*models.Subscription, error) {
	sub, err := s.repo.FindByProfileID(ctx, gateway, profileID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription by profile")
	}
	return sub, nil
}

// Cancel stops future billing. Period-end cancellation is the default so
// the customer keeps what they paid for; immediate cancellation is used
// when requested or when the gateway cannot schedule one.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, immediately bool) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	status := EffectiveStatus(sub, now)
	if status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("subscription is already %s", status))
	}

	adapter, err := s.registry.Get(sub.Gateway)
	if err != nil {
		return err
	}
	if !adapter.CanCancel(sub) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "gateway does not support cancellation")
	}

	if immediately {
		err = adapter.CancelImmediately(ctx, sub)
	} else {
		err = adapter.Cancel(ctx, sub, true)
		if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeStateConflict {
			err = adapter.CancelImmediately(ctx, sub)
			immediately = true
		}
	}
	if err != nil {
		return err
	}

	sub.Status = enums.SubscriptionStatusCancelled
	if immediately {
		sub.Expiration = now
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
		}
		return s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionCancelled, sub))
	})
}

// Reactivate resumes a cancelled profile whose paid period has not lapsed.
func (s *service) Reactivate(ctx context.Context, id uuid.UUID) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sub.Status != enums.SubscriptionStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only cancelled subscriptions can be reactivated")
	}
	if now.After(sub.Expiration) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has expired and cannot be reactivated")
	}

	adapter, err := s.registry.Get(sub.Gateway)
	if err != nil {
		return err
	}
	if !adapter.CanReactivate(sub) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "gateway does not support reactivation")
	}
	if err := adapter.Reactivate(ctx, sub); err != nil {
		return err
	}

	sub.Status = enums.SubscriptionStatusActive
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reactivation")
		}
		return s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionActivated, sub))
	})
}

// Retry asks the gateway to re-attempt the outstanding payment on a
// failing profile. Recovery to active is confirmed by the renewal webhook,
// not assumed here.
func (s *service) Retry(ctx context.Context, id uuid.UUID) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status != enums.SubscriptionStatusFailing {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only failing subscriptions can be retried")
	}

	adapter, err := s.registry.Get(sub.Gateway)
	if err != nil {
		return err
	}
	if !adapter.CanRetry(sub) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "gateway does not support payment retry")
	}
	return adapter.Retry(ctx, sub)
}

// UpdatePaymentMethod swaps the payment instrument backing the profile.
func (s *service) UpdatePaymentMethod(ctx context.Context, id uuid.UUID, token string) error {
	if token == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment token required")
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if EffectiveStatus(sub, time.Now().UTC()).IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is no longer billable")
	}

	adapter, err := s.registry.Get(sub.Gateway)
	if err != nil {
		return err
	}
	if !adapter.CanUpdate(sub) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "gateway does not support payment method updates")
	}
	return adapter.UpdatePaymentMethod(ctx, sub, token)
}

// Renew books a successful billing cycle: one more period of access, one
// more payment counted. Fixed-length profiles complete once every payment
// is collected; bill times zero renews until cancelled.
func (s *service) Renew(ctx context.Context, sub *models.Subscription) error {
	if sub.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot renew a %s subscription", sub.Status))
	}

	now := time.Now().UTC()
	base := sub.Expiration
	if base.Before(now) {
		base = now
	}
	sub.Expiration = sub.Period.Next(base)
	sub.TimesBilled++
	if sub.BilledOut() {
		sub.Status = enums.SubscriptionStatusCompleted
	} else {
		sub.Status = enums.SubscriptionStatusActive
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist renewal")
		}
		// Renewals repeat per profile, so no dedup on emit.
		if err := s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionRenewed, sub)); err != nil {
			return err
		}
		if sub.Status == enums.SubscriptionStatusCompleted {
			return s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionCompleted, sub))
		}
		return nil
	})
}

// Expire persists the lazy active-past-expiration transition.
func (s *service) Expire(ctx context.Context, tx *gorm.DB, sub *models.Subscription) error {
	if sub.Status != enums.SubscriptionStatusActive {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only active subscriptions expire")
	}
	sub.Status = enums.SubscriptionStatusExpired
	if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist expiration")
	}
	return s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionExpired, sub))
}

// MarkFailing records a gateway-reported payment failure.
func (s *service) MarkFailing(ctx context.Context, sub *models.Subscription) error {
	if sub.Status.IsTerminal() {
		return nil
	}
	if sub.Status == enums.SubscriptionStatusFailing {
		return nil
	}
	sub.Status = enums.SubscriptionStatusFailing
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist failing status")
		}
		return s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionFailing, sub))
	})
}

// MarkCancelled records a cancellation that already happened on the
// processor side, e.g. via a webhook or the gateway's own dashboard.
func (s *service) MarkCancelled(ctx context.Context, sub *models.Subscription) error {
	if sub.Status == enums.SubscriptionStatusCancelled {
		return nil
	}
	if sub.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot cancel a %s subscription", sub.Status))
	}
	sub.Status = enums.SubscriptionStatusCancelled
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
		}
		return s.outbox.Emit(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionCancelled, sub))
	})
}

// ActivateForOrder flips the order's pending profiles live once payment is
// confirmed. Trial lines come up trialling; everything else active.
func (s *service) ActivateForOrder(ctx context.Context, tx *gorm.DB, parentOrderID uuid.UUID, transactionID string) error {
	repo := s.repo.WithTx(tx)
	subs, err := repo.ListByParentOrder(ctx, parentOrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order subscriptions")
	}

	for i := range subs {
		sub := &subs[i]
		if sub.Status != enums.SubscriptionStatusPending {
			continue
		}
		if sub.HasTrial() {
			sub.Status = enums.SubscriptionStatusTrialling
		} else {
			sub.Status = enums.SubscriptionStatusActive
		}
		if transactionID != "" {
			sub.TransactionID = transactionID
		}
		if err := repo.Save(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist activation")
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionActivated, sub)); err != nil {
			return err
		}
		s.logg.Info(s.logg.WithField(ctx, "subscription_id", sub.ID.String()), "subscription activated")
	}
	return nil
}
