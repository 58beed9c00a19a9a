package paypal

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	gwpaypal "github.com/recurforge/commerce-backend/internal/gateways/paypal"
	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/paypal"
)

// Billing events the listener subscribes to. Anything else is
// acknowledged and dropped.
const (
	EventSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	EventSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionFailed    = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
	EventSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
)

const webhookIdempotencyScope = "paypal_webhook"

// WebhookRequest carries the signed transmission headers and the raw body
// exactly as PayPal posted them.
type WebhookRequest struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
	Body             []byte
}

// HandleWebhook verifies, deduplicates, and dispatches one webhook
// delivery. Replays of an already-processed event id are acknowledged
// without side effects.
func (s *Service) HandleWebhook(ctx context.Context, req WebhookRequest) error {
	var event paypal.WebhookEvent
	if err := json.Unmarshal(req.Body, &event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	if event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event id missing")
	}
	ctx = s.logg.WithField(ctx, "webhook_event", event.EventType)

	var raw any
	if err := json.Unmarshal(req.Body, &raw); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook body")
	}
	verified, err := s.client.VerifyWebhookSignature(ctx, paypal.VerifyWebhookSignatureParams{
		AuthAlgo:         req.AuthAlgo,
		CertURL:          req.CertURL,
		TransmissionID:   req.TransmissionID,
		TransmissionSig:  req.TransmissionSig,
		TransmissionTime: req.TransmissionTime,
		WebhookEvent:     raw,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify webhook signature")
	}
	if !verified {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature verification failed")
	}

	fresh, err := s.store.SetNX(ctx,
		s.store.IdempotencyKey(webhookIdempotencyScope, event.ID),
		event.EventType, s.captureCfg.WebhookTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook delivery")
	}
	if !fresh {
		s.logg.Info(ctx, "duplicate webhook delivery ignored")
		return nil
	}

	switch event.EventType {
	case EventSaleCompleted:
		return s.handleRenewal(ctx, event.Resource)
	case EventSubscriptionActivated:
		return s.handleActivation(ctx, event.Resource)
	case EventSubscriptionFailed, EventSubscriptionSuspended:
		return s.withTrackedSubscription(ctx, event.Resource.ID, s.subs.MarkFailing)
	case EventSubscriptionCancelled:
		return s.withTrackedSubscription(ctx, event.Resource.ID, s.subs.MarkCancelled)
	case EventSubscriptionExpired:
		return s.withTrackedSubscription(ctx, event.Resource.ID, func(ctx context.Context, sub *models.Subscription) error {
			if sub.Status.IsTerminal() {
				return nil
			}
			return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				return s.subs.Expire(ctx, tx, sub)
			})
		})
	default:
		s.logg.Info(ctx, "webhook event type not handled")
		return nil
	}
}

// handleRenewal advances the local cycle accounting when PayPal collects a
// recurring payment. Sale events reference the subscription through the
// billing agreement id.
func (s *Service) handleRenewal(ctx context.Context, resource paypal.WebhookResource) error {
	profileID := resource.BillingAgreementID
	if profileID == "" {
		s.logg.Warn(ctx, "sale event without billing agreement, skipping")
		return nil
	}
	return s.withTrackedSubscription(ctx, profileID, s.subs.Renew)
}

// handleActivation finalizes trial-only checkouts. Those carts have no
// money to capture, so the subscription activation is the processor-side
// signal that the buyer approved.
func (s *Service) handleActivation(ctx context.Context, resource paypal.WebhookResource) error {
	order, err := s.orders.FindByGatewayOrderID(ctx, gwpaypal.GatewayID, resource.ID)
	if err != nil {
		if domainErr := pkgerrors.As(err); domainErr != nil && domainErr.Code() == pkgerrors.CodeNotFound {
			s.logg.Info(ctx, "activation for an order not parked locally, skipping")
			return nil
		}
		return err
	}
	if order.Status != enums.OrderStatusAwaitingCapture {
		return nil
	}
	if order.Total.IsPositive() {
		// Paid carts complete through the capture endpoint, not here.
		return nil
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.CompleteFromCapture(ctx, tx, order, orders.CaptureResult{
			TransactionID: resource.ID,
		}); err != nil {
			return err
		}
		if err := s.subs.ActivateForOrder(ctx, tx, order.ID, resource.ID); err != nil {
			return err
		}
		return s.customers.RecordPurchase(ctx, tx, order)
	})
	if err != nil {
		return err
	}
	s.logg.Info(ctx, "trial checkout completed from activation webhook")
	return nil
}

func (s *Service) withTrackedSubscription(
	ctx context.Context,
	profileID string,
	apply func(context.Context, *models.Subscription) error,
) error {
	if profileID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook resource id missing")
	}
	sub, err := s.subs.FindByProfileID(ctx, gwpaypal.GatewayID, profileID)
	if err != nil {
		return err
	}
	if sub == nil {
		s.logg.Warn(ctx, fmt.Sprintf("no subscription tracks profile %s, skipping", profileID))
		return nil
	}
	return apply(ctx, sub)
}
