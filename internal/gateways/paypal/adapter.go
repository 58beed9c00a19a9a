// Package paypal adapts PayPal Commerce to the gateway contract: checkout
// orders are approved off-site and captured asynchronously, recurring lines
// become billing subscriptions against pre-configured plans.
package paypal

import (
	"context"
	"fmt"
	"strconv"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/paypal"
)

// GatewayID is the registry key for this adapter.
const GatewayID = "paypal_commerce"

type billingClient interface {
	CreateOrder(ctx context.Context, params paypal.CreateOrderParams) (*paypal.Order, error)
	CreateSubscription(ctx context.Context, params paypal.CreateSubscriptionParams) (*paypal.BillingSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*paypal.BillingSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error
	ActivateSubscription(ctx context.Context, subscriptionID, reason string) error
}

// Adapter is the off-site PayPal gateway.
type Adapter struct {
	gateways.BaseAdapter
	client billingClient
	logg   *logger.Logger
}

// NewAdapter wires the adapter to a PayPal REST client.
func NewAdapter(client billingClient, logg *logger.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("paypal client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Adapter{client: client, logg: logg}, nil
}

func (a *Adapter) ID() string    { return GatewayID }
func (a *Adapter) Offsite() bool { return true }

func (a *Adapter) CanCancel(sub *models.Subscription) bool     { return sub.ProfileID != "" }
func (a *Adapter) CanReactivate(sub *models.Subscription) bool { return sub.ProfileID != "" }
func (a *Adapter) CanRetry(sub *models.Subscription) bool      { return sub.ProfileID != "" }

// CreateProfiles opens a capture-intent checkout order for the first
// payment and one billing subscription per recurring line. Each line needs
// a billing plan id in the payment payload ("plan_id_<index>", falling
// back to "plan_id"); lines without one are rejected, not fatal.
func (a *Adapter) CreateProfiles(ctx context.Context, session *gateways.Session) error {
	order := session.Order

	if order.Total.IsPositive() {
		remote, err := a.client.CreateOrder(ctx, paypal.CreateOrderParams{
			PurchaseUnits: []paypal.PurchaseUnit{{
				ReferenceID: strconv.FormatInt(order.OrderNumber, 10),
				CustomID:    order.ID.String(),
				Amount: paypal.Amount{
					CurrencyCode: string(order.Currency),
					Value:        order.Total.StringFixed(2),
				},
			}},
		})
		if err != nil {
			return err
		}
		session.GatewayOrderID = remote.ID
	}

	for i, sub := range session.Subscriptions {
		planID := session.PaymentPayload[fmt.Sprintf("plan_id_%d", i)]
		if planID == "" {
			planID = session.PaymentPayload["plan_id"]
		}
		if planID == "" {
			session.Fail(i, "no billing plan configured for this item")
			continue
		}

		remote, err := a.client.CreateSubscription(ctx, paypal.CreateSubscriptionParams{
			PlanID:   planID,
			CustomID: sub.ParentOrderID.String(),
			Subscriber: &paypal.Subscriber{
				Email: session.Customer.Email,
			},
		})
		if err != nil {
			session.Fail(i, failureReason(err))
			continue
		}
		sub.ProfileID = remote.ID
	}

	// A trial-only cart has no money to capture up front; the first
	// surviving profile id stands in as the processor-side reference.
	if session.GatewayOrderID == "" {
		for _, sub := range session.Surviving() {
			if sub.ProfileID != "" {
				session.GatewayOrderID = sub.ProfileID
				break
			}
		}
	}
	return nil
}

// Cancel stops billing at the processor. PayPal halts future cycles on
// cancellation; the paid-through window is honored locally.
func (a *Adapter) Cancel(ctx context.Context, sub *models.Subscription, atPeriodEnd bool) error {
	reason := "cancelled at period end by customer"
	if !atPeriodEnd {
		reason = "cancelled immediately by customer"
	}
	return a.client.CancelSubscription(ctx, sub.ProfileID, reason)
}

func (a *Adapter) CancelImmediately(ctx context.Context, sub *models.Subscription) error {
	return a.Cancel(ctx, sub, false)
}

func (a *Adapter) Reactivate(ctx context.Context, sub *models.Subscription) error {
	return a.client.ActivateSubscription(ctx, sub.ProfileID, "reactivated by customer")
}

// Retry re-activates a suspended profile, which prompts PayPal to collect
// the outstanding payment.
func (a *Adapter) Retry(ctx context.Context, sub *models.Subscription) error {
	return a.client.ActivateSubscription(ctx, sub.ProfileID, "retrying outstanding payment")
}

func (a *Adapter) SubscriptionDetails(ctx context.Context, sub *models.Subscription) (*gateways.RemoteDetails, error) {
	remote, err := a.client.GetSubscription(ctx, sub.ProfileID)
	if err != nil {
		return nil, err
	}
	details := &gateways.RemoteDetails{
		ProfileID: remote.ID,
		Status:    string(mapRemoteStatus(remote.Status)),
	}
	if remote.BillingInfo != nil {
		details.NextBillingTime = remote.BillingInfo.NextBillingTime
		details.FailedPaymentsCount = remote.BillingInfo.FailedPaymentsCount
	}
	return details, nil
}

func mapRemoteStatus(status string) enums.SubscriptionStatus {
	switch status {
	case paypal.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive
	case paypal.SubscriptionStatusApprovalPending:
		return enums.SubscriptionStatusPending
	case paypal.SubscriptionStatusSuspended:
		return enums.SubscriptionStatusFailing
	case paypal.SubscriptionStatusCancelled:
		return enums.SubscriptionStatusCancelled
	case paypal.SubscriptionStatusExpired:
		return enums.SubscriptionStatusExpired
	default:
		return enums.SubscriptionStatusPending
	}
}

func failureReason(err error) string {
	if domainErr := pkgerrors.As(err); domainErr != nil {
		return domainErr.Message()
	}
	return "payment processor rejected this item"
}
