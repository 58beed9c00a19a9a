// Package square adapts Square to the gateway contract. Payment is
// collected synchronously from a vaulted card, so checkout completes
// inline with no capture round-trip.
package square

import (
	"context"
	"fmt"
	"strconv"

	sq "github.com/square/square-go-sdk"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/square"
)

// GatewayID is the registry key for this adapter.
const GatewayID = "square"

type paymentsClient interface {
	LocationID() string
	EnsureCustomer(ctx context.Context, params square.CustomerCreateParams) (*sq.Customer, error)
	CreateCard(ctx context.Context, params square.CardCreateParams) (*sq.Card, error)
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	CreateSubscription(ctx context.Context, params square.SubscriptionCreateParams) (*sq.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	UpdateSubscriptionCard(ctx context.Context, subscriptionID, cardID string) (*sq.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
}

// Adapter is the on-site Square gateway.
type Adapter struct {
	gateways.BaseAdapter
	client paymentsClient
	logg   *logger.Logger
}

// NewAdapter wires the adapter to a Square API client.
func NewAdapter(client paymentsClient, logg *logger.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("square client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Adapter{client: client, logg: logg}, nil
}

func (a *Adapter) ID() string { return GatewayID }

func (a *Adapter) CanCancel(sub *models.Subscription) bool     { return sub.ProfileID != "" }
func (a *Adapter) CanReactivate(sub *models.Subscription) bool { return sub.ProfileID != "" }
func (a *Adapter) CanUpdate(sub *models.Subscription) bool     { return sub.ProfileID != "" }

// CreateProfiles vaults the buyer's card, charges the first payment, and
// opens one Square subscription per recurring line. Lines need a
// subscription plan variation in the payment payload
// ("plan_variation_id_<index>", falling back to "plan_variation_id").
func (a *Adapter) CreateProfiles(ctx context.Context, session *gateways.Session) error {
	sourceID := session.PaymentPayload["card_token"]
	if sourceID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "card token is required")
	}

	customer, err := a.client.EnsureCustomer(ctx, square.CustomerCreateParams{
		Email:       session.Customer.Email,
		GivenName:   session.Customer.Name,
		ReferenceID: session.Customer.ID.String(),
	})
	if err != nil {
		return err
	}
	customerID := deref(customer.ID)

	card, err := a.client.CreateCard(ctx, square.CardCreateParams{
		CustomerID:        customerID,
		SourceID:          sourceID,
		VerificationToken: session.PaymentPayload["verification_token"],
		ReferenceID:       session.Order.ID.String(),
	})
	if err != nil {
		return err
	}
	cardID := deref(card.ID)

	if session.Order.Total.IsPositive() {
		payment, err := a.client.CreatePayment(ctx, square.PaymentCreateParams{
			Amount:      session.Order.Total,
			Currency:    string(session.Order.Currency),
			LocationID:  a.client.LocationID(),
			CustomerID:  customerID,
			SourceID:    cardID,
			ReferenceID: strconv.FormatInt(session.Order.OrderNumber, 10),
		})
		if err != nil {
			return err
		}
		session.TransactionID = deref(payment.ID)
	}

	for i, sub := range session.Subscriptions {
		planVariationID := session.PaymentPayload[fmt.Sprintf("plan_variation_id_%d", i)]
		if planVariationID == "" {
			planVariationID = session.PaymentPayload["plan_variation_id"]
		}
		if planVariationID == "" {
			session.Fail(i, "no subscription plan configured for this item")
			continue
		}

		remote, err := a.client.CreateSubscription(ctx, square.SubscriptionCreateParams{
			LocationID:            a.client.LocationID(),
			PlanVariationID:       planVariationID,
			CustomerID:            customerID,
			CardID:                cardID,
			TaxPercentage:         taxPercentage(sub),
			PriceOverride:         sub.RecurringAmount,
			PriceOverrideCurrency: string(session.Order.Currency),
		})
		if err != nil {
			session.Fail(i, failureReason(err))
			continue
		}
		sub.ProfileID = deref(remote.ID)
	}
	return nil
}

// Cancel schedules cancellation; Square stops billing at the end of the
// current cycle, which matches period-end semantics for both paths.
func (a *Adapter) Cancel(ctx context.Context, sub *models.Subscription, atPeriodEnd bool) error {
	_, err := a.client.CancelSubscription(ctx, sub.ProfileID)
	return err
}

func (a *Adapter) CancelImmediately(ctx context.Context, sub *models.Subscription) error {
	return a.Cancel(ctx, sub, false)
}

func (a *Adapter) Reactivate(ctx context.Context, sub *models.Subscription) error {
	_, err := a.client.ResumeSubscription(ctx, sub.ProfileID)
	return err
}

// UpdatePaymentMethod vaults the new card against the profile's customer
// and swaps it onto the subscription.
func (a *Adapter) UpdatePaymentMethod(ctx context.Context, sub *models.Subscription, token string) error {
	remote, err := a.client.GetSubscription(ctx, sub.ProfileID)
	if err != nil {
		return err
	}
	card, err := a.client.CreateCard(ctx, square.CardCreateParams{
		CustomerID:  deref(remote.CustomerID),
		SourceID:    token,
		ReferenceID: sub.ID.String(),
	})
	if err != nil {
		return err
	}
	_, err = a.client.UpdateSubscriptionCard(ctx, sub.ProfileID, deref(card.ID))
	return err
}

func (a *Adapter) SubscriptionDetails(ctx context.Context, sub *models.Subscription) (*gateways.RemoteDetails, error) {
	remote, err := a.client.GetSubscription(ctx, sub.ProfileID)
	if err != nil {
		return nil, err
	}
	return &gateways.RemoteDetails{
		ProfileID: deref(remote.ID),
		Status:    string(mapRemoteStatus(remote.Status)),
	}, nil
}

func mapRemoteStatus(status *sq.SubscriptionStatus) enums.SubscriptionStatus {
	if status == nil {
		return enums.SubscriptionStatusPending
	}
	switch *status {
	case sq.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive
	case sq.SubscriptionStatusCanceled, sq.SubscriptionStatusDeactivated:
		return enums.SubscriptionStatusCancelled
	case sq.SubscriptionStatusPaused:
		return enums.SubscriptionStatusFailing
	case sq.SubscriptionStatusPending:
		return enums.SubscriptionStatusPending
	default:
		return enums.SubscriptionStatusPending
	}
}

func taxPercentage(sub *models.Subscription) string {
	if sub.RecurringRate.IsZero() {
		return ""
	}
	return sub.RecurringRate.String()
}

func failureReason(err error) string {
	if domainErr := pkgerrors.As(err); domainErr != nil {
		return domainErr.Message()
	}
	return "payment processor rejected this item"
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
