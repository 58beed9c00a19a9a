package square

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/square"
)

func ptr(value string) *string { return &value }

type fakePaymentsClient struct {
	payments      []square.PaymentCreateParams
	subscriptions []square.SubscriptionCreateParams
	failPlans     map[string]error
	cancelled     []string
	resumed       []string
	cardSwaps     map[string]string
	remoteStatus  sq.SubscriptionStatus
}

func (c *fakePaymentsClient) LocationID() string { return "LOC-1" }

func (c *fakePaymentsClient) EnsureCustomer(_ context.Context, params square.CustomerCreateParams) (*sq.Customer, error) {
	return &sq.Customer{ID: ptr("CUST-1")}, nil
}

func (c *fakePaymentsClient) CreateCard(_ context.Context, params square.CardCreateParams) (*sq.Card, error) {
	return &sq.Card{ID: ptr("CARD-" + params.SourceID)}, nil
}

func (c *fakePaymentsClient) CreatePayment(_ context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	c.payments = append(c.payments, params)
	return &sq.Payment{ID: ptr("PAY-1")}, nil
}

func (c *fakePaymentsClient) CreateSubscription(_ context.Context, params square.SubscriptionCreateParams) (*sq.Subscription, error) {
	c.subscriptions = append(c.subscriptions, params)
	if err := c.failPlans[params.PlanVariationID]; err != nil {
		return nil, err
	}
	return &sq.Subscription{ID: ptr("SUB-" + params.PlanVariationID)}, nil
}

func (c *fakePaymentsClient) CancelSubscription(_ context.Context, subscriptionID string) (*sq.Subscription, error) {
	c.cancelled = append(c.cancelled, subscriptionID)
	return &sq.Subscription{ID: ptr(subscriptionID)}, nil
}

func (c *fakePaymentsClient) ResumeSubscription(_ context.Context, subscriptionID string) (*sq.Subscription, error) {
	c.resumed = append(c.resumed, subscriptionID)
	return &sq.Subscription{ID: ptr(subscriptionID)}, nil
}

func (c *fakePaymentsClient) UpdateSubscriptionCard(_ context.Context, subscriptionID, cardID string) (*sq.Subscription, error) {
	if c.cardSwaps == nil {
		c.cardSwaps = map[string]string{}
	}
	c.cardSwaps[subscriptionID] = cardID
	return &sq.Subscription{ID: ptr(subscriptionID)}, nil
}

func (c *fakePaymentsClient) GetSubscription(_ context.Context, subscriptionID string) (*sq.Subscription, error) {
	status := c.remoteStatus
	return &sq.Subscription{
		ID:         ptr(subscriptionID),
		CustomerID: ptr("CUST-1"),
		Status:     &status,
	}, nil
}

func testAdapter(t *testing.T, client paymentsClient) *Adapter {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: io.Discard})
	adapter, err := NewAdapter(client, logg)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func testSession(payload map[string]string, lines int) *gateways.Session {
	orderID := uuid.New()
	session := &gateways.Session{
		Order: &models.Order{
			ID:          orderID,
			OrderNumber: 2001,
			Currency:    enums.CurrencyUSD,
			Total:       decimal.RequireFromString("20.00"),
		},
		Customer:       &models.Customer{ID: uuid.New(), Email: "buyer@example.com", Name: "Buyer One"},
		PaymentPayload: payload,
		Currency:       enums.CurrencyUSD,
	}
	for i := 0; i < lines; i++ {
		session.Subscriptions = append(session.Subscriptions, &models.Subscription{
			ID:              uuid.New(),
			ParentOrderID:   orderID,
			Period:          enums.BillingPeriodMonth,
			RecurringAmount: decimal.RequireFromString("20.00"),
		})
	}
	return session
}

func TestCreateProfilesChargesAndSubscribes(t *testing.T) {
	client := &fakePaymentsClient{}
	adapter := testAdapter(t, client)
	session := testSession(map[string]string{
		"card_token":        "cnon-123",
		"plan_variation_id": "PLAN-VAR-1",
	}, 1)

	if err := adapter.CreateProfiles(context.Background(), session); err != nil {
		t.Fatalf("create profiles: %v", err)
	}

	if session.TransactionID != "PAY-1" {
		t.Fatalf("transaction id %q", session.TransactionID)
	}
	if len(client.payments) != 1 || !client.payments[0].Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("payment %+v", client.payments)
	}
	if session.Subscriptions[0].ProfileID != "SUB-PLAN-VAR-1" {
		t.Fatalf("profile id %q", session.Subscriptions[0].ProfileID)
	}
	if client.subscriptions[0].CardID != "CARD-cnon-123" {
		t.Fatalf("subscription card %q", client.subscriptions[0].CardID)
	}
}

func TestCreateProfilesRequiresCardToken(t *testing.T) {
	adapter := testAdapter(t, &fakePaymentsClient{})
	session := testSession(map[string]string{"plan_variation_id": "PLAN-VAR-1"}, 1)

	err := adapter.CreateProfiles(context.Background(), session)
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateProfilesZeroTotalSkipsPayment(t *testing.T) {
	client := &fakePaymentsClient{}
	adapter := testAdapter(t, client)
	session := testSession(map[string]string{
		"card_token":        "cnon-123",
		"plan_variation_id": "PLAN-VAR-1",
	}, 1)
	session.Order.Total = decimal.Zero

	if err := adapter.CreateProfiles(context.Background(), session); err != nil {
		t.Fatalf("create profiles: %v", err)
	}
	if len(client.payments) != 0 {
		t.Fatal("zero-total order must not be charged")
	}
	if session.TransactionID != "" {
		t.Fatalf("transaction id %q", session.TransactionID)
	}
}

func TestCreateProfilesPartialFailure(t *testing.T) {
	client := &fakePaymentsClient{
		failPlans: map[string]error{"PLAN-BAD": pkgerrors.New(pkgerrors.CodeGateway, "plan paused")},
	}
	adapter := testAdapter(t, client)
	session := testSession(map[string]string{
		"card_token":          "cnon-123",
		"plan_variation_id_0": "PLAN-BAD",
		"plan_variation_id_1": "PLAN-OK",
	}, 2)

	if err := adapter.CreateProfiles(context.Background(), session); err != nil {
		t.Fatalf("partial failure must not error: %v", err)
	}
	if len(session.Failed) != 1 || session.Failed[0].Index != 0 {
		t.Fatalf("failed lines %+v", session.Failed)
	}
	if len(session.Surviving()) != 1 {
		t.Fatal("expected one survivor")
	}
}

func TestUpdatePaymentMethodSwapsCard(t *testing.T) {
	client := &fakePaymentsClient{remoteStatus: sq.SubscriptionStatusActive}
	adapter := testAdapter(t, client)
	sub := &models.Subscription{ID: uuid.New(), ProfileID: "SUB-1"}

	if !adapter.CanUpdate(sub) {
		t.Fatal("square should support payment method updates")
	}
	if err := adapter.UpdatePaymentMethod(context.Background(), sub, "cnon-456"); err != nil {
		t.Fatalf("update payment method: %v", err)
	}
	if client.cardSwaps["SUB-1"] != "CARD-cnon-456" {
		t.Fatalf("card swaps %+v", client.cardSwaps)
	}
}

func TestSubscriptionDetailsMapsStatus(t *testing.T) {
	client := &fakePaymentsClient{remoteStatus: sq.SubscriptionStatusPaused}
	adapter := testAdapter(t, client)

	details, err := adapter.SubscriptionDetails(context.Background(), &models.Subscription{ProfileID: "SUB-1"})
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Status != string(enums.SubscriptionStatusFailing) {
		t.Fatalf("status %s", details.Status)
	}
}

func TestCancelAndResume(t *testing.T) {
	client := &fakePaymentsClient{}
	adapter := testAdapter(t, client)
	sub := &models.Subscription{ProfileID: "SUB-1"}

	if err := adapter.Cancel(context.Background(), sub, true); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := adapter.Reactivate(context.Background(), sub); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if len(client.cancelled) != 1 || len(client.resumed) != 1 {
		t.Fatalf("cancelled %v resumed %v", client.cancelled, client.resumed)
	}
}
