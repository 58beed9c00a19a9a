package paypal

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/pkg/auth"
	"github.com/recurforge/commerce-backend/pkg/config"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/paypal"
)

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeClient struct {
	captureResp  *paypal.Order
	captureErr   error
	captured     []string
	refundResp   *paypal.Refund
	refundParams []paypal.RefundCaptureParams
	verifyOK     bool
	verifyErr    error
}

func (c *fakeClient) CaptureOrder(_ context.Context, orderID string) (*paypal.Order, error) {
	c.captured = append(c.captured, orderID)
	if c.captureErr != nil {
		return nil, c.captureErr
	}
	return c.captureResp, nil
}

func (c *fakeClient) RefundCapture(_ context.Context, _ string, params paypal.RefundCaptureParams) (*paypal.Refund, error) {
	c.refundParams = append(c.refundParams, params)
	if c.refundResp == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "refund rejected")
	}
	return c.refundResp, nil
}

func (c *fakeClient) VerifyWebhookSignature(context.Context, paypal.VerifyWebhookSignatureParams) (bool, error) {
	return c.verifyOK, c.verifyErr
}

type stubOrderService struct {
	order      *models.Order
	completed  []orders.CaptureResult
	failed     []string
	refunded   []orders.RefundInput
	refundResp *models.Order
}

func (s *stubOrderService) FindByGatewayOrderID(_ context.Context, gateway, gatewayOrderID string) (*models.Order, error) {
	if s.order == nil || s.order.GatewayOrderID == nil || *s.order.GatewayOrderID != gatewayOrderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for gateway reference")
	}
	return s.order, nil
}

func (s *stubOrderService) CompleteFromCapture(_ context.Context, _ *gorm.DB, order *models.Order, result orders.CaptureResult) error {
	s.completed = append(s.completed, result)
	order.Status = enums.OrderStatusComplete
	transactionID := result.TransactionID
	order.TransactionID = &transactionID
	return nil
}

func (s *stubOrderService) FailFromCapture(_ context.Context, _ *gorm.DB, order *models.Order, reason string) error {
	s.failed = append(s.failed, reason)
	order.Status = enums.OrderStatusFailed
	return nil
}

func (s *stubOrderService) Refund(_ context.Context, input orders.RefundInput) (*models.Order, error) {
	s.refunded = append(s.refunded, input)
	return s.refundResp, nil
}

type stubSubscriptionService struct {
	byProfile map[string]*models.Subscription
	renewed   []uuid.UUID
	expired   []uuid.UUID
	failing   []uuid.UUID
	cancelled []uuid.UUID
	activated []uuid.UUID
}

func (s *stubSubscriptionService) FindByProfileID(_ context.Context, _, profileID string) (*models.Subscription, error) {
	return s.byProfile[profileID], nil
}

func (s *stubSubscriptionService) Renew(_ context.Context, sub *models.Subscription) error {
	s.renewed = append(s.renewed, sub.ID)
	return nil
}

func (s *stubSubscriptionService) Expire(_ context.Context, _ *gorm.DB, sub *models.Subscription) error {
	s.expired = append(s.expired, sub.ID)
	return nil
}

func (s *stubSubscriptionService) MarkFailing(_ context.Context, sub *models.Subscription) error {
	s.failing = append(s.failing, sub.ID)
	return nil
}

func (s *stubSubscriptionService) MarkCancelled(_ context.Context, sub *models.Subscription) error {
	s.cancelled = append(s.cancelled, sub.ID)
	return nil
}

func (s *stubSubscriptionService) ActivateForOrder(_ context.Context, _ *gorm.DB, parentOrderID uuid.UUID, _ string) error {
	s.activated = append(s.activated, parentOrderID)
	return nil
}

type stubCustomerService struct {
	ensured   []string
	purchases []uuid.UUID
}

func (s *stubCustomerService) EnsureByEmail(_ context.Context, _ *gorm.DB, email, name string) (*models.Customer, error) {
	s.ensured = append(s.ensured, email)
	return &models.Customer{ID: uuid.New(), Email: email, Name: name}, nil
}

func (s *stubCustomerService) RecordPurchase(_ context.Context, _ *gorm.DB, order *models.Order) error {
	s.purchases = append(s.purchases, order.ID)
	return nil
}

type stubStore struct {
	nonces   map[string]string
	revoked  []string
	seenKeys map[string]bool
	setnxErr error
}

func (s *stubStore) GetCaptureNonce(_ context.Context, orderID string) (string, error) {
	nonce, ok := s.nonces[orderID]
	if !ok {
		return "", redis.Nil
	}
	return nonce, nil
}

func (s *stubStore) RevokeCaptureNonce(_ context.Context, orderID string) error {
	s.revoked = append(s.revoked, orderID)
	delete(s.nonces, orderID)
	return nil
}

func (s *stubStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.setnxErr != nil {
		return false, s.setnxErr
	}
	if s.seenKeys == nil {
		s.seenKeys = map[string]bool{}
	}
	if s.seenKeys[key] {
		return false, nil
	}
	s.seenKeys[key] = true
	return true, nil
}

func (s *stubStore) IdempotencyKey(scope, id string) string {
	return "rf:idempotency:" + scope + ":" + id
}

type fixture struct {
	service   *Service
	client    *fakeClient
	orders    *stubOrderService
	subs      *stubSubscriptionService
	customers *stubCustomerService
	store     *stubStore
	cfg       config.CaptureTokenConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := &fakeClient{verifyOK: true}
	orderSvc := &stubOrderService{}
	subSvc := &stubSubscriptionService{byProfile: map[string]*models.Subscription{}}
	customerSvc := &stubCustomerService{}
	store := &stubStore{nonces: map[string]string{}}
	cfg := config.CaptureTokenConfig{
		Secret:     "test-secret",
		Issuer:     "recurforge",
		TTL:        time.Hour,
		NonceTTL:   24 * time.Hour,
		WebhookTTL: 720 * time.Hour,
	}
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.ErrorLevel, Output: io.Discard})
	service, err := NewService(ServiceParams{
		Client:        client,
		Tx:            stubTxRunner{},
		Orders:        orderSvc,
		Subscriptions: subSvc,
		Customers:     customerSvc,
		Store:         store,
		CaptureCfg:    cfg,
		Logger:        logg,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{
		service:   service,
		client:    client,
		orders:    orderSvc,
		subs:      subSvc,
		customers: customerSvc,
		store:     store,
		cfg:       cfg,
	}
}

func awaitingOrder(gatewayOrderID string) *models.Order {
	customerID := uuid.New()
	return &models.Order{
		ID:             uuid.New(),
		Status:         enums.OrderStatusAwaitingCapture,
		CustomerID:     &customerID,
		Email:          "buyer@example.com",
		Gateway:        "paypal_commerce",
		GatewayOrderID: &gatewayOrderID,
		Currency:       enums.CurrencyUSD,
		Total:          decimal.RequireFromString("21.65"),
	}
}

func capturedOrder(captureID, value string) *paypal.Order {
	return &paypal.Order{
		ID:     "PP-ORDER-1",
		Status: paypal.OrderStatusCompleted,
		Payer: &paypal.Payer{
			Email: "buyer@example.com",
			Name:  &paypal.PayerName{GivenName: "Buyer", Surname: "One"},
		},
		PurchaseUnits: []paypal.PurchaseUnit{{
			Payments: &paypal.Payments{
				Captures: []paypal.Capture{{
					ID:     captureID,
					Status: "COMPLETED",
					Amount: paypal.Amount{CurrencyCode: "USD", Value: value},
				}},
			},
		}},
	}
}

func mintToken(t *testing.T, cfg config.CaptureTokenConfig, order *models.Order) string {
	t.Helper()
	token, err := auth.MintCaptureToken(cfg, time.Now().UTC(), auth.CaptureTokenPayload{
		OrderID:        order.ID,
		GatewayOrderID: *order.GatewayOrderID,
		Gateway:        "paypal_commerce",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestCaptureCompletesOrder(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order
	f.client.captureResp = capturedOrder("CAP-1", "21.65")

	resp, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		CaptureToken:   mintToken(t, f.cfg, order),
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !resp.Success || resp.Retry {
		t.Fatalf("response %+v", resp)
	}
	if len(f.orders.completed) != 1 || f.orders.completed[0].TransactionID != "CAP-1" {
		t.Fatalf("completions %+v", f.orders.completed)
	}
	if !f.orders.completed[0].Amount.Equal(decimal.RequireFromString("21.65")) {
		t.Fatalf("captured amount %s", f.orders.completed[0].Amount)
	}
	if len(f.subs.activated) != 1 || f.subs.activated[0] != order.ID {
		t.Fatalf("activations %+v", f.subs.activated)
	}
	if len(f.customers.purchases) != 1 {
		t.Fatalf("purchases %+v", f.customers.purchases)
	}
	if len(f.store.revoked) != 1 || f.store.revoked[0] != order.ID.String() {
		t.Fatalf("revoked %+v", f.store.revoked)
	}
}

func TestCaptureInstrumentDeclinedLeavesOrderParked(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order
	f.client.captureErr = &paypal.APIError{
		StatusCode: 422,
		Name:       "UNPROCESSABLE_ENTITY",
		Details:    []paypal.ErrorDetail{{Issue: paypal.IssueInstrumentDeclined}},
	}

	resp, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		CaptureToken:   mintToken(t, f.cfg, order),
	})
	if err != nil {
		t.Fatalf("declined instrument must not error: %v", err)
	}
	if resp.Success || !resp.Retry {
		t.Fatalf("response %+v", resp)
	}
	if order.Status != enums.OrderStatusAwaitingCapture {
		t.Fatalf("order must stay capturable, got %s", order.Status)
	}
	if len(f.orders.failed) != 0 {
		t.Fatalf("order must not be failed, got %+v", f.orders.failed)
	}
}

func TestCaptureProcessorErrorFailsOrder(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order
	f.client.captureErr = &paypal.APIError{StatusCode: 500, Name: "INTERNAL_SERVER_ERROR"}

	resp, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		CaptureToken:   mintToken(t, f.cfg, order),
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if resp.Success || resp.Retry {
		t.Fatalf("response %+v", resp)
	}
	if len(f.orders.failed) != 1 {
		t.Fatalf("failures %+v", f.orders.failed)
	}
}

func TestCaptureDeclinedCaptureIsRetryable(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order
	resp := capturedOrder("CAP-1", "21.65")
	resp.PurchaseUnits[0].Payments.Captures[0].Status = "DECLINED"
	f.client.captureResp = resp

	out, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		CaptureToken:   mintToken(t, f.cfg, order),
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if out.Success || !out.Retry {
		t.Fatalf("response %+v", out)
	}
	if len(f.orders.failed) != 1 {
		t.Fatalf("failures %+v", f.orders.failed)
	}
}

func TestCaptureNonceAuthorizes(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order
	f.store.nonces[order.ID.String()] = "nonce-1"
	f.client.captureResp = capturedOrder("CAP-1", "21.65")

	resp, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		Nonce:          "nonce-1",
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response %+v", resp)
	}
}

func TestCaptureRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order
	f.store.nonces[order.ID.String()] = "nonce-1"

	cases := []CaptureInput{
		{GatewayOrderID: "PP-ORDER-1"},
		{GatewayOrderID: "PP-ORDER-1", Nonce: "wrong"},
		{GatewayOrderID: "PP-ORDER-1", CaptureToken: "not-a-jwt"},
	}
	for _, input := range cases {
		_, err := f.service.Capture(context.Background(), input)
		domainErr := pkgerrors.As(err)
		if domainErr == nil || domainErr.Code() != pkgerrors.CodeUnauthorized {
			t.Fatalf("input %+v: expected unauthorized, got %v", input, err)
		}
	}
	if len(f.client.captured) != 0 {
		t.Fatal("unauthorized requests must never reach the processor")
	}
}

func TestCaptureExpiredNonceUnauthorized(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	f.orders.order = order

	_, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		Nonce:          "nonce-1",
	})
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCaptureAlreadyCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	order.Status = enums.OrderStatusComplete
	f.orders.order = order

	resp, err := f.service.Capture(context.Background(), CaptureInput{
		GatewayOrderID: "PP-ORDER-1",
		CaptureToken:   mintToken(t, f.cfg, order),
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !resp.Success {
		t.Fatalf("response %+v", resp)
	}
	if len(f.client.captured) != 0 {
		t.Fatal("completed order must not be captured again")
	}
}

func TestRefundPushesProcessorFirst(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")
	order.Status = enums.OrderStatusComplete
	transactionID := "CAP-1"
	order.TransactionID = &transactionID
	f.client.refundResp = &paypal.Refund{ID: "REF-1", Status: "COMPLETED"}
	f.orders.refundResp = &models.Order{ID: uuid.New(), Type: enums.OrderTypeRefund}

	_, err := f.service.Refund(context.Background(), order, decimal.RequireFromString("10.00"), "buyer request")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(f.client.refundParams) != 1 || f.client.refundParams[0].Amount.Value != "10.00" {
		t.Fatalf("refund params %+v", f.client.refundParams)
	}
	if len(f.orders.refunded) != 1 || f.orders.refunded[0].TransactionID != "REF-1" {
		t.Fatalf("local refunds %+v", f.orders.refunded)
	}
}

func TestRefundRequiresCapture(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("PP-ORDER-1")

	_, err := f.service.Refund(context.Background(), order, decimal.Zero, "")
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.client.refundParams) != 0 {
		t.Fatal("refund must not reach the processor")
	}
}

func webhookBody(t *testing.T, event paypal.WebhookEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func TestHandleWebhookRenewsSubscription(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ProfileID: "I-123", Status: enums.SubscriptionStatusActive}
	f.subs.byProfile["I-123"] = sub

	body := webhookBody(t, paypal.WebhookEvent{
		ID:        "WH-1",
		EventType: EventSaleCompleted,
		Resource:  paypal.WebhookResource{ID: "SALE-1", BillingAgreementID: "I-123"},
	})
	if err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body}); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if len(f.subs.renewed) != 1 || f.subs.renewed[0] != sub.ID {
		t.Fatalf("renewals %+v", f.subs.renewed)
	}
}

func TestHandleWebhookDuplicateDeliveryIgnored(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ProfileID: "I-123", Status: enums.SubscriptionStatusActive}
	f.subs.byProfile["I-123"] = sub

	body := webhookBody(t, paypal.WebhookEvent{
		ID:        "WH-1",
		EventType: EventSaleCompleted,
		Resource:  paypal.WebhookResource{BillingAgreementID: "I-123"},
	})
	for i := 0; i < 2; i++ {
		if err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body}); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if len(f.subs.renewed) != 1 {
		t.Fatalf("duplicate delivery must not renew twice, got %d", len(f.subs.renewed))
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.client.verifyOK = false

	body := webhookBody(t, paypal.WebhookEvent{ID: "WH-1", EventType: EventSaleCompleted})
	err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body})
	domainErr := pkgerrors.As(err)
	if domainErr == nil || domainErr.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHandleWebhookLifecycleEvents(t *testing.T) {
	f := newFixture(t)
	sub := &models.Subscription{ID: uuid.New(), ProfileID: "I-123", Status: enums.SubscriptionStatusActive}
	f.subs.byProfile["I-123"] = sub

	events := []struct {
		eventType string
		check     func() int
	}{
		{EventSubscriptionFailed, func() int { return len(f.subs.failing) }},
		{EventSubscriptionSuspended, func() int { return len(f.subs.failing) }},
		{EventSubscriptionCancelled, func() int { return len(f.subs.cancelled) }},
		{EventSubscriptionExpired, func() int { return len(f.subs.expired) }},
	}
	for i, tc := range events {
		body := webhookBody(t, paypal.WebhookEvent{
			ID:        "WH-" + tc.eventType,
			EventType: tc.eventType,
			Resource:  paypal.WebhookResource{ID: "I-123"},
		})
		before := tc.check()
		if err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body}); err != nil {
			t.Fatalf("event %d %s: %v", i, tc.eventType, err)
		}
		if tc.check() != before+1 {
			t.Fatalf("event %s not applied", tc.eventType)
		}
	}
}

func TestHandleWebhookUnknownProfileIgnored(t *testing.T) {
	f := newFixture(t)

	body := webhookBody(t, paypal.WebhookEvent{
		ID:        "WH-1",
		EventType: EventSubscriptionCancelled,
		Resource:  paypal.WebhookResource{ID: "I-UNKNOWN"},
	})
	if err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body}); err != nil {
		t.Fatalf("unknown profile must be acknowledged: %v", err)
	}
	if len(f.subs.cancelled) != 0 {
		t.Fatalf("cancellations %+v", f.subs.cancelled)
	}
}

func TestHandleWebhookActivationCompletesTrialCheckout(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("I-TRIAL")
	order.Total = decimal.Zero
	f.orders.order = order

	body := webhookBody(t, paypal.WebhookEvent{
		ID:        "WH-1",
		EventType: EventSubscriptionActivated,
		Resource:  paypal.WebhookResource{ID: "I-TRIAL", CustomID: order.ID.String()},
	})
	if err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body}); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if len(f.orders.completed) != 1 || f.orders.completed[0].TransactionID != "I-TRIAL" {
		t.Fatalf("completions %+v", f.orders.completed)
	}
	if len(f.subs.activated) != 1 || f.subs.activated[0] != order.ID {
		t.Fatalf("activations %+v", f.subs.activated)
	}
}

func TestHandleWebhookActivationSkipsPaidOrder(t *testing.T) {
	f := newFixture(t)
	order := awaitingOrder("I-PAID")
	f.orders.order = order

	body := webhookBody(t, paypal.WebhookEvent{
		ID:        "WH-1",
		EventType: EventSubscriptionActivated,
		Resource:  paypal.WebhookResource{ID: "I-PAID"},
	})
	if err := f.service.HandleWebhook(context.Background(), WebhookRequest{Body: body}); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if len(f.orders.completed) != 0 {
		t.Fatal("paid order must complete through the capture endpoint only")
	}
}
