// Package paypal handles the asynchronous half of PayPal checkouts: the
// buyer-initiated capture callback, admin refunds, and the billing
// webhooks that drive renewals and failures.
package paypal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	gwpaypal "github.com/recurforge/commerce-backend/internal/gateways/paypal"
	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/pkg/config"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/paypal"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type captureClient interface {
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	RefundCapture(ctx context.Context, captureID string, params paypal.RefundCaptureParams) (*paypal.Refund, error)
	VerifyWebhookSignature(ctx context.Context, params paypal.VerifyWebhookSignatureParams) (bool, error)
}

type orderService interface {
	FindByGatewayOrderID(ctx context.Context, gateway, gatewayOrderID string) (*models.Order, error)
	CompleteFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, result orders.CaptureResult) error
	FailFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
	Refund(ctx context.Context, input orders.RefundInput) (*models.Order, error)
}

type subscriptionService interface {
	FindByProfileID(ctx context.Context, gateway, profileID string) (*models.Subscription, error)
	Renew(ctx context.Context, sub *models.Subscription) error
	Expire(ctx context.Context, tx *gorm.DB, sub *models.Subscription) error
	MarkFailing(ctx context.Context, sub *models.Subscription) error
	MarkCancelled(ctx context.Context, sub *models.Subscription) error
	ActivateForOrder(ctx context.Context, tx *gorm.DB, parentOrderID uuid.UUID, transactionID string) error
}

type customerService interface {
	EnsureByEmail(ctx context.Context, tx *gorm.DB, email, name string) (*models.Customer, error)
	RecordPurchase(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type captureStore interface {
	GetCaptureNonce(ctx context.Context, orderID string) (string, error)
	RevokeCaptureNonce(ctx context.Context, orderID string) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
}

// ServiceParams wires the handler's dependencies.
type ServiceParams struct {
	Client        captureClient
	Tx            txRunner
	Orders        orderService
	Subscriptions subscriptionService
	Customers     customerService
	Store         captureStore
	CaptureCfg    config.CaptureTokenConfig
	Logger        *logger.Logger
}

// Service is the PayPal capture/refund/webhook handler.
type Service struct {
	client     captureClient
	tx         txRunner
	orders     orderService
	subs       subscriptionService
	customers  customerService
	store      captureStore
	captureCfg config.CaptureTokenConfig
	logg       *logger.Logger
}

// NewService validates dependencies and returns the handler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Client == nil {
		return nil, fmt.Errorf("paypal client required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order service required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer service required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("capture store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		client:     params.Client,
		tx:         params.Tx,
		orders:     params.Orders,
		subs:       params.Subscriptions,
		customers:  params.Customers,
		store:      params.Store,
		captureCfg: params.CaptureCfg,
		logg:       params.Logger,
	}, nil
}

// backfillBuyer attaches a customer to orders that arrived without one,
// which happens on the buy-now path where checkout was skipped.
func (s *Service) backfillBuyer(ctx context.Context, tx *gorm.DB, order *models.Order, payer *paypal.Payer) error {
	if order.CustomerID != nil || payer == nil || payer.Email == "" {
		return nil
	}
	name := ""
	if payer.Name != nil {
		name = payer.Name.GivenName
		if payer.Name.Surname != "" {
			name += " " + payer.Name.Surname
		}
	}
	customer, err := s.customers.EnsureByEmail(ctx, tx, payer.Email, name)
	if err != nil {
		return err
	}
	order.CustomerID = &customer.ID
	if order.Email == "" {
		order.Email = customer.Email
	}
	return nil
}

func (s *Service) findOrder(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	if gatewayOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order id is required")
	}
	return s.orders.FindByGatewayOrderID(ctx, gwpaypal.GatewayID, gatewayOrderID)
}

func captureAmount(capture *paypal.Capture) decimal.Decimal {
	amount, err := decimal.NewFromString(capture.Amount.Value)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
