package paypal

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/pkg/auth"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/paypal"
)

// CaptureInput authenticates a capture attempt against a parked order.
// Either the checkout JWT or the stored nonce is accepted.
type CaptureInput struct {
	GatewayOrderID string
	CaptureToken   string
	Nonce          string
}

// CaptureResponse reports the outcome. Retry means the buyer can try again
// with a different funding instrument; the order stays parked.
type CaptureResponse struct {
	Order   *models.Order
	Success bool
	Retry   bool
	Reason  string
}

// Capture collects the money PayPal is holding for an approved checkout
// order and finalizes the local order on success. A declined funding
// instrument leaves the order capturable so the buyer can retry.
func (s *Service) Capture(ctx context.Context, input CaptureInput) (*CaptureResponse, error) {
	order, err := s.findOrder(ctx, input.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if err := s.authorizeCapture(ctx, order, input); err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusComplete {
		return &CaptureResponse{Order: order, Success: true}, nil
	}
	if order.Status != enums.OrderStatusAwaitingCapture {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s, not awaiting capture", order.Status))
	}

	remote, err := s.client.CaptureOrder(ctx, input.GatewayOrderID)
	if err != nil {
		if paypal.IsInstrumentDeclined(err) {
			s.logg.Warn(ctx, "capture declined, instrument retryable")
			return &CaptureResponse{
				Order:  order,
				Retry:  true,
				Reason: "the funding instrument was declined, try another payment method",
			}, nil
		}
		s.logg.Error(ctx, "capture failed at the processor", err)
		if failErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.orders.FailFromCapture(ctx, tx, order, "payment processor could not capture the order")
		}); failErr != nil {
			return nil, failErr
		}
		return &CaptureResponse{
			Order:  order,
			Reason: "payment processor could not capture the order",
		}, nil
	}

	capture := firstCapture(remote)
	if capture == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "capture response carried no capture record")
	}

	if capture.Status == "DECLINED" {
		if failErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.orders.FailFromCapture(ctx, tx, order, "capture was declined")
		}); failErr != nil {
			return nil, failErr
		}
		return &CaptureResponse{Order: order, Retry: true, Reason: "capture was declined"}, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.backfillBuyer(ctx, tx, order, remote.Payer); err != nil {
			return err
		}
		result := orders.CaptureResult{
			TransactionID: capture.ID,
			Amount:        captureAmount(capture),
		}
		if remote.Payer != nil {
			result.PayerEmail = remote.Payer.Email
		}
		if err := s.orders.CompleteFromCapture(ctx, tx, order, result); err != nil {
			return err
		}
		if err := s.subs.ActivateForOrder(ctx, tx, order.ID, capture.ID); err != nil {
			return err
		}
		return s.customers.RecordPurchase(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.RevokeCaptureNonce(ctx, order.ID.String()); err != nil {
		s.logg.Warn(ctx, "could not revoke capture nonce")
	}
	s.logg.Info(ctx, "order captured")
	return &CaptureResponse{Order: order, Success: true}, nil
}

// Refund pushes the refund to PayPal first, then records it locally. The
// processor is the source of truth for whether money moved.
func (s *Service) Refund(ctx context.Context, order *models.Order, amount decimal.Decimal, reason string) (*models.Order, error) {
	if order.TransactionID == nil || *order.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no capture to refund")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	params := paypal.RefundCaptureParams{NoteToPayer: reason}
	if amount.IsPositive() {
		params.Amount = &paypal.Amount{
			CurrencyCode: string(order.Currency),
			Value:        amount.StringFixed(2),
		}
	}
	remote, err := s.client.RefundCapture(ctx, *order.TransactionID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payment processor rejected the refund")
	}

	refundOrder, err := s.orders.Refund(ctx, orders.RefundInput{
		OrderID:       order.ID,
		Amount:        amount,
		TransactionID: remote.ID,
		Reason:        reason,
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "order refunded")
	return refundOrder, nil
}

func (s *Service) authorizeCapture(ctx context.Context, order *models.Order, input CaptureInput) error {
	if input.CaptureToken != "" {
		claims, err := auth.ParseCaptureToken(s.captureCfg, input.CaptureToken)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid capture token")
		}
		if claims.OrderID != order.ID || claims.GatewayOrderID != input.GatewayOrderID {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "capture token does not match this order")
		}
		return nil
	}
	if input.Nonce != "" {
		stored, err := s.store.GetCaptureNonce(ctx, order.ID.String())
		if errors.Is(err, redis.Nil) {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "capture nonce expired or already used")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load capture nonce")
		}
		if stored != input.Nonce {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "capture nonce does not match this order")
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "capture credential required")
}

func firstCapture(order *paypal.Order) *paypal.Capture {
	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for i := range unit.Payments.Captures {
			return &unit.Payments.Captures[i]
		}
	}
	return nil
}
