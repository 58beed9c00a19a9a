package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/outbox"
	"github.com/recurforge/commerce-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CaptureResult carries what the gateway reported for a completed capture.
type CaptureResult struct {
	TransactionID string
	PayerEmail    string
	PayerName     string
	Amount        decimal.Decimal
}

// RefundInput describes a refund against a completed order. A zero Amount
// refunds whatever remains refundable.
type RefundInput struct {
	OrderID       uuid.UUID
	Amount        decimal.Decimal
	TransactionID string
	Reason        string
}

// Service drives the order state machine. Transitions out of
// awaiting_capture belong to the capture handler alone; everything here
// enforces the pending -> awaiting_capture -> complete|failed flow plus
// refunds off complete.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gateway, gatewayOrderID string) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	MarkAwaitingCapture(ctx context.Context, tx *gorm.DB, order *models.Order, gatewayOrderID string) error
	CompleteFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, result CaptureResult) error
	FailFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
	Refund(ctx context.Context, input RefundInput) (*models.Order, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, outbox: publisher, logg: logg}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) FindByGatewayOrderID(ctx context.Context, gateway, gatewayOrderID string) (*models.Order, error) {
	order, err := s.repo.FindByGatewayOrderID(ctx, gateway, gatewayOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by gateway reference")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for gateway reference")
	}
	return order, nil
}

// ListByCustomer pages through a customer's order history, newest first.
func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	var page pagination.Page[models.Order]

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListByCustomer(ctx, customerID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customer orders")
	}

	items, hasMore := pagination.TrimToPage(rows, params.Limit)
	page.Items = items
	if hasMore {
		last := items[len(items)-1]
		next := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		page.NextCursor = &next
	}
	return page, nil
}

// MarkAwaitingCapture records the processor-side order id and parks the
// order until the buyer approves payment externally.
func (s *service) MarkAwaitingCapture(ctx context.Context, tx *gorm.DB, order *models.Order, gatewayOrderID string) error {
	if gatewayOrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway order id required")
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusAwaitingCapture) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order cannot move from %s to awaiting_capture", order.Status))
	}

	order.Status = enums.OrderStatusAwaitingCapture
	order.GatewayOrderID = &gatewayOrderID
	if err := s.repo.WithTx(tx).Save(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist awaiting capture")
	}
	return nil
}

// CompleteFromCapture finalizes the order after the gateway confirmed the
// money movement. Re-delivered confirmations are a no-op.
func (s *service) CompleteFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, result CaptureResult) error {
	if order.Status == enums.OrderStatusComplete {
		return nil
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusComplete) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order cannot move from %s to complete", order.Status))
	}
	if result.TransactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "capture transaction id required")
	}

	now := time.Now().UTC()
	order.Status = enums.OrderStatusComplete
	order.TransactionID = &result.TransactionID
	order.CompletedAt = &now
	if order.Email == "" && result.PayerEmail != "" {
		order.Email = result.PayerEmail
	}

	repo := s.repo.WithTx(tx)
	if err := repo.Save(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order completion")
	}

	amount := result.Amount
	if amount.IsZero() {
		amount = order.Total
	}
	txn := &models.Transaction{
		OrderID:       order.ID,
		Gateway:       order.Gateway,
		TransactionID: result.TransactionID,
		Kind:          enums.TransactionKindCapture,
		Amount:        amount,
		Currency:      order.Currency,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record capture transaction")
	}
	if err := repo.AddNote(ctx, order.ID, fmt.Sprintf("payment captured, transaction %s", result.TransactionID)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record capture note")
	}

	event := outbox.NewOrderEvent(enums.EventOrderCompleted, order)
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order completed")
	return nil
}

// FailFromCapture marks the order failed with the gateway's reason.
func (s *service) FailFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	if order.Status == enums.OrderStatusFailed {
		return nil
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusFailed) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order cannot move from %s to failed", order.Status))
	}

	order.Status = enums.OrderStatusFailed
	repo := s.repo.WithTx(tx)
	if err := repo.Save(ctx, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order failure")
	}
	if reason == "" {
		reason = "payment failed"
	}
	if err := repo.AddNote(ctx, order.ID, reason); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failure note")
	}

	event := outbox.NewOrderEvent(enums.EventOrderFailed, order)
	if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
		return err
	}

	s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()), "order failed: "+reason)
	return nil
}

// Refund books a refund the gateway already executed. A separate refund
// order is created under the original so the payment record stays intact;
// the refund transaction hangs off the refund order.
func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund transaction id required")
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount cannot be negative")
	}

	var refundOrder *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Type != enums.OrderTypePayment {
			return pkgerrors.New(pkgerrors.CodeValidation, "refunds apply to payment orders only")
		}
		if order.Status != enums.OrderStatusComplete {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only completed orders can be refunded")
		}

		refundable, err := s.refundableAmount(ctx, repo, order)
		if err != nil {
			return err
		}
		amount := input.Amount
		if amount.IsZero() {
			amount = refundable
		}
		if amount.IsZero() || amount.GreaterThan(refundable) {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("refund amount exceeds refundable balance %s", refundable.StringFixed(2)))
		}

		now := time.Now().UTC()
		refundOrder = &models.Order{
			ParentID:    &order.ID,
			Type:        enums.OrderTypeRefund,
			Status:      enums.OrderStatusComplete,
			CustomerID:  order.CustomerID,
			Email:       order.Email,
			Gateway:     order.Gateway,
			GatewayMode: order.GatewayMode,
			Currency:    order.Currency,
			Subtotal:    amount.Neg(),
			Total:       amount.Neg(),
			CompletedAt: &now,
		}
		if err := repo.Create(ctx, refundOrder); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund order")
		}

		txn := &models.Transaction{
			OrderID:       refundOrder.ID,
			Gateway:       order.Gateway,
			TransactionID: input.TransactionID,
			Kind:          enums.TransactionKindRefund,
			Amount:        amount.Neg(),
			Currency:      order.Currency,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund transaction")
		}

		reason := input.Reason
		if reason == "" {
			reason = "refund issued"
		}
		note := fmt.Sprintf("%s: %s %s, transaction %s", reason, amount.StringFixed(2), order.Currency, input.TransactionID)
		if err := repo.AddNote(ctx, order.ID, note); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund note")
		}
		if err := repo.AddNote(ctx, refundOrder.ID, fmt.Sprintf("refund of order #%d", order.OrderNumber)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund note")
		}

		// Fully refunded payments flip to refunded; partial refunds leave
		// the payment complete with a reduced refundable balance.
		if amount.Equal(refundable) {
			order.Status = enums.OrderStatusRefunded
			order.RefundedAt = &now
			if err := repo.Save(ctx, order); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refunded status")
			}
		}

		event := outbox.NewOrderEvent(enums.EventOrderRefunded, order)
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, input.OrderID.String()), "refund recorded")
	return refundOrder, nil
}

func (s *service) refundableAmount(ctx context.Context, repo Repository, order *models.Order) (decimal.Decimal, error) {
	refunds, err := repo.ListRefunds(ctx, order.ID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load prior refunds")
	}
	refundable := order.Total
	for _, refund := range refunds {
		// Refund totals are stored negative.
		refundable = refundable.Add(refund.Total)
	}
	if refundable.IsNegative() {
		refundable = decimal.Zero
	}
	return refundable, nil
}
