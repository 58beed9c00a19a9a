package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/internal/subscriptions"
	"github.com/recurforge/commerce-backend/pkg/auth"
	"github.com/recurforge/commerce-backend/pkg/config"
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

type nonceStore interface {
	StoreCaptureNonce(ctx context.Context, orderID, nonce string, ttl time.Duration) error
}

type customerEnsurer interface {
	EnsureByEmail(ctx context.Context, tx *gorm.DB, email, name string) (*models.Customer, error)
	TrialEligible(ctx context.Context, customerID, productID uuid.UUID) (bool, error)
	RecordPurchase(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type orderStateMachine interface {
	MarkAwaitingCapture(ctx context.Context, tx *gorm.DB, order *models.Order, gatewayOrderID string) error
	CompleteFromCapture(ctx context.Context, tx *gorm.DB, order *models.Order, result orders.CaptureResult) error
}

type subscriptionActivator interface {
	ActivateForOrder(ctx context.Context, tx *gorm.DB, parentOrderID uuid.UUID, transactionID string) error
}

// Hooks are optional observation points around the two external phases of
// a checkout. Errors from hooks abort the checkout.
type Hooks struct {
	BeforeProfiles func(ctx context.Context, session *gateways.Session) error
	AfterProfiles  func(ctx context.Context, session *gateways.Session) error
	BeforePersist  func(ctx context.Context, session *gateways.Session) error
	AfterPersist   func(ctx context.Context, result *Result) error
}

// ServiceParams wires the orchestrator's dependencies.
type ServiceParams struct {
	Tx            txRunner
	OrdersRepo    orders.Repository
	SubsRepo      subscriptions.Repository
	Orders        orderStateMachine
	Subscriptions subscriptionActivator
	Customers     customerEnsurer
	Registry      *gateways.Registry
	Outbox        outboxPublisher
	Nonces        nonceStore
	CaptureCfg    config.CaptureTokenConfig
	Logger        *logger.Logger
	Hooks         Hooks
}

// Service runs one checkout submission end to end: price, persist the
// pending order, create gateway profiles, keep the survivors.
type Service struct {
	tx         txRunner
	ordersRepo orders.Repository
	subsRepo   subscriptions.Repository
	orders     orderStateMachine
	subs       subscriptionActivator
	customers  customerEnsurer
	registry   *gateways.Registry
	outbox     outboxPublisher
	nonces     nonceStore
	captureCfg config.CaptureTokenConfig
	logg       *logger.Logger
	hooks      Hooks
}

// NewService validates dependencies and returns the checkout orchestrator.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.OrdersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.SubsRepo == nil {
		return nil, fmt.Errorf("subscriptions repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order state machine required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription activator required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer service required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("gateway registry required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Nonces == nil {
		return nil, fmt.Errorf("nonce store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		tx:         params.Tx,
		ordersRepo: params.OrdersRepo,
		subsRepo:   params.SubsRepo,
		orders:     params.Orders,
		subs:       params.Subscriptions,
		customers:  params.Customers,
		registry:   params.Registry,
		outbox:     params.Outbox,
		nonces:     params.Nonces,
		captureCfg: params.CaptureCfg,
		logg:       params.Logger,
		hooks:      params.Hooks,
	}, nil
}

// Execute processes one checkout submission.
func (s *Service) Execute(ctx context.Context, chk Context) (*Result, error) {
	if err := s.validate(chk); err != nil {
		return nil, err
	}
	adapter, err := s.registry.Get(chk.Gateway)
	if err != nil {
		return nil, err
	}

	session := &gateways.Session{
		PaymentPayload: chk.PaymentPayload,
		Currency:       chk.Currency,
		Mode:           chk.Mode,
	}

	// Phase one: customer, pending order, pending subscription lines.
	// Stale pending rows from an earlier submission of the same order are
	// cleared before new ones go in.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		customer, err := s.customers.EnsureByEmail(ctx, tx, chk.Buyer.Email, chk.Buyer.Name)
		if err != nil {
			return err
		}
		session.Customer = customer

		if err := s.checkTrialEligibility(ctx, customer, chk); err != nil {
			return err
		}

		order, err := s.prepareOrder(ctx, tx, chk, customer)
		if err != nil {
			return err
		}
		session.Order = order

		if err := s.subsRepo.WithTx(tx).DeletePendingByParentOrder(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear stale pending subscriptions")
		}

		session.Subscriptions = s.buildSubscriptionLines(chk, customer, order)
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.NewOrderEvent(enums.EventOrderCreated, order))
	})
	if err != nil {
		return nil, err
	}

	// Phase two: remote profile creation. Gateway errors never escape
	// uncoded; partial rejection is data on the session.
	if s.hooks.BeforeProfiles != nil {
		if err := s.hooks.BeforeProfiles(ctx, session); err != nil {
			return nil, err
		}
	}
	if err := adapter.CreateProfiles(ctx, session); err != nil {
		if domainErr := pkgerrors.As(err); domainErr != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway rejected the checkout")
	}
	if s.hooks.AfterProfiles != nil {
		if err := s.hooks.AfterProfiles(ctx, session); err != nil {
			return nil, err
		}
	}

	if session.AllFailed() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment gateway rejected every item in the cart")
	}

	// Phase three: persist the survivors and settle order state.
	if s.hooks.BeforePersist != nil {
		if err := s.hooks.BeforePersist(ctx, session); err != nil {
			return nil, err
		}
	}

	surviving := session.Surviving()
	result := &Result{
		Order:            session.Order,
		Subscriptions:    surviving,
		FailedLines:      session.Failed,
		ApprovalRequired: adapter.Offsite(),
		GatewayOrderID:   session.GatewayOrderID,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		subsRepo := s.subsRepo.WithTx(tx)
		for _, sub := range surviving {
			if err := subsRepo.Create(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.NewSubscriptionEvent(enums.EventSubscriptionCreated, sub)); err != nil {
				return err
			}
		}

		if adapter.Offsite() {
			return s.orders.MarkAwaitingCapture(ctx, tx, session.Order, session.GatewayOrderID)
		}

		capture := orders.CaptureResult{
			TransactionID: session.TransactionID,
			PayerEmail:    chk.Buyer.Email,
		}
		if err := s.orders.CompleteFromCapture(ctx, tx, session.Order, capture); err != nil {
			return err
		}
		if err := s.subs.ActivateForOrder(ctx, tx, session.Order.ID, session.TransactionID); err != nil {
			return err
		}
		return s.customers.RecordPurchase(ctx, tx, session.Order)
	})
	if err != nil {
		return nil, err
	}

	if result.ApprovalRequired {
		if err := s.issueCaptureCredentials(ctx, result); err != nil {
			return nil, err
		}
	}

	if s.hooks.AfterPersist != nil {
		if err := s.hooks.AfterPersist(ctx, result); err != nil {
			return nil, err
		}
	}

	s.logg.Info(s.logg.WithOrderID(ctx, result.Order.ID.String()), "checkout processed")
	return result, nil
}

func (s *Service) validate(chk Context) error {
	if chk.Gateway == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway is required")
	}
	if chk.Buyer.Email == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer email is required")
	}
	if len(chk.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if !chk.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}
	recurring := false
	for i, line := range chk.Lines {
		if line.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d has no quantity", i))
		}
		if line.Recurring {
			recurring = true
			if !line.Period.IsValid() {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d has an invalid billing period", i))
			}
			if line.BillTimes < 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d has negative bill times", i))
			}
		}
	}
	if !recurring {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart has no recurring items")
	}
	return nil
}

// checkTrialEligibility rejects trial lines for products this customer
// has already trialled. A customer gets one free trial per product.
func (s *Service) checkTrialEligibility(ctx context.Context, customer *models.Customer, chk Context) error {
	for i, line := range chk.Lines {
		if !line.Recurring || !line.HasTrial() {
			continue
		}
		eligible, err := s.customers.TrialEligible(ctx, customer.ID, line.ProductID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check trial eligibility")
		}
		if !eligible {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("line %d: free trial already used for this product", i))
		}
	}
	return nil
}

// prepareOrder creates the pending order, or reuses the one a previous
// submission of the same checkout already created.
func (s *Service) prepareOrder(ctx context.Context, tx *gorm.DB, chk Context, customer *models.Customer) (*models.Order, error) {
	repo := s.ordersRepo.WithTx(tx)

	if chk.ParentOrderID != nil {
		order, err := repo.FindByID(ctx, *chk.ParentOrderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load prior order")
		}
		if order == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "prior order not found")
		}
		if order.Status != enums.OrderStatusPending {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "prior order is no longer pending")
		}
		return order, nil
	}

	subtotal, discount, tax := decimal.Zero, decimal.Zero, decimal.Zero
	items := make([]models.OrderItem, 0, len(chk.Lines))
	for _, line := range chk.Lines {
		pricing := PriceLine(line, chk.Tax)
		lineTotal := pricing.InitialAmount.Add(pricing.InitialTax)
		subtotal = subtotal.Add(line.Subtotal)
		discount = discount.Add(line.Discount)
		tax = tax.Add(pricing.InitialTax)
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			PriceID:   line.PriceID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			ItemPrice: line.Amount,
			Subtotal:  line.Subtotal,
			Discount:  line.Discount,
			Tax:       pricing.InitialTax,
			Total:     lineTotal,
			Recurring: line.Recurring,
		})
	}

	feesTotal, feeTax := CartFees(chk.Fees, chk.Tax)
	tax = tax.Add(feeTax)
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total)
	}
	total = total.Add(feesTotal).Add(feeTax)

	order := &models.Order{
		Type:        enums.OrderTypePayment,
		Status:      enums.OrderStatusPending,
		CustomerID:  &customer.ID,
		Email:       customer.Email,
		Gateway:     chk.Gateway,
		GatewayMode: chk.Mode,
		Currency:    chk.Currency,
		Subtotal:    subtotal,
		Discount:    discount,
		Tax:         tax,
		TaxRate:     NormalizeTaxRate(chk.Tax.Rate),
		FeesTotal:   feesTotal,
		Total:       total,
		Items:       items,
	}
	if chk.Buyer.IPAddress != "" {
		ip := chk.Buyer.IPAddress
		order.IPAddress = &ip
	}
	if err := repo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pending order")
	}
	return order, nil
}

// buildSubscriptionLines turns recurring cart lines into pending rows.
// The first billing window starts now: one trial window for trial lines,
// one billing period otherwise.
func (s *Service) buildSubscriptionLines(chk Context, customer *models.Customer, order *models.Order) []*models.Subscription {
	now := time.Now().UTC()
	subs := make([]*models.Subscription, 0, len(chk.Lines))
	for _, line := range chk.Lines {
		if !line.Recurring {
			continue
		}
		pricing := PriceLine(line, chk.Tax)

		expiration := line.Period.Next(now)
		if line.HasTrial() {
			expiration = line.TrialUnit.Add(now, line.TrialQuantity)
		}

		subs = append(subs, &models.Subscription{
			CustomerID:      customer.ID,
			ParentOrderID:   order.ID,
			ProductID:       line.ProductID,
			PriceID:         line.PriceID,
			Gateway:         chk.Gateway,
			Status:          enums.SubscriptionStatusPending,
			Period:          line.Period,
			BillTimes:       line.BillTimes,
			InitialAmount:   pricing.InitialAmount,
			InitialTax:      pricing.InitialTax,
			InitialTaxRate:  pricing.InitialTaxRate,
			RecurringAmount: pricing.RecurringAmount,
			RecurringTax:    pricing.RecurringTax,
			RecurringRate:   pricing.RecurringRate,
			TrialQuantity:   line.TrialQuantity,
			TrialUnit:       line.TrialUnit,
			Expiration:      expiration,
		})
	}
	return subs
}

// issueCaptureCredentials mints the JWT and redis nonce the capture
// endpoint will accept for this order.
func (s *Service) issueCaptureCredentials(ctx context.Context, result *Result) error {
	token, err := auth.MintCaptureToken(s.captureCfg, time.Now().UTC(), auth.CaptureTokenPayload{
		OrderID:        result.Order.ID,
		GatewayOrderID: result.GatewayOrderID,
		Gateway:        result.Order.Gateway,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint capture token")
	}
	result.CaptureToken = token

	nonce := uuid.NewString()
	if err := s.nonces.StoreCaptureNonce(ctx, result.Order.ID.String(), nonce, s.captureCfg.NonceTTL); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store capture nonce")
	}
	result.CaptureNonce = nonce
	return nil
}
