package checkout

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
)

// Line is one cart line as the cart layer hands it over: amounts are
// already discounted, Subtotal is the undiscounted base.
type Line struct {
	ProductID uuid.UUID
	PriceID   *uuid.UUID
	Name      string
	Quantity  int

	Amount   decimal.Decimal // discounted line total
	Subtotal decimal.Decimal // undiscounted line total
	Discount decimal.Decimal
	Tax      decimal.Decimal // tax on the discounted amount
	TaxRate  decimal.Decimal // percentage, e.g. 8.25

	Recurring bool
	Period    enums.BillingPeriod
	BillTimes int

	TrialQuantity int
	TrialUnit     *enums.TrialUnit
	SignupFee     decimal.Decimal
}

// HasTrial reports whether the line starts with a free trial window.
func (l Line) HasTrial() bool {
	return l.TrialQuantity > 0 && l.TrialUnit != nil
}

// Fee is a cart-level surcharge or credit. Negative fees are already
// reflected in discounted line prices and are never re-applied.
type Fee struct {
	Name   string
	Amount decimal.Decimal
}

// TaxSettings is the store-wide tax policy snapshot for this checkout.
type TaxSettings struct {
	Rate             decimal.Decimal // percentage
	Inclusive        bool
	OneTimeDiscounts bool
}

// Buyer identifies who is paying.
type Buyer struct {
	Email     string
	Name      string
	IPAddress string
	UserID    *uuid.UUID
}

// Context carries everything the orchestrator needs for one submission.
// It is built by the API layer; the orchestrator never reaches into
// request or session state itself.
type Context struct {
	Gateway  string
	Mode     enums.GatewayMode
	Currency enums.Currency

	Lines []Line
	Fees  []Fee
	Tax   TaxSettings
	Buyer Buyer

	// PaymentPayload carries gateway-specific inputs, e.g. a card token
	// for on-site gateways.
	PaymentPayload map[string]string

	// ParentOrderID resubmits a previously started checkout: pending
	// subscription rows from the earlier attempt are cleared first.
	ParentOrderID *uuid.UUID
}

// Result is what the API layer renders back to the buyer.
type Result struct {
	Order         *models.Order
	Subscriptions []*models.Subscription
	FailedLines   []gateways.FailedLine

	// ApprovalRequired is true for off-site gateways: the buyer must
	// approve the payment externally before capture.
	ApprovalRequired bool
	GatewayOrderID   string
	CaptureToken     string
	CaptureNonce     string
}
