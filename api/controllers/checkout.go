package controllers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/api/responses"
	"github.com/recurforge/commerce-backend/api/validators"
	checkoutsvc "github.com/recurforge/commerce-backend/internal/checkout"
	"github.com/recurforge/commerce-backend/internal/gateways"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
)

// Checkout submits a cart for payment. On-site gateways return a
// completed order; off-site gateways return approval state plus capture
// credentials.
func Checkout(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		chk, err := payload.toContext(clientIP(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Execute(r.Context(), chk)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type checkoutLineRequest struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	PriceID   *uuid.UUID      `json:"price_id,omitempty"`
	Name      string          `json:"name" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	Amount    decimal.Decimal `json:"amount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Tax       decimal.Decimal `json:"tax"`
	TaxRate   decimal.Decimal `json:"tax_rate"`

	Recurring bool   `json:"recurring"`
	Period    string `json:"period,omitempty"`
	BillTimes int    `json:"bill_times,omitempty" validate:"omitempty,min=0"`

	TrialQuantity int             `json:"trial_quantity,omitempty" validate:"omitempty,min=0"`
	TrialUnit     string          `json:"trial_unit,omitempty"`
	SignupFee     decimal.Decimal `json:"signup_fee"`
}

type checkoutFeeRequest struct {
	Name   string          `json:"name" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type checkoutTaxRequest struct {
	Rate             decimal.Decimal `json:"rate"`
	Inclusive        bool            `json:"inclusive"`
	OneTimeDiscounts bool            `json:"one_time_discounts"`
}

type checkoutBuyerRequest struct {
	Email  string     `json:"email" validate:"required,email"`
	Name   string     `json:"name,omitempty"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
}

type checkoutRequest struct {
	Gateway        string                `json:"gateway" validate:"required"`
	Mode           string                `json:"mode,omitempty"`
	Currency       string                `json:"currency" validate:"required"`
	Buyer          checkoutBuyerRequest  `json:"buyer" validate:"required"`
	Lines          []checkoutLineRequest `json:"lines" validate:"required,min=1,dive"`
	Fees           []checkoutFeeRequest  `json:"fees,omitempty" validate:"omitempty,dive"`
	Tax            checkoutTaxRequest    `json:"tax"`
	PaymentPayload map[string]string     `json:"payment_payload,omitempty"`
	ParentOrderID  *uuid.UUID            `json:"parent_order_id,omitempty"`
}

func (req checkoutRequest) toContext(ip string) (checkoutsvc.Context, error) {
	currency, err := enums.ParseCurrency(req.Currency)
	if err != nil {
		return checkoutsvc.Context{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}
	mode := enums.GatewayModeTest
	if req.Mode != "" {
		if mode, err = enums.ParseGatewayMode(req.Mode); err != nil {
			return checkoutsvc.Context{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid gateway mode")
		}
	}

	lines := make([]checkoutsvc.Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		out := checkoutsvc.Line{
			ProductID: line.ProductID,
			PriceID:   line.PriceID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			Amount:    line.Amount,
			Subtotal:  line.Subtotal,
			Discount:  line.Discount,
			Tax:       line.Tax,
			TaxRate:   line.TaxRate,
			Recurring: line.Recurring,
			BillTimes: line.BillTimes,
			SignupFee: line.SignupFee,
		}
		if line.Recurring {
			period, err := enums.ParseBillingPeriod(line.Period)
			if err != nil {
				return checkoutsvc.Context{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing period")
			}
			out.Period = period
		}
		if line.TrialQuantity > 0 {
			unit, err := enums.ParseTrialUnit(line.TrialUnit)
			if err != nil {
				return checkoutsvc.Context{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid trial unit")
			}
			out.TrialQuantity = line.TrialQuantity
			out.TrialUnit = &unit
		}
		lines = append(lines, out)
	}

	fees := make([]checkoutsvc.Fee, 0, len(req.Fees))
	for _, fee := range req.Fees {
		fees = append(fees, checkoutsvc.Fee{Name: fee.Name, Amount: fee.Amount})
	}

	return checkoutsvc.Context{
		Gateway:  req.Gateway,
		Mode:     mode,
		Currency: currency,
		Lines:    lines,
		Fees:     fees,
		Tax: checkoutsvc.TaxSettings{
			Rate:             req.Tax.Rate,
			Inclusive:        req.Tax.Inclusive,
			OneTimeDiscounts: req.Tax.OneTimeDiscounts,
		},
		Buyer: checkoutsvc.Buyer{
			Email:     req.Buyer.Email,
			Name:      req.Buyer.Name,
			IPAddress: ip,
			UserID:    req.Buyer.UserID,
		},
		PaymentPayload: req.PaymentPayload,
		ParentOrderID:  req.ParentOrderID,
	}, nil
}

type checkoutResponse struct {
	OrderID          uuid.UUID              `json:"order_id"`
	OrderNumber      int64                  `json:"order_number"`
	Status           string                 `json:"status"`
	Total            decimal.Decimal        `json:"total"`
	Currency         string                 `json:"currency"`
	Subscriptions    []subscriptionResponse `json:"subscriptions,omitempty"`
	RejectedLines    []rejectedLineResponse `json:"rejected_lines,omitempty"`
	ApprovalRequired bool                   `json:"approval_required"`
	GatewayOrderID   string                 `json:"gateway_order_id,omitempty"`
	CaptureToken     string                 `json:"capture_token,omitempty"`
	CaptureNonce     string                 `json:"capture_nonce,omitempty"`
}

type subscriptionResponse struct {
	SubscriptionID  uuid.UUID       `json:"subscription_id"`
	ProductID       uuid.UUID       `json:"product_id"`
	Status          string          `json:"status"`
	Period          string          `json:"period"`
	BillTimes       int             `json:"bill_times"`
	TimesBilled     int             `json:"times_billed"`
	InitialAmount   decimal.Decimal `json:"initial_amount"`
	RecurringAmount decimal.Decimal `json:"recurring_amount"`
	Expiration      string          `json:"expiration"`
}

type rejectedLineResponse struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	if result == nil || result.Order == nil {
		return checkoutResponse{}
	}
	subs := make([]subscriptionResponse, 0, len(result.Subscriptions))
	for _, sub := range result.Subscriptions {
		subs = append(subs, newSubscriptionResponse(sub))
	}
	return checkoutResponse{
		OrderID:          result.Order.ID,
		OrderNumber:      result.Order.OrderNumber,
		Status:           string(result.Order.Status),
		Total:            result.Order.Total,
		Currency:         string(result.Order.Currency),
		Subscriptions:    subs,
		RejectedLines:    newRejectedLines(result.FailedLines),
		ApprovalRequired: result.ApprovalRequired,
		GatewayOrderID:   result.GatewayOrderID,
		CaptureToken:     result.CaptureToken,
		CaptureNonce:     result.CaptureNonce,
	}
}

func newSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		SubscriptionID:  sub.ID,
		ProductID:       sub.ProductID,
		Status:          string(sub.Status),
		Period:          string(sub.Period),
		BillTimes:       sub.BillTimes,
		TimesBilled:     sub.TimesBilled,
		InitialAmount:   sub.InitialAmount,
		RecurringAmount: sub.RecurringAmount,
		Expiration:      sub.Expiration.UTC().Format(time.RFC3339),
	}
}

func newRejectedLines(failed []gateways.FailedLine) []rejectedLineResponse {
	if len(failed) == 0 {
		return nil
	}
	out := make([]rejectedLineResponse, 0, len(failed))
	for _, line := range failed {
		out = append(out, rejectedLineResponse{Index: line.Index, Reason: line.Reason})
	}
	return out
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
