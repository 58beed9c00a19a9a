package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/api/responses"
	"github.com/recurforge/commerce-backend/api/validators"
	"github.com/recurforge/commerce-backend/internal/orders"
	paypalwebhook "github.com/recurforge/commerce-backend/internal/webhooks/paypal"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/types"
)

type captureRequest struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required"`
	CaptureToken   string `json:"capture_token,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
}

// PayPalCapture collects an approved checkout order. A declined funding
// instrument returns 200 with retry set so the buyer can resubmit; the
// order stays capturable.
func PayPalCapture(svc *paypalwebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "capture service unavailable"))
			return
		}

		var payload captureRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Capture(r.Context(), paypalwebhook.CaptureInput{
			GatewayOrderID: payload.GatewayOrderID,
			CaptureToken:   payload.CaptureToken,
			Nonce:          payload.Nonce,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := types.CaptureResult{
			Success: result.Success,
			Retry:   result.Retry,
			Message: result.Reason,
		}
		if result.Order != nil {
			out.OrderID = result.Order.ID.String()
			out.Status = string(result.Order.Status)
			if result.Order.TransactionID != nil {
				out.TransactionID = *result.Order.TransactionID
			}
		}
		responses.WriteSuccess(w, out)
	}
}

type refundRequest struct {
	OrderID uuid.UUID       `json:"order_id" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason,omitempty"`
}

// PayPalRefund reverses a captured payment, partially when an amount is
// given, in full otherwise.
func PayPalRefund(svc *paypalwebhook.Service, ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || ordersSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := ordersSvc.Get(r.Context(), payload.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refundOrder, err := svc.Refund(r.Context(), order, payload.Amount, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"refund_order_id": refundOrder.ID,
			"order_id":        order.ID,
			"amount":          refundOrder.Total.Neg(),
		})
	}
}
