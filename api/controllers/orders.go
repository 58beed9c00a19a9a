package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/api/responses"
	"github.com/recurforge/commerce-backend/internal/orders"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/logger"
	"github.com/recurforge/commerce-backend/pkg/pagination"
)

// CustomerOrders pages through a customer's order history, newest first.
// Refund rows appear alongside payments with negative totals.
func CustomerOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := pathUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeCustomer(r, customerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		page, err := svc.ListByCustomer(r.Context(), customerID, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := pagination.Page[orderResponse]{
			Items:      make([]orderResponse, 0, len(page.Items)),
			NextCursor: page.NextCursor,
		}
		for i := range page.Items {
			out.Items = append(out.Items, newOrderResponse(&page.Items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type orderResponse struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   int64           `json:"order_number"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Gateway       string          `json:"gateway"`
	Currency      string          `json:"currency"`
	Total         decimal.Decimal `json:"total"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CompletedAt   string          `json:"completed_at,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Type:        string(order.Type),
		Status:      string(order.Status),
		Gateway:     order.Gateway,
		Currency:    string(order.Currency),
		Total:       order.Total,
		CreatedAt:   order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if order.TransactionID != nil {
		resp.TransactionID = *order.TransactionID
	}
	if order.CompletedAt != nil {
		resp.CompletedAt = order.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
