package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
)

// OrderEventData is the versioned payload carried by order.* events.
type OrderEventData struct {
	OrderID     uuid.UUID       `json:"orderId"`
	OrderNumber int64           `json:"orderNumber"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Gateway     string          `json:"gateway"`
	Currency    string          `json:"currency"`
	Total       decimal.Decimal `json:"total"`
}

// SubscriptionEventData is the versioned payload carried by subscription.* events.
type SubscriptionEventData struct {
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	CustomerID     uuid.UUID `json:"customerId"`
	ProductID      uuid.UUID `json:"productId"`
	Gateway        string    `json:"gateway"`
	ProfileID      string    `json:"profileId,omitempty"`
	Status         string    `json:"status"`
	TimesBilled    int       `json:"timesBilled"`
	Expiration     time.Time `json:"expiration"`
}

// NewOrderEvent builds the DomainEvent for an order state change.
func NewOrderEvent(eventType enums.OutboxEventType, order *models.Order) DomainEvent {
	return DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: OrderEventData{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Type:        string(order.Type),
			Status:      string(order.Status),
			Gateway:     order.Gateway,
			Currency:    string(order.Currency),
			Total:       order.Total,
		},
	}
}

// NewSubscriptionEvent builds the DomainEvent for a subscription state change.
func NewSubscriptionEvent(eventType enums.OutboxEventType, sub *models.Subscription) DomainEvent {
	return DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   sub.ID,
		Version:       1,
		Data: SubscriptionEventData{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			ProductID:      sub.ProductID,
			Gateway:        sub.Gateway,
			ProfileID:      sub.ProfileID,
			Status:         string(sub.Status),
			TimesBilled:    sub.TimesBilled,
			Expiration:     sub.Expiration,
		},
	}
}
