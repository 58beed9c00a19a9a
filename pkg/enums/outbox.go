package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateSubscription OutboxAggregateType = "subscription"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateSubscription,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order.created"
	EventOrderCompleted        OutboxEventType = "order.completed"
	EventOrderFailed           OutboxEventType = "order.failed"
	EventOrderRefunded         OutboxEventType = "order.refunded"
	EventSubscriptionCreated   OutboxEventType = "subscription.created"
	EventSubscriptionActivated OutboxEventType = "subscription.activated"
	EventSubscriptionRenewed   OutboxEventType = "subscription.renewed"
	EventSubscriptionFailing   OutboxEventType = "subscription.failing"
	EventSubscriptionCancelled OutboxEventType = "subscription.cancelled"
	EventSubscriptionExpired   OutboxEventType = "subscription.expired"
	EventSubscriptionCompleted OutboxEventType = "subscription.completed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderCompleted,
	EventOrderFailed,
	EventOrderRefunded,
	EventSubscriptionCreated,
	EventSubscriptionActivated,
	EventSubscriptionRenewed,
	EventSubscriptionFailing,
	EventSubscriptionCancelled,
	EventSubscriptionExpired,
	EventSubscriptionCompleted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
