package enums

import "fmt"

// OrderStatus tracks the two-phase payment lifecycle of an order. Orders on
// off-site gateways sit in awaiting_capture until the capture handler flips
// them; on-site gateways complete inline.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAwaitingCapture OrderStatus = "awaiting_capture"
	OrderStatusComplete        OrderStatus = "complete"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusRefunded        OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAwaitingCapture,
	OrderStatusComplete,
	OrderStatusFailed,
	OrderStatusRefunded,
}

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusAwaitingCapture, OrderStatusComplete, OrderStatusFailed},
	OrderStatusAwaitingCapture: {OrderStatusComplete, OrderStatusFailed},
	OrderStatusComplete:        {OrderStatusRefunded},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderStatusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
