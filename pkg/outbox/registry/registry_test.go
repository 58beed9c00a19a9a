package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/pkg/config"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	"github.com/recurforge/commerce-backend/pkg/outbox"
)

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		OrdersTopic:  "rf-order-events",
		BillingTopic: "rf-billing-events",
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func encodeEnvelope(t *testing.T, data any) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return envelope
}

func TestResolveOrderEvent(t *testing.T) {
	reg := testRegistry(t)
	orderID := uuid.New()

	row := models.OutboxEvent{
		EventType:     enums.EventOrderCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: encodeEnvelope(t, outbox.OrderEventData{
			OrderID:  orderID,
			Status:   "complete",
			Gateway:  "paypal_commerce",
			Currency: "USD",
			Total:    decimal.RequireFromString("20.00"),
		}),
	}

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "rf-order-events" {
		t.Fatalf("unexpected topic %s", resolved.Descriptor.Topic)
	}
	data, ok := resolved.Payload.(*outbox.OrderEventData)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if data.OrderID != orderID || !data.Total.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("payload not preserved: %+v", data)
	}
}

func TestResolveSubscriptionEventTopic(t *testing.T) {
	reg := testRegistry(t)
	subID := uuid.New()

	row := models.OutboxEvent{
		EventType:     enums.EventSubscriptionRenewed,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   subID,
		Payload: encodeEnvelope(t, outbox.SubscriptionEventData{
			SubscriptionID: subID,
			Status:         "active",
			TimesBilled:    2,
		}),
	}

	resolved, err := reg.Resolve(row)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "rf-billing-events" {
		t.Fatalf("unexpected topic %s", resolved.Descriptor.Topic)
	}
}

func TestResolveRejectsUnknownAndMismatched(t *testing.T) {
	reg := testRegistry(t)

	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     "order.sharded",
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}

	_, err = reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateSubscription,
		AggregateID:   uuid.New(),
		Payload:       encodeEnvelope(t, outbox.OrderEventData{}),
	})
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected aggregate mismatch error, got %v", err)
	}
}
