package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveLowStock(t *testing.T) {
	reg := newTestEventRegistry(t)

	productID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventLowStockDetected,
		AggregateType: enums.AggregateInventory,
		AggregateID:   productID,
		Payload: mustEnvelope(t, mustMarshal(t, payloads.LowStockDetectedEvent{
			ProductID: productID,
			Stock:     12,
			Reserved:  4,
			Available: 8,
			Threshold: 10,
		})),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Route.Topic != "inventory-topic" {
		t.Fatalf("unexpected topic %q", resolved.Route.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.LowStockDetectedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.ProductID != productID || payload.Available != 8 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing metadata: %+v", resolved.Envelope)
	}
}

func TestEventRegistryRoutesCartEventsToCartTopic(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, eventType := range []enums.OutboxEventType{enums.EventCartMerged, enums.EventCartAbandoned, enums.EventCartCheckedOut} {
		event := models.OutboxEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateCart,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		}
		resolved, err := reg.Resolve(event)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", eventType, err)
		}
		if resolved.Route.Topic != "cart-topic" {
			t.Fatalf("%s: unexpected topic %q", eventType, resolved.Route.Topic)
		}
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name: "unknown event",
			event: models.OutboxEvent{
				EventType:     "order_created",
				AggregateType: enums.AggregateCart,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "aggregate mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventLowStockDetected,
				AggregateType: enums.AggregateCart,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "missing aggregate id",
			event: models.OutboxEvent{
				EventType:     enums.EventCartAbandoned,
				AggregateType: enums.AggregateCart,
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "null payload",
			event: models.OutboxEvent{
				EventType:     enums.EventCartAbandoned,
				AggregateType: enums.AggregateCart,
				AggregateID:   uuid.New(),
				Payload:       mustEnvelope(t, []byte("null")),
			},
		},
		{
			name: "broken envelope",
			event: models.OutboxEvent{
				EventType:     enums.EventCartAbandoned,
				AggregateType: enums.AggregateCart,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`{"data":`),
			},
		},
		{
			name: "future envelope version",
			event: models.OutboxEvent{
				EventType:     enums.EventCartAbandoned,
				AggregateType: enums.AggregateCart,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`{"version":2,"eventId":"e-1","data":{}}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestEventRegistryTopics(t *testing.T) {
	topics := newTestEventRegistry(t).Topics()
	if len(topics) != 2 || topics[0] != "cart-topic" || topics[1] != "inventory-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{CartTopic: "cart"}); err == nil {
		t.Fatal("expected missing inventory topic to fail")
	}
	if _, err := NewEventRegistry(config.PubSubConfig{InventoryTopic: "inv"}); err == nil {
		t.Fatal("expected missing cart topic to fail")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		InventoryTopic: "inventory-topic",
		CartTopic:      "cart-topic",
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
