package registry

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

type decodeFunc func(data json.RawMessage) (any, error)

// Route says where an event type is published and how its payload decodes.
type Route struct {
	Event     enums.OutboxEventType
	Aggregate enums.OutboxAggregateType
	Topic     string
	decode    decodeFunc
}

type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// EventRegistry is the publisher's routing table, keyed by event type.
type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NonRetryableError marks a row that will never publish; the dispatcher dead-letters it.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func decodeAs[T any]() decodeFunc {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// NewEventRegistry routes inventory events and cart events to their configured topics.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.InventoryTopic == "":
		return nil, fmt.Errorf("inventory topic is required")
	case cfg.CartTopic == "":
		return nil, fmt.Errorf("cart topic is required")
	}

	topicFor := map[enums.OutboxAggregateType]string{
		enums.AggregateInventory: cfg.InventoryTopic,
		enums.AggregateCart:      cfg.CartTopic,
	}
	decoders := map[enums.OutboxEventType]decodeFunc{
		enums.EventLowStockDetected:    decodeAs[payloads.LowStockDetectedEvent](),
		enums.EventStockReceived:       decodeAs[payloads.StockReceivedEvent](),
		enums.EventReservationReleased: decodeAs[payloads.ReservationReleasedEvent](),
		enums.EventCartMerged:          decodeAs[payloads.CartMergedEvent](),
		enums.EventCartAbandoned:       decodeAs[payloads.CartAbandonedEvent](),
		enums.EventCartCheckedOut:      decodeAs[payloads.CartCheckedOutEvent](),
	}

	routes := make(map[enums.OutboxEventType]Route, len(decoders))
	for eventType, decode := range decoders {
		aggregate := eventType.Aggregate()
		routes[eventType] = Route{Event: eventType, Aggregate: aggregate, Topic: topicFor[aggregate], decode: decode}
	}
	return &EventRegistry{routes: routes}, nil
}

// Topics returns the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	set := make(map[string]struct{}, 2)
	for _, route := range r.routes {
		set[route.Topic] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Resolve checks the row against its route and decodes the typed payload.
// Every failure is a NonRetryableError: retrying the same bytes cannot help.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case route.Aggregate != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, route.Aggregate, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("%s: missing aggregate_id", event.EventType))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := route.decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Route: route, Envelope: envelope, Payload: payload}, nil
}
