package enums

// OutboxAggregateType names the entity an outbox event belongs to. Together with the
// aggregate id it forms the Pub/Sub ordering key.
type OutboxAggregateType string

const (
	AggregateCart      OutboxAggregateType = "cart"
	AggregateInventory OutboxAggregateType = "inventory"
)

var aggregateTypes = []OutboxAggregateType{AggregateCart, AggregateInventory}

func (a OutboxAggregateType) IsValid() bool { return member(aggregateTypes, a) }

func ParseOutboxAggregateType(raw string) (OutboxAggregateType, error) {
	return parse("aggregate type", aggregateTypes, raw)
}

// OutboxEventType is the event_type column and the Pub/Sub event_type attribute.
type OutboxEventType string

const (
	EventLowStockDetected    OutboxEventType = "low_stock_detected"
	EventStockReceived       OutboxEventType = "stock_received"
	EventReservationReleased OutboxEventType = "reservation_released"
	EventCartMerged          OutboxEventType = "cart_merged"
	EventCartAbandoned       OutboxEventType = "cart_abandoned"
	EventCartCheckedOut      OutboxEventType = "cart_checked_out"
)

var eventTypes = []OutboxEventType{
	EventLowStockDetected,
	EventStockReceived,
	EventReservationReleased,
	EventCartMerged,
	EventCartAbandoned,
	EventCartCheckedOut,
}

func (e OutboxEventType) IsValid() bool { return member(eventTypes, e) }

// Aggregate is the aggregate type events of this kind are emitted against.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	switch e {
	case EventLowStockDetected, EventStockReceived, EventReservationReleased:
		return AggregateInventory
	}
	return AggregateCart
}

func ParseOutboxEventType(raw string) (OutboxEventType, error) {
	return parse("event type", eventTypes, raw)
}
