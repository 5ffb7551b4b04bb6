package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/registry"
)

const (
	testInventoryTopic = "inventory-test"
	testCartTopic      = "cart-test"
)

// harness wires the service to in-memory collaborators and the real event registry.
type harness struct {
	rows       *memOutbox
	dlq        *memDLQ
	publishers map[string]*scriptedPublisher
	registry   *prometheus.Registry
	svc        *Service
}

func newHarness(t *testing.T, maxAttempts int, rows ...models.OutboxEvent) *harness {
	t.Helper()
	events, err := registry.NewEventRegistry(config.PubSubConfig{InventoryTopic: testInventoryTopic, CartTopic: testCartTopic})
	if err != nil {
		t.Fatalf("event registry: %v", err)
	}
	h := &harness{
		rows: &memOutbox{events: rows},
		dlq:  &memDLQ{},
		publishers: map[string]*scriptedPublisher{
			testInventoryTopic: {},
			testCartTopic:      {},
		},
		registry: prometheus.NewRegistry(),
	}
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{Outbox: config.OutboxConfig{BatchSize: len(rows) + 1, PollIntervalMS: 50, MaxAttempts: maxAttempts}},
		Logger:     logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:         noopDB{},
		PubSub:     noopPubSub{},
		Repository: h.rows,
		Registry:   events,
		PublisherFactory: func(topic string) publisher {
			if p, ok := h.publishers[topic]; ok {
				return p
			}
			return nil
		},
		DLQRepository: h.dlq,
		Metrics:       metrics.NewOutboxMetrics(h.registry),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) run(t *testing.T) bool {
	t.Helper()
	processed, err := h.svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	return processed
}

// outboxRow builds a row whose payload is a valid envelope for eventType.
func outboxRow(t *testing.T, eventType enums.OutboxEventType, aggregateID uuid.UUID) models.OutboxEvent {
	t.Helper()
	id := uuid.New()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: eventType.Aggregate(),
		AggregateID:   aggregateID,
		Payload:       raw,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestProcessBatchSettlesRowsIndependently(t *testing.T) {
	failing := outboxRow(t, enums.EventLowStockDetected, uuid.New())
	ok := outboxRow(t, enums.EventStockReceived, uuid.New())
	h := newHarness(t, 5, failing, ok)
	h.publishers[testInventoryTopic].fail(errors.New("transient"))

	if !h.run(t) {
		t.Fatal("expected a non-empty batch")
	}
	if want := []uuid.UUID{failing.ID}; !equalIDs(h.rows.failed, want) {
		t.Fatalf("failed rows %v, want %v", h.rows.failed, want)
	}
	if want := []uuid.UUID{ok.ID}; !equalIDs(h.rows.published, want) {
		t.Fatalf("published rows %v, want %v", h.rows.published, want)
	}
	if len(h.dlq.entries) != 0 {
		t.Fatalf("transient failure should not dead-letter")
	}
}

func TestProcessBatchIdleWhenNothingPending(t *testing.T) {
	h := newHarness(t, 5)
	if h.run(t) {
		t.Fatal("empty batch should report idle")
	}
}

func TestOrderedPublishResumesKeyAfterFailure(t *testing.T) {
	cartID := uuid.New()
	merged := outboxRow(t, enums.EventCartMerged, cartID)
	checkedOut := outboxRow(t, enums.EventCartCheckedOut, cartID)
	h := newHarness(t, 5, merged, checkedOut)
	cartPub := h.publishers[testCartTopic]
	cartPub.fail(errors.New("unavailable"))

	h.run(t)

	key := "cart:" + cartID.String()
	if len(cartPub.sent) != 2 {
		t.Fatalf("expected two publishes, got %d", len(cartPub.sent))
	}
	for _, msg := range cartPub.sent {
		if msg.OrderingKey != key || msg.Attributes["aggregate_id"] != cartID.String() {
			t.Fatalf("unexpected message routing: key=%q attrs=%v", msg.OrderingKey, msg.Attributes)
		}
		if !bytes.Equal(msg.Data, checkedOut.Payload) && !bytes.Equal(msg.Data, merged.Payload) {
			t.Fatalf("message data is not the stored envelope")
		}
	}
	if len(cartPub.resumed) != 1 || cartPub.resumed[0] != key {
		t.Fatalf("resumed keys %v, want [%s]", cartPub.resumed, key)
	}

	expected := `
# HELP cartreserve_outbox_events_total Outbox rows handled by the publisher, by event type and outcome.
# TYPE cartreserve_outbox_events_total counter
cartreserve_outbox_events_total{event_type="cart_checked_out",outcome="published"} 1
cartreserve_outbox_events_total{event_type="cart_merged",outcome="retry"} 1
`
	if err := testutil.GatherAndCompare(h.registry, strings.NewReader(expected), "cartreserve_outbox_events_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestDedupGuard(t *testing.T) {
	t.Run("already handed off", func(t *testing.T) {
		row := outboxRow(t, enums.EventCartAbandoned, uuid.New())
		h := newHarness(t, 5, row)
		h.svc.dedup = &memDedup{seen: map[uuid.UUID]bool{row.ID: true}}

		h.run(t)

		if n := len(h.publishers[testCartTopic].sent); n != 0 {
			t.Fatalf("deduped row published %d times", n)
		}
		if !equalIDs(h.rows.published, []uuid.UUID{row.ID}) {
			t.Fatalf("deduped row should still be marked published")
		}
	})

	t.Run("failed publish clears mark", func(t *testing.T) {
		row := outboxRow(t, enums.EventCartMerged, uuid.New())
		h := newHarness(t, 5, row)
		dedup := &memDedup{seen: map[uuid.UUID]bool{}}
		h.svc.dedup = dedup
		h.publishers[testCartTopic].fail(errors.New("unavailable"))

		h.run(t)

		if dedup.seen[row.ID] {
			t.Fatal("dedup mark should be cleared after a failed publish")
		}
		if !equalIDs(h.rows.failed, []uuid.UUID{row.ID}) {
			t.Fatalf("expected failure recorded, got %v", h.rows.failed)
		}
	})
}

func TestDeadLetterReasons(t *testing.T) {
	cases := []struct {
		name       string
		row        func(t *testing.T) models.OutboxEvent
		prepare    func(h *harness)
		wantReason enums.OutboxDLQErrorReason
	}{
		{
			name: "undecodable envelope",
			row: func(t *testing.T) models.OutboxEvent {
				row := outboxRow(t, enums.EventLowStockDetected, uuid.New())
				row.Payload = json.RawMessage(`{"version":1,"eventId":""}`)
				return row
			},
			wantReason: enums.OutboxDLQReasonNonRetryable,
		},
		{
			name: "topic without publisher",
			row: func(t *testing.T) models.OutboxEvent {
				return outboxRow(t, enums.EventCartCheckedOut, uuid.New())
			},
			prepare:    func(h *harness) { delete(h.publishers, testCartTopic) },
			wantReason: enums.OutboxDLQReasonNonRetryable,
		},
		{
			name: "attempts exhausted",
			row: func(t *testing.T) models.OutboxEvent {
				row := outboxRow(t, enums.EventStockReceived, uuid.New())
				row.AttemptCount = 2
				return row
			},
			prepare:    func(h *harness) { h.publishers[testInventoryTopic].fail(errors.New("transient")) },
			wantReason: enums.OutboxDLQReasonMaxAttempts,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := tc.row(t)
			h := newHarness(t, 3, row)
			if tc.prepare != nil {
				tc.prepare(h)
			}

			h.run(t)

			if len(h.dlq.entries) != 1 {
				t.Fatalf("expected one dlq entry, got %d", len(h.dlq.entries))
			}
			entry := h.dlq.entries[0]
			if entry.EventID != row.ID || entry.ErrorReason != tc.wantReason {
				t.Fatalf("dlq entry %s/%s, want %s/%s", entry.EventID, entry.ErrorReason, row.ID, tc.wantReason)
			}
			if !bytes.Equal(entry.Payload, row.Payload) || entry.ErrorMessage == nil {
				t.Fatalf("dlq entry should carry the payload and error")
			}
			if h.rows.terminal[row.ID] != 3 {
				t.Fatalf("row not pinned at max attempts: %v", h.rows.terminal)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	if got := nextBackoff(0, time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("first backoff %v", got)
	}
	if got := nextBackoff(8*time.Second, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("backoff should cap, got %v", got)
	}
	for range 20 {
		if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
	if withJitter(0) != 0 {
		t.Fatal("zero wait should stay zero")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func equalIDs(got, want []uuid.UUID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

type memOutbox struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  map[uuid.UUID]int
}

func (m *memOutbox) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	return m.events[:min(limit, len(m.events))], nil
}

func (m *memOutbox) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	m.published = append(m.published, id)
	return nil
}

func (m *memOutbox) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	m.failed = append(m.failed, id)
	return nil
}

func (m *memOutbox) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, attempts int) error {
	if m.terminal == nil {
		m.terminal = map[uuid.UUID]int{}
	}
	m.terminal[id] = attempts
	return nil
}

type memDLQ struct {
	entries []models.OutboxDLQ
}

func (m *memDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	m.entries = append(m.entries, entry)
	return nil
}

type memDedup struct {
	seen map[uuid.UUID]bool
}

func (m *memDedup) Claim(_ context.Context, eventID uuid.UUID) (bool, error) {
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memDedup) Release(_ context.Context, eventID uuid.UUID) error {
	delete(m.seen, eventID)
	return nil
}

// scriptedPublisher fails the queued number of publishes, then succeeds.
type scriptedPublisher struct {
	errs    []error
	sent    []*gcppubsub.Message
	resumed []string
}

func (p *scriptedPublisher) fail(err error) { p.errs = append(p.errs, err) }

func (p *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.sent = append(p.sent, msg)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	return settled{err: err}
}

func (p *scriptedPublisher) Resume(orderingKey string) {
	p.resumed = append(p.resumed, orderingKey)
}

type settled struct{ err error }

func (s settled) Get(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "server-id", nil
}

type noopDB struct{}

func (noopDB) Ping(context.Context) error { return nil }

func (noopDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type noopPubSub struct{}

func (noopPubSub) Ping(context.Context) error { return nil }

func (noopPubSub) Publisher(string) *gcppubsub.Publisher { return nil }
