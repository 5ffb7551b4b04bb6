package cron

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/cartreserve-backend/internal/cart"
	"github.com/angelmondragon/cartreserve-backend/internal/inventory"
	"github.com/angelmondragon/cartreserve-backend/internal/reservation"
	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

type sweepFixture struct {
	conn     *gorm.DB
	ledger   *inventory.Ledger
	coord    *reservation.Coordinator
	carts    *cart.Repository
	job      *guestCartSweepJob
	registry *prometheus.Registry
	now      time.Time
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:sweep_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(
		&models.Cart{},
		&models.CartItem{},
		&models.InventoryRecord{},
		&models.ReservationAdjustment{},
		&models.OutboxEvent{},
	))

	logg := logger.New(logger.Options{ServiceName: "sweep-test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	ledger, err := inventory.NewLedger(inventory.LedgerParams{DB: conn, Outbox: emitter, Logger: logg})
	require.NoError(t, err)
	coord, err := reservation.NewCoordinator(reservation.CoordinatorParams{DB: conn, Ledger: ledger, Outbox: emitter, Logger: logg})
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	carts := cart.NewRepository(conn)
	jobIface, err := NewGuestCartSweepJob(GuestCartSweepJobParams{
		Logger:         logg,
		DB:             db.NewWithConn(conn),
		Carts:          carts,
		Coordinator:    coord,
		Outbox:         emitter,
		Metrics:        metrics.NewCronJobMetrics(registry),
		Retention:      7 * 24 * time.Hour,
		CartsPerSecond: 1000,
	})
	require.NoError(t, err)
	job := jobIface.(*guestCartSweepJob)
	now := time.Now().UTC()
	job.now = func() time.Time { return now }
	return &sweepFixture{conn: conn, ledger: ledger, coord: coord, carts: carts, job: job, registry: registry, now: now}
}

func (f *sweepFixture) stock(t *testing.T, qty int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.ledger.ReceiveStock(context.Background(), id, qty, "")
	require.NoError(t, err)
	return id
}

// cartWith creates a cart of the given age whose lines are backed by real reservations.
func (f *sweepFixture) cartWith(t *testing.T, owner *string, age time.Duration, lines map[uuid.UUID]int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	c := &models.Cart{OwnerID: owner}
	require.NoError(t, f.carts.Create(ctx, c))
	for productID, qty := range lines {
		_, err := f.coord.Reserve(ctx, c.ID, productID, qty)
		require.NoError(t, err)
		require.NoError(t, f.carts.CreateItem(ctx, &models.CartItem{CartID: c.ID, ProductID: productID, Quantity: qty, UnitPrice: 1000, Currency: "VND"}))
	}
	require.NoError(t, f.conn.Model(&models.Cart{}).Where("id = ?", c.ID).UpdateColumn("created_at", f.now.Add(-age)).Error)
	return c.ID
}

func (f *sweepFixture) reserved(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	record, err := f.ledger.Get(context.Background(), productID)
	require.NoError(t, err)
	return record.Reserved
}

func (f *sweepFixture) status(t *testing.T, cartID uuid.UUID) enums.CartStatus {
	t.Helper()
	c, err := f.carts.FindByID(context.Background(), cartID)
	require.NoError(t, err)
	return c.Status
}

func (f *sweepFixture) abandonedEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventCartAbandoned).Count(&n).Error)
	return n
}

func TestGuestCartSweepReleasesStaleGuestCarts(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	p := f.stock(t, 10)
	owner := "user-1"

	stale := f.cartWith(t, nil, 10*24*time.Hour, map[uuid.UUID]int{p: 2})
	fresh := f.cartWith(t, nil, time.Hour, map[uuid.UUID]int{p: 1})
	owned := f.cartWith(t, &owner, 30*24*time.Hour, map[uuid.UUID]int{p: 3})
	require.Equal(t, 6, f.reserved(t, p))

	require.NoError(t, f.job.Run(ctx))

	require.Equal(t, 4, f.reserved(t, p))
	require.Equal(t, enums.CartStatusAbandoned, f.status(t, stale))
	require.Equal(t, enums.CartStatusActive, f.status(t, fresh))
	require.Equal(t, enums.CartStatusActive, f.status(t, owned))

	items, err := f.carts.ListItems(ctx, stale)
	require.NoError(t, err)
	require.Empty(t, items)
	attributed, err := f.coord.Attributed(ctx, stale, p)
	require.NoError(t, err)
	require.Zero(t, attributed)
	require.EqualValues(t, 1, f.abandonedEvents(t))

	// Abandoned carts never match again.
	require.NoError(t, f.job.Run(ctx))
	require.Equal(t, 4, f.reserved(t, p))
	require.EqualValues(t, 1, f.abandonedEvents(t))

	require.EqualValues(t, 1, processed(t, f.registry, "abandoned"))
	require.EqualValues(t, 2, processed(t, f.registry, "units_released"))
}

func TestGuestCartSweepAbandonsCartWhenALineFails(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	p := f.stock(t, 10)
	q := f.stock(t, 10)

	cartID := f.cartWith(t, nil, 8*24*time.Hour, map[uuid.UUID]int{p: 2})
	// A line with no reservation behind it cannot be released.
	require.NoError(t, f.carts.CreateItem(ctx, &models.CartItem{CartID: cartID, ProductID: q, Quantity: 4, UnitPrice: 1000, Currency: "VND"}))

	require.NoError(t, f.job.Run(ctx))

	require.Zero(t, f.reserved(t, p))
	require.Zero(t, f.reserved(t, q))
	require.Equal(t, enums.CartStatusAbandoned, f.status(t, cartID))
	items, err := f.carts.ListItems(ctx, cartID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, q, items[0].ProductID)
	require.EqualValues(t, 1, f.abandonedEvents(t))
	require.EqualValues(t, 1, processed(t, f.registry, "line_failed"))

	var event models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", enums.EventCartAbandoned).First(&event).Error)
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	require.NoError(t, err)
	var payload payloads.CartAbandonedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.Equal(t, 1, payload.ReleasedLines)
	require.Equal(t, 1, payload.FailedLines)
}

func TestGuestCartSweepIsNotBlockedByUnreleasableCarts(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	p := f.stock(t, 10)
	q := f.stock(t, 10)
	f.job.batch = 1

	stuck := f.cartWith(t, nil, 20*24*time.Hour, nil)
	require.NoError(t, f.carts.CreateItem(ctx, &models.CartItem{CartID: stuck, ProductID: q, Quantity: 1, UnitPrice: 1000, Currency: "VND"}))
	healthy := f.cartWith(t, nil, 10*24*time.Hour, map[uuid.UUID]int{p: 2})

	for range 2 {
		require.NoError(t, f.job.Run(ctx))
	}

	require.Equal(t, enums.CartStatusAbandoned, f.status(t, stuck))
	require.Equal(t, enums.CartStatusAbandoned, f.status(t, healthy))
	require.Zero(t, f.reserved(t, p))
}

func TestNewGuestCartSweepJobValidates(t *testing.T) {
	_, err := NewGuestCartSweepJob(GuestCartSweepJobParams{})
	require.Error(t, err)
}

func processed(t *testing.T, registry *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "cartreserve_cron_items_processed_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
