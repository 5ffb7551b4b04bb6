package inventory

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"pgregory.net/rapid"

	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/pagination"
)

func newTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:inventory_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.InventoryRecord{}, &models.ReservationAdjustment{}, &models.OutboxEvent{}))
	return conn
}

func newTestLedger(t testing.TB, conn *gorm.DB) (*Ledger, *outbox.Repository) {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "inventory-test", Output: io.Discard})
	repo := outbox.NewRepository(conn)
	ledger, err := NewLedger(LedgerParams{
		DB:     conn,
		Outbox: outbox.NewService(repo, logg),
		Logger: logg,
	})
	require.NoError(t, err)
	return ledger, repo
}

// seedProduct creates a record with the given stock and threshold.
func seedProduct(t testing.TB, ledger *Ledger, stock, threshold int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	productID := uuid.New()
	if stock > 0 {
		_, err := ledger.ReceiveStock(ctx, productID, stock, "seed")
		require.NoError(t, err)
	} else {
		_, err := ledger.Ensure(ctx, productID)
		require.NoError(t, err)
	}
	_, err := ledger.SetThreshold(ctx, productID, threshold)
	require.NoError(t, err)
	return productID
}

func countEvents(t testing.TB, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func TestNewLedgerValidatesDependencies(t *testing.T) {
	logg := logger.New(logger.Options{Output: io.Discard})
	if _, err := NewLedger(LedgerParams{Outbox: outbox.NewService(nil, logg), Logger: logg}); err == nil {
		t.Fatalf("expected error without db")
	}
	conn := newTestDB(t)
	if _, err := NewLedger(LedgerParams{DB: conn, Logger: logg}); err == nil {
		t.Fatalf("expected error without outbox")
	}
	if _, err := NewLedger(LedgerParams{DB: conn, Outbox: outbox.NewService(nil, logg)}); err == nil {
		t.Fatalf("expected error without logger")
	}
}

func TestAdjustReservesWithinStock(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 10, 0)

	record, err := ledger.Adjust(context.Background(), Adjustment{ProductID: productID, ReservedDelta: 4, Reason: enums.AdjustmentCartAdd})
	require.NoError(t, err)
	require.Equal(t, 10, record.Stock)
	require.Equal(t, 4, record.Reserved)
	require.Equal(t, 6, record.Available())
}

func TestAdjustRejections(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 5, 0)
	ctx := context.Background()

	_, err := ledger.Adjust(ctx, Adjustment{ProductID: productID, ReservedDelta: 3, Reason: enums.AdjustmentCartAdd})
	require.NoError(t, err)

	tests := []struct {
		name string
		adj  Adjustment
		code pkgerrors.Code
	}{
		{name: "zero deltas", adj: Adjustment{ProductID: productID}, code: pkgerrors.CodeInvalidState},
		{name: "nil product", adj: Adjustment{ReservedDelta: 1}, code: pkgerrors.CodeValidation},
		{name: "missing record", adj: Adjustment{ProductID: uuid.New(), ReservedDelta: 1}, code: pkgerrors.CodeNotFound},
		{name: "over reserve", adj: Adjustment{ProductID: productID, ReservedDelta: 3}, code: pkgerrors.CodeInsufficientStock},
		{name: "over release", adj: Adjustment{ProductID: productID, ReservedDelta: -4}, code: pkgerrors.CodeInvalidState},
		{name: "stock below reserved", adj: Adjustment{ProductID: productID, StockDelta: -3}, code: pkgerrors.CodeInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Adjust(ctx, tt.adj)
			if !pkgerrors.IsCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}

	record, err := ledger.Get(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, 5, record.Stock)
	require.Equal(t, 3, record.Reserved)
}

func TestInsufficientStockCarriesAvailability(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 2, 0)

	_, err := ledger.Adjust(context.Background(), Adjustment{ProductID: productID, ReservedDelta: 5, Reason: enums.AdjustmentCartAdd})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	require.Equal(t, 2, details["available"])
	require.Equal(t, 5, details["requested"])
}

func TestLowStockEmittedOnceOnCrossing(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 10, 5)
	ctx := context.Background()

	reserve := func(n int) {
		t.Helper()
		_, err := ledger.Adjust(ctx, Adjustment{ProductID: productID, ReservedDelta: n, Reason: enums.AdjustmentCartAdd})
		require.NoError(t, err)
	}

	reserve(4) // available 6
	require.Zero(t, countEvents(t, conn, enums.EventLowStockDetected))

	reserve(1) // available 5, crosses
	require.EqualValues(t, 1, countEvents(t, conn, enums.EventLowStockDetected))

	reserve(2) // still below
	require.EqualValues(t, 1, countEvents(t, conn, enums.EventLowStockDetected))

	_, err := ledger.Adjust(ctx, Adjustment{ProductID: productID, ReservedDelta: -5, Reason: enums.AdjustmentCartRelease})
	require.NoError(t, err)
	reserve(3) // back above then down again
	require.EqualValues(t, 2, countEvents(t, conn, enums.EventLowStockDetected))
}

// TestConcurrentReservesNeverOversell checks the outcome counts only: the sqlite pool holds
// one connection, so the adjusts run one at a time. Racing statements are exercised by
// TestPostgresConcurrentReservesNeverOversell.
func TestConcurrentReservesNeverOversell(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 5, 0)

	var ok, short atomic.Int32
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			_, err := ledger.Adjust(context.Background(), Adjustment{ProductID: productID, ReservedDelta: 1, Reason: enums.AdjustmentCartAdd})
			switch {
			case err == nil:
				ok.Add(1)
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 5, ok.Load())
	require.EqualValues(t, 7, short.Load())

	record, err := ledger.Get(context.Background(), productID)
	require.NoError(t, err)
	require.Equal(t, 5, record.Reserved)
}

func TestWithTxRollsBackWithCaller(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 5, 0)
	ctx := context.Background()

	err := conn.Transaction(func(tx *gorm.DB) error {
		if _, err := ledger.WithTx(tx).Adjust(ctx, Adjustment{ProductID: productID, ReservedDelta: 2, Reason: enums.AdjustmentCartAdd}); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "abort")
	})
	require.Error(t, err)

	record, err := ledger.Get(ctx, productID)
	require.NoError(t, err)
	require.Zero(t, record.Reserved)
}

func TestReceiveStockCreatesRecordAndAudits(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	ctx := context.Background()
	productID := uuid.New()

	record, err := ledger.ReceiveStock(ctx, productID, 7, "po-114")
	require.NoError(t, err)
	require.Equal(t, 7, record.Stock)

	record, err = ledger.ReceiveStock(ctx, productID, 3, "")
	require.NoError(t, err)
	require.Equal(t, 10, record.Stock)

	history, err := ledger.Audit().ListForProduct(ctx, productID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, entry := range history {
		require.Equal(t, enums.AdjustmentStockReceipt, entry.Reason)
		require.Equal(t, entry.PreviousStock+entry.StockDelta, entry.NewStock)
	}
	require.EqualValues(t, 2, countEvents(t, conn, enums.EventStockReceived))

	if _, err := ledger.ReceiveStock(ctx, productID, 0, ""); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetThreshold(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	productID := seedProduct(t, ledger, 4, 0)
	ctx := context.Background()

	record, err := ledger.SetThreshold(ctx, productID, 6)
	require.NoError(t, err)
	require.Equal(t, 6, record.LowStockThreshold)
	require.True(t, record.IsLowStock())

	if _, err := ledger.SetThreshold(ctx, productID, -1); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := ledger.SetThreshold(ctx, uuid.New(), 3); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPagesAndFiltersLowStock(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	ctx := context.Background()

	low := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		threshold := 0
		if i%2 == 0 {
			threshold = 100
		}
		id := seedProduct(t, ledger, 10, threshold)
		low[id] = threshold == 100
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		page, err := ledger.List(ctx, ListParams{Params: pagination.Params{Limit: 2, Cursor: cursor}})
		require.NoError(t, err)
		for _, item := range page.Items {
			require.False(t, seen[item.ProductID], "duplicate across pages")
			seen[item.ProductID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Len(t, seen, 5)

	page, err := ledger.LowStock(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	for _, item := range page.Items {
		require.True(t, low[item.ProductID])
	}

	if _, err := ledger.List(ctx, ListParams{Params: pagination.Params{Cursor: "%%%"}}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for bad cursor, got %v", err)
	}
}

// TestAdjustMatchesCounterModel drives random adjustments against a plain model of the
// counters and checks every accept/reject decision and the 0 <= reserved <= stock bound.
func TestAdjustMatchesCounterModel(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		stock := rapid.IntRange(1, 20).Draw(rt, "stock")
		productID := seedProduct(t, ledger, stock, 0)
		reserved := 0

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			stockDelta := rapid.IntRange(-3, 5).Draw(rt, "stock_delta")
			reservedDelta := rapid.IntRange(-6, 6).Draw(rt, "reserved_delta")
			if stockDelta == 0 && reservedDelta == 0 {
				continue
			}

			record, err := ledger.Adjust(ctx, Adjustment{
				ProductID:     productID,
				StockDelta:    stockDelta,
				ReservedDelta: reservedDelta,
				Reason:        enums.AdjustmentCartAdd,
			})

			nextStock, nextReserved := stock+stockDelta, reserved+reservedDelta
			accept := nextReserved >= 0 && nextReserved <= nextStock
			switch {
			case accept && err != nil:
				rt.Fatalf("step %d: expected accept, got %v", i, err)
			case !accept && err == nil:
				rt.Fatalf("step %d: expected reject for stock=%d reserved=%d deltas=(%d,%d)", i, stock, reserved, stockDelta, reservedDelta)
			case !accept && nextReserved < 0 && !pkgerrors.IsCode(err, pkgerrors.CodeInvalidState):
				rt.Fatalf("step %d: expected invalid state, got %v", i, err)
			case !accept && nextReserved >= 0 && !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				rt.Fatalf("step %d: expected insufficient stock, got %v", i, err)
			}
			if accept {
				stock, reserved = nextStock, nextReserved
				if record.Stock != stock || record.Reserved != reserved {
					rt.Fatalf("step %d: record (%d,%d) diverged from model (%d,%d)", i, record.Stock, record.Reserved, stock, reserved)
				}
			}
		}

		current, err := ledger.Get(ctx, productID)
		if err != nil {
			rt.Fatalf("get: %v", err)
		}
		if current.Reserved < 0 || current.Reserved > current.Stock {
			rt.Fatalf("bounds violated: stock=%d reserved=%d", current.Stock, current.Reserved)
		}
	})
}

func TestHistoryListsNewestFirst(t *testing.T) {
	conn := newTestDB(t)
	ledger, _ := newTestLedger(t, conn)
	ctx := context.Background()
	productID := seedProduct(t, ledger, 5, 1)
	_, err := ledger.ReceiveStock(ctx, productID, 3, "second delivery")
	require.NoError(t, err)

	rows, err := ledger.History(ctx, productID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 8, rows[0].NewStock)
	require.Equal(t, 5, rows[0].PreviousStock)
	require.NotNil(t, rows[0].Note)
	require.Equal(t, "second delivery", *rows[0].Note)

	_, err = ledger.History(ctx, uuid.New(), 10)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
