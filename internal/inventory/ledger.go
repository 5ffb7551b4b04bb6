// Package inventory owns the stock and reserved counters of every product.
// Ledger is the only code that writes those counters.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

const (
	tracerName       = "cartreserve/inventory"
	defaultThreshold = 10
)

// adjustSQL applies both deltas only when the resulting counters keep 0 <= reserved <= stock.
const adjustSQL = `UPDATE inventory_records
SET stock = stock + ?, reserved = reserved + ?, updated_at = ?
WHERE product_id = ? AND reserved + ? >= 0 AND reserved + ? <= stock + ?`

// Adjustment describes one atomic change to a product's counters.
type Adjustment struct {
	ProductID     uuid.UUID
	StockDelta    int
	ReservedDelta int
	Reason        enums.AdjustmentReason
}

type LedgerParams struct {
	DB               *gorm.DB
	Outbox           outbox.Emitter
	Audit            *AdjustmentRepository
	Logger           *logger.Logger
	Metrics          *metrics.ReservationMetrics
	DefaultThreshold int
}

// Ledger applies conditional counter updates. A Ledger returned by WithTx runs inside the
// caller's transaction; otherwise every call opens its own.
type Ledger struct {
	db        *gorm.DB
	bound     bool
	outbox    outbox.Emitter
	audit     *AdjustmentRepository
	logg      *logger.Logger
	metrics   *metrics.ReservationMetrics
	threshold int
	tracer    trace.Tracer
	now       func() time.Time
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	audit := params.Audit
	if audit == nil {
		audit = NewAdjustmentRepository(params.DB)
	}
	threshold := params.DefaultThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Ledger{
		db:        params.DB,
		outbox:    params.Outbox,
		audit:     audit,
		logg:      params.Logger,
		metrics:   params.Metrics,
		threshold: threshold,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}, nil
}

// WithTx binds the ledger to tx so counter changes commit with the caller's other writes.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	clone := *l
	clone.db = tx
	clone.bound = true
	clone.audit = l.audit.WithTx(tx)
	return &clone
}

// Audit exposes the adjustment history bound to the same connection as the ledger.
func (l *Ledger) Audit() *AdjustmentRepository {
	return l.audit
}

func (l *Ledger) run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if l.bound {
		return fn(l.db.WithContext(ctx))
	}
	return l.db.WithContext(ctx).Transaction(fn)
}

// Adjust applies the deltas in one conditional UPDATE and returns the updated record.
// On rejection it reports NotFound, InvalidState (release beyond reserved) or InsufficientStock
// without writing anything.
func (l *Ledger) Adjust(ctx context.Context, adj Adjustment) (*models.InventoryRecord, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.adjust", trace.WithAttributes(
		attribute.String("product.id", adj.ProductID.String()),
		attribute.String("adjust.reason", adj.Reason.String()),
		attribute.Int("adjust.stock_delta", adj.StockDelta),
		attribute.Int("adjust.reserved_delta", adj.ReservedDelta),
	))
	defer span.End()

	record, err := l.adjust(ctx, adj)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(pkgerrors.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("inventory.stock", record.Stock),
		attribute.Int("inventory.reserved", record.Reserved),
	)
	return record, nil
}

func (l *Ledger) adjust(ctx context.Context, adj Adjustment) (*models.InventoryRecord, error) {
	if adj.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if adj.StockDelta == 0 && adj.ReservedDelta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "adjustment must change stock or reserved")
	}

	var record models.InventoryRecord
	err := l.run(ctx, func(tx *gorm.DB) error {
		res := tx.Exec(adjustSQL,
			adj.StockDelta, adj.ReservedDelta, l.now().UTC(),
			adj.ProductID, adj.ReservedDelta, adj.ReservedDelta, adj.StockDelta,
		)
		if res.Error != nil {
			return db.Classify(res.Error, "adjust inventory")
		}
		if res.RowsAffected == 0 {
			return l.diagnose(tx, adj)
		}
		if err := tx.Where("product_id = ?", adj.ProductID).First(&record).Error; err != nil {
			return db.Classify(err, "reload inventory record")
		}
		return l.maybeEmitLowStock(ctx, tx, adj, record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// diagnose explains why the conditional update matched no row. It never writes.
func (l *Ledger) diagnose(tx *gorm.DB, adj Adjustment) error {
	var current models.InventoryRecord
	err := tx.Where("product_id = ?", adj.ProductID).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found").
			WithDetails(map[string]any{"product_id": adj.ProductID.String()})
	}
	if err != nil {
		return db.Classify(err, "load inventory record")
	}
	if current.Reserved+adj.ReservedDelta < 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "release exceeds reserved quantity").
			WithDetails(map[string]any{
				"product_id": adj.ProductID.String(),
				"reserved":   current.Reserved,
				"requested":  -adj.ReservedDelta,
			})
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough stock").
		WithDetails(map[string]any{
			"product_id": adj.ProductID.String(),
			"available":  current.Available(),
			"requested":  adj.ReservedDelta,
		})
}

func (l *Ledger) maybeEmitLowStock(ctx context.Context, tx *gorm.DB, adj Adjustment, record models.InventoryRecord) error {
	before := (record.Stock - adj.StockDelta) - (record.Reserved - adj.ReservedDelta)
	after := record.Available()
	if before <= record.LowStockThreshold || after > record.LowStockThreshold {
		return nil
	}
	l.metrics.IncLowStock()
	logCtx := l.logg.WithProductID(ctx, record.ProductID.String())
	logCtx = l.logg.WithFields(logCtx, map[string]any{"available": after, "threshold": record.LowStockThreshold})
	l.logg.Warn(logCtx, "low stock detected")
	return l.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLowStockDetected,
		AggregateType: enums.AggregateInventory,
		AggregateID:   record.ProductID,
		Actor:         &outbox.ActorRef{Source: string(adj.Reason)},
		Data: payloads.LowStockDetectedEvent{
			ProductID: record.ProductID,
			Stock:     record.Stock,
			Reserved:  record.Reserved,
			Available: after,
			Threshold: record.LowStockThreshold,
		},
	})
}

// Ensure creates an empty record for productID if none exists and returns the current row.
func (l *Ledger) Ensure(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error) {
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	var record models.InventoryRecord
	err := l.run(ctx, func(tx *gorm.DB) error {
		seed := models.InventoryRecord{ProductID: productID, LowStockThreshold: l.threshold}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return db.Classify(err, "ensure inventory record")
		}
		if err := tx.Where("product_id = ?", productID).First(&record).Error; err != nil {
			return db.Classify(err, "load inventory record")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Get returns the record or NotFound.
func (l *Ledger) Get(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	err := l.db.WithContext(ctx).Where("product_id = ?", productID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
		}
		return nil, db.Classify(err, "load inventory record")
	}
	return &record, nil
}

// ReceiveStock adds qty units to stock, creating the record on first receipt.
func (l *Ledger) ReceiveStock(ctx context.Context, productID uuid.UUID, qty int, note string) (*models.InventoryRecord, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "received quantity must be positive")
	}
	var record *models.InventoryRecord
	err := l.run(ctx, func(tx *gorm.DB) error {
		bound := l.WithTx(tx)
		if _, err := bound.Ensure(ctx, productID); err != nil {
			return err
		}
		updated, err := bound.Adjust(ctx, Adjustment{
			ProductID:  productID,
			StockDelta: qty,
			Reason:     enums.AdjustmentStockReceipt,
		})
		if err != nil {
			return err
		}
		entry := NewAuditEntry(*updated, nil, 0, qty, enums.AdjustmentStockReceipt)
		if note != "" {
			entry.Note = &note
		}
		if err := bound.audit.Append(ctx, entry); err != nil {
			return err
		}
		record = updated
		return l.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventStockReceived,
			AggregateType: enums.AggregateInventory,
			AggregateID:   productID,
			Data: payloads.StockReceivedEvent{
				ProductID: productID,
				Quantity:  qty,
				Stock:     updated.Stock,
				Reserved:  updated.Reserved,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SetThreshold changes the low-stock alert level for a product.
func (l *Ledger) SetThreshold(ctx context.Context, productID uuid.UUID, threshold int) (*models.InventoryRecord, error) {
	if threshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold must be non-negative")
	}
	res := l.db.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("product_id = ?", productID).
		Updates(map[string]any{"low_stock_threshold": threshold, "updated_at": l.now().UTC()})
	if res.Error != nil {
		return nil, db.Classify(res.Error, "update threshold")
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
	}
	return l.Get(ctx, productID)
}
