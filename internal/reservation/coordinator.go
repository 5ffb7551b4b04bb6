// Package reservation translates cart intents into inventory ledger adjustments and
// attributes every reserved unit to a cart in the adjustment history.
package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/internal/inventory"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/metrics"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

type CoordinatorParams struct {
	DB      *gorm.DB
	Ledger  *inventory.Ledger
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Metrics *metrics.ReservationMetrics
}

// Coordinator holds no state of its own; the ledger row and the audit trail are the truth.
type Coordinator struct {
	db      *gorm.DB
	bound   bool
	ledger  *inventory.Ledger
	outbox  outbox.Emitter
	logg    *logger.Logger
	metrics *metrics.ReservationMetrics
}

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Coordinator{
		db:      params.DB,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// WithTx returns a coordinator whose ledger writes and audit rows join tx.
func (c *Coordinator) WithTx(tx *gorm.DB) *Coordinator {
	if tx == nil {
		return c
	}
	clone := *c
	clone.db = tx
	clone.bound = true
	return &clone
}

func (c *Coordinator) run(ctx context.Context, fn func(tx *gorm.DB, ledger *inventory.Ledger) error) error {
	if c.bound {
		return fn(c.db, c.ledger.WithTx(c.db))
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, c.ledger.WithTx(tx))
	})
}

// Reserve claims qty units of productID for cartID. InsufficientStock is returned unchanged.
func (c *Coordinator) Reserve(ctx context.Context, cartID, productID uuid.UUID, qty int) (*models.InventoryRecord, error) {
	return c.ReserveFor(ctx, cartID, productID, qty, enums.AdjustmentCartAdd)
}

// Release returns qty units previously reserved by cartID to the pool.
func (c *Coordinator) Release(ctx context.Context, cartID, productID uuid.UUID, qty int) (*models.InventoryRecord, error) {
	return c.ReleaseFor(ctx, cartID, productID, qty, enums.AdjustmentCartRelease)
}

func (c *Coordinator) ReserveFor(ctx context.Context, cartID, productID uuid.UUID, qty int, reason enums.AdjustmentReason) (*models.InventoryRecord, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "reserve quantity must be positive")
	}
	return c.apply(ctx, cartID, inventory.Adjustment{ProductID: productID, ReservedDelta: qty, Reason: reason})
}

func (c *Coordinator) ReleaseFor(ctx context.Context, cartID, productID uuid.UUID, qty int, reason enums.AdjustmentReason) (*models.InventoryRecord, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "release quantity must be positive")
	}
	return c.apply(ctx, cartID, inventory.Adjustment{ProductID: productID, ReservedDelta: -qty, Reason: reason})
}

// EnsureStock returns the product's inventory record, creating an empty one on first sight.
func (c *Coordinator) EnsureStock(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error) {
	var record *models.InventoryRecord
	err := c.run(ctx, func(_ *gorm.DB, ledger *inventory.Ledger) error {
		var err error
		record, err = ledger.Ensure(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ChangeBy reserves a positive delta, releases a negative one and does nothing at zero.
func (c *Coordinator) ChangeBy(ctx context.Context, cartID, productID uuid.UUID, delta int) error {
	var err error
	switch {
	case delta > 0:
		_, err = c.Reserve(ctx, cartID, productID, delta)
	case delta < 0:
		_, err = c.Release(ctx, cartID, productID, -delta)
	}
	return err
}

// Commit converts a reservation into a sale: stock and reserved both drop by qty.
func (c *Coordinator) Commit(ctx context.Context, cartID, productID uuid.UUID, qty int) (*models.InventoryRecord, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "commit quantity must be positive")
	}
	return c.apply(ctx, cartID, inventory.Adjustment{
		ProductID:     productID,
		StockDelta:    -qty,
		ReservedDelta: -qty,
		Reason:        enums.AdjustmentCheckoutCommit,
	})
}

// Reattribute moves qty reserved units from one cart to another. Counters do not change.
func (c *Coordinator) Reattribute(ctx context.Context, fromCartID, toCartID, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "reattribute quantity must be positive")
	}
	return c.run(ctx, func(tx *gorm.DB, ledger *inventory.Ledger) error {
		record, err := ledger.Get(ctx, productID)
		if err != nil {
			return err
		}
		from, to := fromCartID, toCartID
		out := inventory.NewAuditEntry(*record, &from, 0, 0, enums.AdjustmentCartMerge)
		out.Delta = -qty
		in := inventory.NewAuditEntry(*record, &to, 0, 0, enums.AdjustmentCartMerge)
		in.Delta = qty
		return ledger.Audit().Append(ctx, out, in)
	})
}

// Attributed returns the net reserved units the audit trail assigns to cartID for productID.
func (c *Coordinator) Attributed(ctx context.Context, cartID, productID uuid.UUID) (int, error) {
	return inventory.NewAdjustmentRepository(c.db).NetReserved(ctx, cartID, productID)
}

func (c *Coordinator) apply(ctx context.Context, cartID uuid.UUID, adj inventory.Adjustment) (*models.InventoryRecord, error) {
	started := time.Now()
	var record *models.InventoryRecord
	err := c.run(ctx, func(tx *gorm.DB, ledger *inventory.Ledger) error {
		// A product never stocked still gets a record, so reserving it reads as out of stock.
		if adj.ReservedDelta > 0 && adj.StockDelta == 0 {
			if _, err := ledger.Ensure(ctx, adj.ProductID); err != nil {
				return err
			}
		}
		updated, err := ledger.Adjust(ctx, adj)
		if err != nil {
			return err
		}
		id := cartID
		if err := ledger.Audit().Append(ctx, inventory.NewAuditEntry(*updated, &id, adj.ReservedDelta, adj.StockDelta, adj.Reason)); err != nil {
			return err
		}
		if adj.Reason == enums.AdjustmentSweepRelease {
			if err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationReleased,
				AggregateType: enums.AggregateInventory,
				AggregateID:   adj.ProductID,
				Actor:         &outbox.ActorRef{Source: string(adj.Reason)},
				Data: payloads.ReservationReleasedEvent{
					CartID:    cartID,
					ProductID: adj.ProductID,
					Quantity:  -adj.ReservedDelta,
					Reason:    adj.Reason,
				},
			}); err != nil {
				return err
			}
		}
		record = updated
		return nil
	})
	outcome := "ok"
	if err != nil {
		outcome = string(pkgerrors.CodeOf(err))
	}
	c.metrics.ObserveAdjust(adj.Reason.String(), outcome, time.Since(started))
	if err != nil {
		if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			logCtx := c.logg.WithCartID(ctx, cartID.String())
			logCtx = c.logg.WithProductID(logCtx, adj.ProductID.String())
			c.logg.Error(logCtx, "reservation adjust failed", err)
		}
		return nil, err
	}
	return record, nil
}
