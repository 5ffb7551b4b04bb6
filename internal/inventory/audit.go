package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
)

// AdjustmentRepository appends and reads the reservation_adjustments history.
// The reservation algorithm never reads it; reconciliation and tests do.
type AdjustmentRepository struct {
	db *gorm.DB
}

func NewAdjustmentRepository(conn *gorm.DB) *AdjustmentRepository {
	return &AdjustmentRepository{db: conn}
}

func (r *AdjustmentRepository) WithTx(tx *gorm.DB) *AdjustmentRepository {
	if tx == nil {
		return r
	}
	return &AdjustmentRepository{db: tx}
}

// NewAuditEntry builds an audit row from the post-update record and the deltas that produced it.
func NewAuditEntry(after models.InventoryRecord, cartID *uuid.UUID, reservedDelta, stockDelta int, reason enums.AdjustmentReason) models.ReservationAdjustment {
	return models.ReservationAdjustment{
		ProductID:        after.ProductID,
		CartID:           cartID,
		Delta:            reservedDelta,
		StockDelta:       stockDelta,
		Reason:           reason,
		PreviousStock:    after.Stock - stockDelta,
		NewStock:         after.Stock,
		PreviousReserved: after.Reserved - reservedDelta,
		NewReserved:      after.Reserved,
	}
}

func (r *AdjustmentRepository) Append(ctx context.Context, entries ...models.ReservationAdjustment) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return db.Classify(err, "append reservation adjustment")
	}
	return nil
}

// NetReserved sums reserved deltas attributed to cartID for productID.
func (r *AdjustmentRepository) NetReserved(ctx context.Context, cartID, productID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.ReservationAdjustment{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Scan(&total).Error
	if err != nil {
		return 0, db.Classify(err, "sum reservation adjustments")
	}
	return total, nil
}

// ListForProduct returns the newest adjustments for a product, most recent first.
func (r *AdjustmentRepository) ListForProduct(ctx context.Context, productID uuid.UUID, limit int) ([]models.ReservationAdjustment, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ReservationAdjustment
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, db.Classify(err, "list reservation adjustments")
	}
	return rows, nil
}
