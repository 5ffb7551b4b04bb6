package inventory

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/pagination"
)

// ListParams filters the inventory listing.
type ListParams struct {
	pagination.Params
	LowStockOnly bool
}

// List pages through inventory records ordered by creation time.
func (l *Ledger) List(ctx context.Context, params ListParams) (pagination.Page[models.InventoryRecord], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.InventoryRecord]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := l.db.WithContext(ctx).Model(&models.InventoryRecord{})
	if params.LowStockOnly {
		query = query.Where("stock - reserved <= low_stock_threshold")
	}
	if cursor != nil {
		query = query.Where("(created_at > ?) OR (created_at = ? AND product_id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.InventoryRecord
	err = query.
		Order("created_at ASC").
		Order("product_id ASC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return pagination.Page[models.InventoryRecord]{}, db.Classify(err, "list inventory")
	}
	return pagination.BuildPage(rows, params.Limit, recordCursor), nil
}

// LowStock lists products whose available units are at or below their threshold.
func (l *Ledger) LowStock(ctx context.Context, params pagination.Params) (pagination.Page[models.InventoryRecord], error) {
	return l.List(ctx, ListParams{Params: params, LowStockOnly: true})
}

func recordCursor(r models.InventoryRecord) pagination.Cursor {
	return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ProductID}
}

// History returns the most recent audit rows for productID, newest first.
func (l *Ledger) History(ctx context.Context, productID uuid.UUID, limit int) ([]models.ReservationAdjustment, error) {
	if _, err := l.Get(ctx, productID); err != nil {
		return nil, err
	}
	return l.audit.ListForProduct(ctx, productID, pagination.NormalizeLimit(limit))
}
