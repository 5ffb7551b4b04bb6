package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRecord holds the stock and reserved counters for one product.
// The database enforces 0 <= reserved <= stock.
type InventoryRecord struct {
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Stock             int       `gorm:"column:stock;not null;default:0"`
	Reserved          int       `gorm:"column:reserved;not null;default:0;check:chk_inventory_reserved_bounds,reserved >= 0 AND reserved <= stock"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null;default:10"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryRecord) TableName() string { return "inventory_records" }

// Available returns stock - reserved.
func (r InventoryRecord) Available() int {
	return r.Stock - r.Reserved
}

// IsLowStock reports whether available units are at or below the alert threshold.
func (r InventoryRecord) IsLowStock() bool {
	return r.Available() <= r.LowStockThreshold
}
