package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
)

// ReservationAdjustment is an append-only audit row for every counter change.
type ReservationAdjustment struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ProductID        uuid.UUID              `gorm:"column:product_id;type:uuid;not null;index:ix_reservation_adjustments_product_cart"`
	CartID           *uuid.UUID             `gorm:"column:cart_id;type:uuid;index:ix_reservation_adjustments_product_cart"`
	Delta            int                    `gorm:"column:delta;not null"`
	StockDelta       int                    `gorm:"column:stock_delta;not null;default:0"`
	Reason           enums.AdjustmentReason `gorm:"column:reason;type:adjustment_reason_enum;not null"`
	PreviousStock    int                    `gorm:"column:previous_stock;not null"`
	NewStock         int                    `gorm:"column:new_stock;not null"`
	PreviousReserved int                    `gorm:"column:previous_reserved;not null"`
	NewReserved      int                    `gorm:"column:new_reserved;not null"`
	Note             *string                `gorm:"column:note"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (ReservationAdjustment) TableName() string { return "reservation_adjustments" }

func (a *ReservationAdjustment) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
