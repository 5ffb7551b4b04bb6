package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
)

// Cart is a shopper cart. OwnerID is nil for guest carts, which are addressed only by ID.
type Cart struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID       *string          `gorm:"column:owner_id;uniqueIndex:ux_carts_owner_active,where:status = 'active' AND owner_id IS NOT NULL"`
	Status        enums.CartStatus `gorm:"column:status;type:cart_status_enum;not null;default:'active';index:ix_carts_status_created"`
	ConvertedInto *uuid.UUID       `gorm:"column:converted_into;type:uuid"`
	Items         []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime;index:ix_carts_status_created"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Cart) TableName() string { return "carts" }

func (c *Cart) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = enums.CartStatusActive
	}
	return nil
}

// IsGuest reports whether the cart has no authenticated owner.
func (c Cart) IsGuest() bool {
	return c.OwnerID == nil
}

// CartItem is a cart line. Quantity always equals the units reserved for this cart and product.
type CartItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_product"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_cart_items_cart_product"`
	Quantity  int       `gorm:"column:quantity;not null;check:chk_cart_items_quantity,quantity >= 1"`
	// UnitPrice is the catalog price captured when the product was first added, in minor units.
	UnitPrice int64     `gorm:"column:unit_price;not null;check:chk_cart_items_unit_price,unit_price >= 0"`
	Currency  string    `gorm:"column:currency;type:char(3);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CartItem) TableName() string { return "cart_items" }

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
