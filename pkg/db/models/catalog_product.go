package models

import (
	"time"

	"github.com/google/uuid"
)

// CatalogProduct is the read-only projection of the catalog used to snapshot prices.
type CatalogProduct struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SKU       string    `gorm:"column:sku;not null"`
	Name      string    `gorm:"column:name;not null"`
	Price     int64     `gorm:"column:price;not null"`
	Currency  string    `gorm:"column:currency;type:char(3);not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CatalogProduct) TableName() string { return "catalog_products" }
