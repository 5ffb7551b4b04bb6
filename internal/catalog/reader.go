// Package catalog reads product price snapshots from the catalog read model.
// The catalog itself is owned by another service; this package never writes products.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/redis"
)

const defaultCacheTTL = 2 * time.Minute

// Product is the subset of catalog data a cart line snapshots.
type Product struct {
	ID       uuid.UUID `json:"id"`
	SKU      string    `json:"sku"`
	Name     string    `json:"name"`
	Price    int64     `json:"price"`
	Currency string    `json:"currency"`
}

// cacheStore is the redis surface used for read-through caching.
type cacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CatalogProductKey(productID string) string
}

// Reader resolves products by ID. A nil cache disables caching.
type Reader struct {
	db    *gorm.DB
	cache cacheStore
	ttl   time.Duration
	logg  *logger.Logger
}

func NewReader(conn *gorm.DB, cache cacheStore, ttl time.Duration, logg *logger.Logger) (*Reader, error) {
	if conn == nil {
		return nil, fmt.Errorf("database required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Reader{db: conn, cache: cache, ttl: ttl, logg: logg}, nil
}

// GetProduct returns the active product or NotFound. Cache failures fall back to the database.
func (r *Reader) GetProduct(ctx context.Context, productID uuid.UUID) (Product, error) {
	if productID == uuid.Nil {
		return Product{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if product, ok := r.fromCache(ctx, productID); ok {
		return product, nil
	}

	var row models.CatalogProduct
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", productID, true).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Product{}, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
				WithDetails(map[string]any{"product_id": productID.String()})
		}
		return Product{}, db.Classify(err, "load catalog product")
	}

	product, err := toProduct(row)
	if err != nil {
		return Product{}, err
	}
	r.store(ctx, product)
	return product, nil
}

// Invalidate drops the cached snapshot so the next read goes to the database.
func (r *Reader) Invalidate(ctx context.Context, productID uuid.UUID) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, r.cache.CatalogProductKey(productID.String()))
}

func (r *Reader) fromCache(ctx context.Context, productID uuid.UUID) (Product, bool) {
	if r.cache == nil {
		return Product{}, false
	}
	raw, err := r.cache.Get(ctx, r.cache.CatalogProductKey(productID.String()))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.warn(ctx, "catalog cache read failed", err)
		}
		return Product{}, false
	}
	var product Product
	if err := json.Unmarshal([]byte(raw), &product); err != nil {
		r.warn(ctx, "catalog cache entry corrupt", err)
		return Product{}, false
	}
	return product, true
}

func (r *Reader) store(ctx context.Context, product Product) {
	if r.cache == nil {
		return
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, r.cache.CatalogProductKey(product.ID.String()), string(payload), r.ttl); err != nil {
		r.warn(ctx, "catalog cache write failed", err)
	}
}

func (r *Reader) warn(ctx context.Context, msg string, err error) {
	if r.logg == nil {
		return
	}
	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), msg)
}

func toProduct(row models.CatalogProduct) (Product, error) {
	if row.Price < 0 {
		return Product{}, pkgerrors.New(pkgerrors.CodeInvalidState, "catalog price is negative").
			WithDetails(map[string]any{"product_id": row.ID.String()})
	}
	unit, err := currency.ParseISO(row.Currency)
	if err != nil {
		return Product{}, pkgerrors.Wrap(pkgerrors.CodeInvalidState, err, "catalog currency is invalid")
	}
	return Product{
		ID:       row.ID,
		SKU:      row.SKU,
		Name:     row.Name,
		Price:    row.Price,
		Currency: unit.String(),
	}, nil
}
