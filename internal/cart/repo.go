package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/cartreserve-backend/pkg/db"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
)

// Repository persists carts and their lines.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	if err := r.db.WithContext(ctx).Omit("Items").Create(cart).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "owner already has an active cart")
		}
		return db.Classify(err, "create cart")
	}
	return nil
}

// FindByID loads a cart and its lines, oldest line first.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC").Order("id ASC") }).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, notFoundOr(err, "cart not found", "load cart")
	}
	return &cart, nil
}

// LockByID takes a row lock on the cart for the rest of the transaction. Lines are not loaded.
func (r *Repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, notFoundOr(err, "cart not found", "lock cart")
	}
	return &cart, nil
}

func (r *Repository) FindActiveByOwner(ctx context.Context, ownerID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, enums.CartStatusActive).
		First(&cart).Error
	if err != nil {
		return nil, notFoundOr(err, "cart not found", "load owner cart")
	}
	return &cart, nil
}

func (r *Repository) AssignOwner(ctx context.Context, id uuid.UUID, ownerID string) error {
	err := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", id).
		Updates(map[string]any{"owner_id": ownerID, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "owner already has an active cart")
		}
		return db.Classify(err, "assign cart owner")
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CartStatus, convertedInto *uuid.UUID) error {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	if convertedInto != nil {
		updates["converted_into"] = *convertedInto
	}
	err := r.db.WithContext(ctx).Model(&models.Cart{}).Where("id = ?", id).Updates(updates).Error
	return db.Classify(err, "update cart status")
}

// ListStaleGuestCarts returns active guest carts created before cutoff, oldest first.
func (r *Repository) ListStaleGuestCarts(ctx context.Context, cutoff time.Time, limit int) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Where("owner_id IS NULL AND status = ? AND created_at < ?", enums.CartStatusActive, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&carts).Error
	if err != nil {
		return nil, db.Classify(err, "list stale guest carts")
	}
	return carts, nil
}

func (r *Repository) ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, db.Classify(err, "list cart items")
	}
	return rows, nil
}

func (r *Repository) FindItem(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		First(&item).Error
	if err != nil {
		return nil, notFoundOr(err, "cart item not found", "load cart item")
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return db.Classify(r.db.WithContext(ctx).Create(item).Error, "create cart item")
}

func (r *Repository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	err := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"quantity": quantity, "updated_at": time.Now().UTC()}).Error
	return db.Classify(err, "update cart item")
}

func (r *Repository) MoveItem(ctx context.Context, itemID, toCartID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"cart_id": toCartID, "updated_at": time.Now().UTC()}).Error
	return db.Classify(err, "move cart item")
}

func (r *Repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	return db.Classify(r.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{}).Error, "delete cart item")
}

func notFoundOr(err error, notFoundMsg, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return db.Classify(err, op)
}
