package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/internal/catalog"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
)

// CartRepository defines the persistence surface required by the cart service and the sweeper.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	Create(ctx context.Context, cart *models.Cart) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	FindActiveByOwner(ctx context.Context, ownerID string) (*models.Cart, error)
	AssignOwner(ctx context.Context, id uuid.UUID, ownerID string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.CartStatus, convertedInto *uuid.UUID) error
	ListStaleGuestCarts(ctx context.Context, cutoff time.Time, limit int) ([]models.Cart, error)

	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	FindItem(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	MoveItem(ctx context.Context, itemID, toCartID uuid.UUID) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
}

// Catalog resolves the price snapshot taken when a product is first added.
type Catalog interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (catalog.Product, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
