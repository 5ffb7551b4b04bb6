package cart

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/internal/catalog"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
)

// AddItem reserves qty units and then creates or grows the line. The price is snapshotted
// on first add only. InsufficientStock leaves the cart untouched.
func (s *service) AddItem(ctx context.Context, cartID uuid.UUID, ownerID string, productID uuid.UUID, qty int) (*View, error) {
	ctx, span := s.startSpan(ctx, "cart.add_item", cartID)
	defer span.End()

	if qty <= 0 {
		return nil, endSpan(span, pkgerrors.New(pkgerrors.CodeInvalidState, "quantity must be at least 1"))
	}
	// Resolved before the transaction so the catalog read never holds the cart lock.
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if err := s.checkCurrency(product); err != nil {
		return nil, endSpan(span, err)
	}
	// Committed on its own so the record survives a rejected reservation.
	if _, err := s.coordinator.EnsureStock(ctx, productID); err != nil {
		return nil, endSpan(span, err)
	}

	view, err := s.mutate(ctx, cartID, ownerID, func(m mutation) error {
		existing, err := m.repo.FindItem(ctx, m.cart.ID, productID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return err
		}
		next := qty
		if existing != nil {
			next += existing.Quantity
		}
		if err := s.checkLineLimit(next); err != nil {
			return err
		}
		if _, err := m.coord.Reserve(ctx, m.cart.ID, productID, qty); err != nil {
			return err
		}
		if existing != nil {
			return m.repo.UpdateItemQuantity(ctx, existing.ID, next)
		}
		return m.repo.CreateItem(ctx, &models.CartItem{
			CartID:    m.cart.ID,
			ProductID: productID,
			Quantity:  qty,
			UnitPrice: product.Price,
			Currency:  strings.ToUpper(product.Currency),
		})
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	return view, nil
}

// SetItemQuantity moves the line to qty. qty <= 0 releases the whole line and deletes it.
func (s *service) SetItemQuantity(ctx context.Context, cartID uuid.UUID, ownerID string, productID uuid.UUID, qty int) (*View, error) {
	ctx, span := s.startSpan(ctx, "cart.set_item_quantity", cartID)
	defer span.End()

	view, err := s.mutate(ctx, cartID, ownerID, func(m mutation) error {
		item, err := m.repo.FindItem(ctx, m.cart.ID, productID)
		if err != nil {
			return err
		}
		if qty <= 0 {
			if _, err := m.coord.Release(ctx, m.cart.ID, productID, item.Quantity); err != nil {
				return err
			}
			return m.repo.DeleteItem(ctx, item.ID)
		}
		if err := s.checkLineLimit(qty); err != nil {
			return err
		}
		if err := m.coord.ChangeBy(ctx, m.cart.ID, productID, qty-item.Quantity); err != nil {
			return err
		}
		if qty == item.Quantity {
			return nil
		}
		return m.repo.UpdateItemQuantity(ctx, item.ID, qty)
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	return view, nil
}

func (s *service) RemoveItem(ctx context.Context, cartID uuid.UUID, ownerID string, productID uuid.UUID) (*View, error) {
	return s.SetItemQuantity(ctx, cartID, ownerID, productID, 0)
}

// ClearCart releases and deletes every line.
func (s *service) ClearCart(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error) {
	ctx, span := s.startSpan(ctx, "cart.clear", cartID)
	defer span.End()

	view, err := s.mutate(ctx, cartID, ownerID, func(m mutation) error {
		items, err := m.repo.ListItems(ctx, m.cart.ID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := m.coord.ReleaseFor(ctx, m.cart.ID, item.ProductID, item.Quantity, enums.AdjustmentCartRelease); err != nil {
				return err
			}
			if err := m.repo.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	return view, nil
}

func (s *service) checkLineLimit(qty int) error {
	if s.maxQty > 0 && qty > s.maxQty {
		return pkgerrors.New(pkgerrors.CodeValidation, "line quantity exceeds the per-line limit").
			WithDetails(map[string]any{"max": s.maxQty, "requested": qty})
	}
	return nil
}

func (s *service) checkCurrency(product catalog.Product) error {
	if !strings.EqualFold(product.Currency, s.currency) {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "product is priced in a different currency").
			WithDetails(map[string]any{"product_currency": product.Currency, "cart_currency": s.currency})
	}
	return nil
}
