package cart

import (
	"github.com/google/uuid"

	cartdto "github.com/angelmondragon/cartreserve-backend/api/controllers/cart/dto"
	cartsvc "github.com/angelmondragon/cartreserve-backend/internal/cart"
)

func newCart(view *cartsvc.View) cartdto.Cart {
	if view == nil {
		return cartdto.Cart{}
	}
	return cartdto.Cart{
		ID:        view.Cart.ID,
		OwnerID:   view.Cart.OwnerID,
		Status:    string(view.Cart.Status),
		Currency:  view.Currency,
		Items:     newItems(view),
		Totals:    view.Totals,
		CreatedAt: view.Cart.CreatedAt,
		UpdatedAt: view.Cart.UpdatedAt,
	}
}

func newItems(view *cartsvc.View) []cartdto.CartItem {
	items := make([]cartdto.CartItem, 0, len(view.Cart.Items))
	for _, item := range view.Cart.Items {
		items = append(items, cartdto.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.UnitPrice * int64(item.Quantity),
			Currency:  item.Currency,
		})
	}
	return items
}

func newCheckout(view *cartsvc.View) cartdto.Checkout {
	return cartdto.Checkout{
		CartID:   view.Cart.ID,
		OwnerID:  view.Cart.OwnerID,
		Currency: view.Currency,
		Items:    newItems(view),
		Totals:   view.Totals,
	}
}

func newMergeResult(result *cartsvc.MergeResult) cartdto.MergeResult {
	skipped := make([]cartdto.SkippedItem, 0, len(result.Skipped))
	for _, item := range result.Skipped {
		skipped = append(skipped, cartdto.SkippedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Reason:    string(item.Reason),
		})
	}
	merged := result.Merged
	if merged == nil {
		merged = []uuid.UUID{}
	}
	return cartdto.MergeResult{
		Cart:           newCart(&result.View),
		GuestCartID:    result.GuestCartID,
		Merged:         merged,
		Skipped:        skipped,
		GuestConverted: result.GuestConverted,
	}
}
