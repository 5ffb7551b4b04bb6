package cart

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

// CheckoutView returns the lines and totals handed to checkout. Empty carts cannot check out.
func (s *service) CheckoutView(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error) {
	view, err := s.GetCart(ctx, cartID, ownerID)
	if err != nil {
		return nil, err
	}
	if len(view.Cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "cart is empty")
	}
	return view, nil
}

// CommitCheckout turns every reservation into a stock decrement, empties the cart and
// marks it converted. The returned view carries the committed lines and totals.
func (s *service) CommitCheckout(ctx context.Context, cartID uuid.UUID, ownerID string) (*View, error) {
	ctx, span := s.startSpan(ctx, "cart.commit_checkout", cartID)
	defer span.End()

	var committed *View
	_, err := s.mutate(ctx, cartID, ownerID, func(m mutation) error {
		snapshot, err := s.view(ctx, m.repo, m.cart.ID)
		if err != nil {
			return err
		}
		if len(snapshot.Cart.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "cart is empty")
		}
		for _, item := range snapshot.Cart.Items {
			if _, err := m.coord.Commit(ctx, m.cart.ID, item.ProductID, item.Quantity); err != nil {
				return err
			}
			if err := m.repo.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
		}
		if err := m.repo.UpdateStatus(ctx, m.cart.ID, enums.CartStatusConverted, nil); err != nil {
			return err
		}
		committed = snapshot
		return s.outbox.Emit(ctx, m.tx, outbox.DomainEvent{
			EventType:     enums.EventCartCheckedOut,
			AggregateType: enums.AggregateCart,
			AggregateID:   m.cart.ID,
			Actor:         &outbox.ActorRef{OwnerID: ownerID, Source: "checkout"},
			Data: payloads.CartCheckedOutEvent{
				CartID:   m.cart.ID,
				OwnerID:  ownerID,
				Lines:    len(snapshot.Cart.Items),
				Units:    snapshot.Totals.ItemCount,
				Subtotal: snapshot.Totals.Subtotal,
				Tax:      snapshot.Totals.Tax,
				Shipping: snapshot.Totals.Shipping,
				Total:    snapshot.Totals.Total,
				Currency: snapshot.Currency,
			},
		})
	})
	if err != nil {
		return nil, endSpan(span, err)
	}
	return committed, nil
}
