package cart

import (
	"net/http"

	"github.com/google/uuid"

	cartdto "github.com/angelmondragon/cartreserve-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/cartreserve-backend/api/middleware"
	"github.com/angelmondragon/cartreserve-backend/api/responses"
	"github.com/angelmondragon/cartreserve-backend/api/validators"
	cartsvc "github.com/angelmondragon/cartreserve-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
)

// CartCreate opens a cart. Anonymous callers get a new guest cart and the guest cookie;
// authenticated callers get their active cart.
func CartCreate(svc cartsvc.Service, cookie GuestCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		owner := middleware.OwnerIDFromContext(r.Context())
		view, err := svc.CreateCart(r.Context(), owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if owner == "" {
			cookie.set(w, view.Cart.ID)
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCart(view))
	}
}

// CartMine returns the owner's active cart, or the guest cart named by the cookie.
func CartMine(svc cartsvc.Service, cookie GuestCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}

		var (
			view *cartsvc.View
			err  error
		)
		if owner := middleware.OwnerIDFromContext(r.Context()); owner != "" {
			view, err = svc.GetOwnerCart(r.Context(), owner)
		} else if guestID, ok := cookie.read(r); ok {
			view, err = svc.GetCart(r.Context(), guestID, "")
		} else {
			err = pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCart(view))
	}
}

func CartGet(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCart(svc, logg, func(r *http.Request, cartID uuid.UUID, owner string) (any, error) {
		view, err := svc.GetCart(r.Context(), cartID, owner)
		if err != nil {
			return nil, err
		}
		return newCart(view), nil
	})
}

// CartAddItem reserves stock and adds it to the cart.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCart(svc, logg, func(r *http.Request, cartID uuid.UUID, owner string) (any, error) {
		var payload cartdto.AddItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		productID, err := uuid.Parse(payload.ProductID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
		}
		view, err := svc.AddItem(r.Context(), cartID, owner, productID, payload.Quantity)
		if err != nil {
			return nil, err
		}
		return newCart(view), nil
	})
}

func CartSetItemQuantity(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCart(svc, logg, func(r *http.Request, cartID uuid.UUID, owner string) (any, error) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			return nil, err
		}
		var payload cartdto.SetQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		view, err := svc.SetItemQuantity(r.Context(), cartID, owner, productID, *payload.Quantity)
		if err != nil {
			return nil, err
		}
		return newCart(view), nil
	})
}

func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCart(svc, logg, func(r *http.Request, cartID uuid.UUID, owner string) (any, error) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			return nil, err
		}
		view, err := svc.RemoveItem(r.Context(), cartID, owner, productID)
		if err != nil {
			return nil, err
		}
		return newCart(view), nil
	})
}

func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCart(svc, logg, func(r *http.Request, cartID uuid.UUID, owner string) (any, error) {
		view, err := svc.ClearCart(r.Context(), cartID, owner)
		if err != nil {
			return nil, err
		}
		return newCart(view), nil
	})
}

// CartMerge folds the guest cart in the path into the caller's cart. Requires a signed-in owner.
func CartMerge(svc cartsvc.Service, cookie GuestCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		guestID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.MergeGuestIntoUser(r.Context(), guestID, middleware.OwnerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if len(result.Skipped) == 0 {
			cookie.clear(w)
		}

		responses.WriteSuccess(w, newMergeResult(result))
	}
}

func CartCheckout(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return withCart(svc, logg, func(r *http.Request, cartID uuid.UUID, owner string) (any, error) {
		view, err := svc.CheckoutView(r.Context(), cartID, owner)
		if err != nil {
			return nil, err
		}
		return newCheckout(view), nil
	})
}

// CartCommitCheckout converts reservations into stock decrements and retires the cart.
func CartCommitCheckout(svc cartsvc.Service, cookie GuestCookie, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owner := middleware.OwnerIDFromContext(r.Context())

		view, err := svc.CommitCheckout(r.Context(), cartID, owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if guestID, ok := cookie.read(r); ok && guestID == cartID {
			cookie.clear(w)
		}

		responses.WriteSuccess(w, newCheckout(view))
	}
}

type cartAction func(r *http.Request, cartID uuid.UUID, owner string) (any, error)

func withCart(svc cartsvc.Service, logg *logger.Logger, action cartAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		cartID, err := validators.ParseUUIDParam(r, "cartId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCartID(ctx, cartID.String())
		}
		r = r.WithContext(ctx)

		payload, err := action(r, cartID, middleware.OwnerIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, payload)
	}
}
