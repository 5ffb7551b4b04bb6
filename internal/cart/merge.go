package cart

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartreserve-backend/internal/reservation"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox"
	"github.com/angelmondragon/cartreserve-backend/pkg/outbox/payloads"
)

// MergeGuestIntoUser folds a guest cart into ownerID's active cart.
//
// Without a prior user cart the guest cart simply becomes the user's. Otherwise each guest
// line either grows the user's line (a new cart-merge reservation for the user cart, then the
// guest reservation is released) or moves across with its reservation re-attributed. A line
// that hits InsufficientStock is skipped and stays on the guest cart, still reserved; the
// guest cart is converted only once it has no lines left.
func (s *service) MergeGuestIntoUser(ctx context.Context, guestCartID uuid.UUID, ownerID string) (*MergeResult, error) {
	ctx, span := s.startSpan(ctx, "cart.merge", guestCartID)
	defer span.End()

	if ownerID == "" {
		return nil, endSpan(span, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
	}

	result := &MergeResult{GuestCartID: guestCartID}
	var userCartID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		coord := s.coordinator.WithTx(tx)

		guest, user, err := s.lockMergePair(ctx, repo, guestCartID, ownerID)
		if err != nil {
			return err
		}
		if guest.OwnerID != nil {
			// Already the caller's own cart, typically a repeated merge after reassignment.
			userCartID = guest.ID
			return nil
		}
		if user == nil {
			if err := repo.AssignOwner(ctx, guest.ID, ownerID); err != nil {
				return err
			}
			items, err := repo.ListItems(ctx, guest.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				result.Merged = append(result.Merged, item.ProductID)
			}
			userCartID = guest.ID
			return s.emitMerged(ctx, tx, result, guest.ID, ownerID)
		}

		userCartID = user.ID
		if err := s.mergeLines(ctx, repo, coord, guest.ID, user.ID, result); err != nil {
			return err
		}
		if len(result.Skipped) == 0 {
			target := user.ID
			if err := repo.UpdateStatus(ctx, guest.ID, enums.CartStatusConverted, &target); err != nil {
				return err
			}
			result.GuestConverted = true
		}
		return s.emitMerged(ctx, tx, result, user.ID, ownerID)
	})
	if err != nil {
		return nil, endSpan(span, err)
	}

	view, err := s.view(ctx, s.repo, userCartID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	result.View = *view

	logCtx := s.logg.WithCartID(ctx, userCartID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"guest_cart_id": guestCartID.String(),
		"merged":        len(result.Merged),
		"skipped":       len(result.Skipped),
	})
	s.logg.Info(logCtx, "guest cart merged")
	return result, nil
}

// lockMergePair locks the guest cart and, when one exists, the user's active cart in id
// order so two merges touching the same pair cannot deadlock.
func (s *service) lockMergePair(ctx context.Context, repo CartRepository, guestCartID uuid.UUID, ownerID string) (*models.Cart, *models.Cart, error) {
	user, err := repo.FindActiveByOwner(ctx, ownerID)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, nil, err
	}
	if user != nil && user.ID == guestCartID {
		user = nil
	}

	ids := []uuid.UUID{guestCartID}
	if user != nil {
		if bytes.Compare(user.ID[:], guestCartID[:]) < 0 {
			ids = []uuid.UUID{user.ID, guestCartID}
		} else {
			ids = append(ids, user.ID)
		}
	}
	locked := make(map[uuid.UUID]*models.Cart, len(ids))
	for _, id := range ids {
		cart, err := repo.LockByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		locked[id] = cart
	}

	guest := locked[guestCartID]
	if guest.Status != enums.CartStatusActive {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if guest.OwnerID != nil && *guest.OwnerID != ownerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if user != nil {
		user = locked[user.ID]
		if user.Status != enums.CartStatusActive {
			return nil, nil, pkgerrors.New(pkgerrors.CodeConflict, "user cart changed during merge")
		}
	}
	return guest, user, nil
}

func (s *service) mergeLines(ctx context.Context, repo CartRepository, coord *reservation.Coordinator, guestID, userID uuid.UUID, result *MergeResult) error {
	items, err := repo.ListItems(ctx, guestID)
	if err != nil {
		return err
	}
	for _, item := range items {
		target, err := repo.FindItem(ctx, userID, item.ProductID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return err
		}

		if target == nil {
			if err := repo.MoveItem(ctx, item.ID, userID); err != nil {
				return err
			}
			if err := coord.Reattribute(ctx, guestID, userID, item.ProductID, item.Quantity); err != nil {
				return err
			}
			result.Merged = append(result.Merged, item.ProductID)
			continue
		}

		next := target.Quantity + item.Quantity
		if err := s.checkLineLimit(next); err != nil {
			result.Skipped = append(result.Skipped, SkippedItem{ProductID: item.ProductID, Quantity: item.Quantity, Reason: pkgerrors.CodeOf(err)})
			continue
		}
		if _, err := coord.ReserveFor(ctx, userID, item.ProductID, item.Quantity, enums.AdjustmentCartMerge); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
				result.Skipped = append(result.Skipped, SkippedItem{ProductID: item.ProductID, Quantity: item.Quantity, Reason: pkgerrors.CodeInsufficientStock})
				continue
			}
			return err
		}
		if _, err := coord.ReleaseFor(ctx, guestID, item.ProductID, item.Quantity, enums.AdjustmentCartMerge); err != nil {
			return err
		}
		if err := repo.UpdateItemQuantity(ctx, target.ID, next); err != nil {
			return err
		}
		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return err
		}
		result.Merged = append(result.Merged, item.ProductID)
	}
	return nil
}

func (s *service) emitMerged(ctx context.Context, tx *gorm.DB, result *MergeResult, userCartID uuid.UUID, ownerID string) error {
	skipped := make([]uuid.UUID, 0, len(result.Skipped))
	for _, item := range result.Skipped {
		skipped = append(skipped, item.ProductID)
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCartMerged,
		AggregateType: enums.AggregateCart,
		AggregateID:   userCartID,
		Actor:         &outbox.ActorRef{OwnerID: ownerID, Source: "cart-merge"},
		Data: payloads.CartMergedEvent{
			GuestCartID:     result.GuestCartID,
			UserCartID:      userCartID,
			OwnerID:         ownerID,
			MergedProducts:  result.Merged,
			SkippedProducts: skipped,
			GuestConverted:  result.GuestConverted,
		},
	})
}
