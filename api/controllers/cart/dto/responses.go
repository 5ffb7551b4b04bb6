package cartdto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/internal/totals"
)

type Cart struct {
	ID        uuid.UUID     `json:"id"`
	OwnerID   *string       `json:"ownerId,omitempty"`
	Status    string        `json:"status"`
	Currency  string        `json:"currency"`
	Items     []CartItem    `json:"items"`
	Totals    totals.Totals `json:"totals"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type CartItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	LineTotal int64     `json:"lineTotal"`
	Currency  string    `json:"currency"`
}

type SkippedItem struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

type MergeResult struct {
	Cart           Cart          `json:"cart"`
	GuestCartID    uuid.UUID     `json:"guestCartId"`
	Merged         []uuid.UUID   `json:"merged"`
	Skipped        []SkippedItem `json:"skipped"`
	GuestConverted bool          `json:"guestConverted"`
}

// Checkout is the hand-off payload for the checkout service.
type Checkout struct {
	CartID   uuid.UUID     `json:"cartId"`
	OwnerID  *string       `json:"ownerId,omitempty"`
	Currency string        `json:"currency"`
	Items    []CartItem    `json:"items"`
	Totals   totals.Totals `json:"totals"`
}
