package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartreserve-backend/pkg/enums"
)

// LowStockDetectedEvent fires when available units cross down to the product's threshold.
type LowStockDetectedEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	Stock     int       `json:"stock"`
	Reserved  int       `json:"reserved"`
	Available int       `json:"available"`
	Threshold int       `json:"threshold"`
}

// StockReceivedEvent records a stock receipt applied by operations.
type StockReceivedEvent struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Stock     int       `json:"stock"`
	Reserved  int       `json:"reserved"`
}

// ReservationReleasedEvent is emitted when units go back to the pool outside a shopper action.
type ReservationReleasedEvent struct {
	CartID    uuid.UUID              `json:"cart_id"`
	ProductID uuid.UUID              `json:"product_id"`
	Quantity  int                    `json:"quantity"`
	Reason    enums.AdjustmentReason `json:"reason"`
}

// CartMergedEvent summarizes a guest cart folded into a user cart at login.
type CartMergedEvent struct {
	GuestCartID     uuid.UUID   `json:"guest_cart_id"`
	UserCartID      uuid.UUID   `json:"user_cart_id"`
	OwnerID         string      `json:"owner_id"`
	MergedProducts  []uuid.UUID `json:"merged_products"`
	SkippedProducts []uuid.UUID `json:"skipped_products,omitempty"`
	GuestConverted  bool        `json:"guest_converted"`
}

// CartAbandonedEvent is emitted by the guest cart sweeper.
type CartAbandonedEvent struct {
	CartID        uuid.UUID `json:"cart_id"`
	ReleasedLines int       `json:"released_lines"`
	ReleasedUnits int       `json:"released_units"`
	FailedLines   int       `json:"failed_lines,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CartCheckedOutEvent carries the final totals committed at checkout.
type CartCheckedOutEvent struct {
	CartID   uuid.UUID `json:"cart_id"`
	OwnerID  string    `json:"owner_id"`
	Lines    int       `json:"lines"`
	Units    int       `json:"units"`
	Subtotal int64     `json:"subtotal"`
	Tax      int64     `json:"tax"`
	Shipping int64     `json:"shipping"`
	Total    int64     `json:"total"`
	Currency string    `json:"currency"`
}
