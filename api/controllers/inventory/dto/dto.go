package inventorydto

import (
	"time"

	"github.com/google/uuid"
)

type ReceiveStockRequest struct {
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Note     string `json:"note" validate:"max=500"`
}

type ThresholdRequest struct {
	Threshold *int `json:"threshold" validate:"required,min=0"`
}

type Record struct {
	ProductID         uuid.UUID `json:"productId"`
	Stock             int       `json:"stock"`
	Reserved          int       `json:"reserved"`
	Available         int       `json:"available"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	LowStock          bool      `json:"lowStock"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type RecordPage struct {
	Items      []Record `json:"items"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

type Adjustment struct {
	ID               uuid.UUID  `json:"id"`
	CartID           *uuid.UUID `json:"cartId,omitempty"`
	Reason           string     `json:"reason"`
	Delta            int        `json:"delta"`
	StockDelta       int        `json:"stockDelta"`
	PreviousStock    int        `json:"previousStock"`
	NewStock         int        `json:"newStock"`
	PreviousReserved int        `json:"previousReserved"`
	NewReserved      int        `json:"newReserved"`
	Note             *string    `json:"note,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}
