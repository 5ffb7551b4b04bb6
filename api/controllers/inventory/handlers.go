// Package inventory exposes stock levels and the operator-only stock mutations.
package inventory

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	inventorydto "github.com/angelmondragon/cartreserve-backend/api/controllers/inventory/dto"
	"github.com/angelmondragon/cartreserve-backend/api/responses"
	"github.com/angelmondragon/cartreserve-backend/api/validators"
	inventorysvc "github.com/angelmondragon/cartreserve-backend/internal/inventory"
	"github.com/angelmondragon/cartreserve-backend/pkg/db/models"
	"github.com/angelmondragon/cartreserve-backend/pkg/logger"
	"github.com/angelmondragon/cartreserve-backend/pkg/pagination"
)

// Ledger is the slice of the inventory ledger the HTTP surface needs.
type Ledger interface {
	List(ctx context.Context, params inventorysvc.ListParams) (pagination.Page[models.InventoryRecord], error)
	Get(ctx context.Context, productID uuid.UUID) (*models.InventoryRecord, error)
	History(ctx context.Context, productID uuid.UUID, limit int) ([]models.ReservationAdjustment, error)
	ReceiveStock(ctx context.Context, productID uuid.UUID, qty int, note string) (*models.InventoryRecord, error)
	SetThreshold(ctx context.Context, productID uuid.UUID, threshold int) (*models.InventoryRecord, error)
}

// InventoryList pages through inventory records. ?lowStock=true narrows to low-stock rows.
func InventoryList(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return listHandler(ledger, logg, false)
}

// InventoryLowStock is the low-stock query offered to other services.
func InventoryLowStock(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return listHandler(ledger, logg, true)
}

func listHandler(ledger Ledger, logg *logger.Logger, lowStockOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !lowStockOnly {
			lowStockOnly, err = validators.ParseQueryBool(r, "lowStock", false)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		page, err := ledger.List(r.Context(), inventorysvc.ListParams{
			Params:       pagination.Params{Limit: limit, Cursor: r.URL.Query().Get("cursor")},
			LowStockOnly: lowStockOnly,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]inventorydto.Record, 0, len(page.Items))
		for _, record := range page.Items {
			items = append(items, newRecord(record))
		}
		responses.WriteSuccess(w, inventorydto.RecordPage{Items: items, NextCursor: page.NextCursor})
	}
}

func InventoryGet(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := ledger.Get(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRecord(*record))
	}
}

// InventoryHistory returns the audit trail for one product.
func InventoryHistory(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := ledger.History(r.Context(), productID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]inventorydto.Adjustment, 0, len(rows))
		for _, row := range rows {
			out = append(out, newAdjustment(row))
		}
		responses.WriteSuccess(w, out)
	}
}

// InventoryReceive adds received units to stock.
func InventoryReceive(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload inventorydto.ReceiveStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := ledger.ReceiveStock(r.Context(), productID, payload.Quantity, validators.SanitizeString(payload.Note, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRecord(*record))
	}
}

func InventorySetThreshold(ledger Ledger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload inventorydto.ThresholdRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := ledger.SetThreshold(r.Context(), productID, *payload.Threshold)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRecord(*record))
	}
}

func newRecord(record models.InventoryRecord) inventorydto.Record {
	return inventorydto.Record{
		ProductID:         record.ProductID,
		Stock:             record.Stock,
		Reserved:          record.Reserved,
		Available:         record.Available(),
		LowStockThreshold: record.LowStockThreshold,
		LowStock:          record.IsLowStock(),
		UpdatedAt:         record.UpdatedAt,
	}
}

func newAdjustment(row models.ReservationAdjustment) inventorydto.Adjustment {
	return inventorydto.Adjustment{
		ID:               row.ID,
		CartID:           row.CartID,
		Reason:           string(row.Reason),
		Delta:            row.Delta,
		StockDelta:       row.StockDelta,
		PreviousStock:    row.PreviousStock,
		NewStock:         row.NewStock,
		PreviousReserved: row.PreviousReserved,
		NewReserved:      row.NewReserved,
		Note:             row.Note,
		CreatedAt:        row.CreatedAt,
	}
}
