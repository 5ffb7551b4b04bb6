// Package totals prices a cart from its line snapshots. It performs no I/O.
package totals

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartreserve-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
)

// Line is one priced cart line. UnitPrice is in minor currency units.
type Line struct {
	UnitPrice int64
	Quantity  int
}

// Totals are minor-unit amounts. ItemCount is the sum of quantities.
type Totals struct {
	Subtotal  int64 `json:"subtotal"`
	Tax       int64 `json:"tax"`
	Shipping  int64 `json:"shipping"`
	Total     int64 `json:"total"`
	ItemCount int   `json:"itemCount"`
}

type Rules struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold int64
	ShippingFee           int64
}

// DefaultRules: 10% tax, free shipping strictly above 500000, otherwise a 30000 flat fee.
func DefaultRules() Rules {
	return Rules{
		TaxRate:               decimal.RequireFromString("0.10"),
		FreeShippingThreshold: 500000,
		ShippingFee:           30000,
	}
}

// RulesFromConfig reads pricing rules from the cart configuration.
func RulesFromConfig(cfg config.CartConfig) Rules {
	return Rules{
		TaxRate:               cfg.TaxRate,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		ShippingFee:           cfg.ShippingFee,
	}
}

type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Calculate is deterministic for the same lines and rules.
func (c *Calculator) Calculate(lines []Line) (Totals, error) {
	var out Totals
	for _, line := range lines {
		if line.UnitPrice < 0 {
			return Totals{}, pkgerrors.New(pkgerrors.CodeInvalidState, "line price must be non-negative")
		}
		if line.Quantity < 1 {
			return Totals{}, pkgerrors.New(pkgerrors.CodeInvalidState, "line quantity must be at least 1")
		}
		out.Subtotal += line.UnitPrice * int64(line.Quantity)
		out.ItemCount += line.Quantity
	}
	out.Tax = decimal.NewFromInt(out.Subtotal).Mul(c.rules.TaxRate).Round(0).IntPart()
	if out.Subtotal <= c.rules.FreeShippingThreshold {
		out.Shipping = c.rules.ShippingFee
	}
	out.Total = out.Subtotal + out.Tax + out.Shipping
	return out, nil
}
