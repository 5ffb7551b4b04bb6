package enums

// AdjustmentReason is recorded on every reservation_adjustments row.
type AdjustmentReason string

const (
	AdjustmentCartAdd        AdjustmentReason = "cart-add"
	AdjustmentCartRelease    AdjustmentReason = "cart-release"
	AdjustmentCartMerge      AdjustmentReason = "cart-merge"
	AdjustmentSweepRelease   AdjustmentReason = "sweep-release"
	AdjustmentStockReceipt   AdjustmentReason = "stock-receipt"
	AdjustmentCheckoutCommit AdjustmentReason = "checkout-commit"
)

var adjustmentReasons = []AdjustmentReason{
	AdjustmentCartAdd,
	AdjustmentCartRelease,
	AdjustmentCartMerge,
	AdjustmentSweepRelease,
	AdjustmentStockReceipt,
	AdjustmentCheckoutCommit,
}

func (r AdjustmentReason) String() string { return string(r) }

func (r AdjustmentReason) IsValid() bool { return member(adjustmentReasons, r) }

func ParseAdjustmentReason(raw string) (AdjustmentReason, error) {
	return parse("adjustment reason", adjustmentReasons, raw)
}
