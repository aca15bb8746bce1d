package domain

import "time"

// AdjustReason classifies manual stock adjustments.
type AdjustReason string

const (
	ReasonManualCorrection AdjustReason = "MANUAL_CORRECTION"
	ReasonGoodsReceipt     AdjustReason = "GOODS_RECEIPT"
	ReasonAdminOverride    AdjustReason = "ADMIN_OVERRIDE"
	ReasonOrderDebit       AdjustReason = "ORDER_DEBIT"
	ReasonDebitRollback    AdjustReason = "DEBIT_ROLLBACK"
)

// AdministrativeOverride reports whether the reason code is allowed to force
// an adjustment that a plain correction would reject.
func (r AdjustReason) AdministrativeOverride() bool {
	return r == ReasonAdminOverride
}

// StockMovement is one committed quantity change, kept as an audit trail.
// In cache mode movements are persisted asynchronously by the worker pool.
type StockMovement struct {
	ID        string
	Key       StockKey
	Delta     int
	Reason    AdjustReason
	OrderID   string // customer order that caused the movement, if any
	Actor     string // principal for manual adjustments
	CreatedAt time.Time
}
