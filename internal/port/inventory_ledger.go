package port

import (
	"context"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// InventoryLedger owns per-key stock quantities. All mutation goes through it;
// callers never read-then-write around it.
type InventoryLedger interface {
	// TryDebit atomically subtracts amount if at least amount is available.
	// Under concurrent callers the sum of successful debits never exceeds the
	// stock that existed, and quantity never goes negative. A result with
	// Debited=false carries the quantity that was available and is a normal
	// outcome, not an error. Infrastructure failures and lock-wait timeouts
	// come back as errors (domain.ErrConcurrencyTimeout is retryable).
	TryDebit(ctx context.Context, key domain.StockKey, amount int) (domain.DebitResult, error)

	// Credit adds amount back, used to roll back debits when a multi-item
	// fulfill cannot complete.
	Credit(ctx context.Context, key domain.StockKey, amount int) (int, error)

	// Adjust applies a signed manual delta. The record is created lazily on
	// first adjustment. Fails with domain.ErrInvalidAdjustment if the result
	// would be negative and the reason is not an administrative override; an
	// override clamps at zero rather than committing a negative quantity.
	Adjust(ctx context.Context, key domain.StockKey, delta int, reason domain.AdjustReason) (int, error)

	// Query is a point-in-time read. It does not participate in the debit
	// decision.
	Query(ctx context.Context, key domain.StockKey) (int, error)
}
