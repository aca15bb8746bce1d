package port

import (
	"context"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// MovementStore persists the stock movement audit trail. Writes are drained
// from the movement queue by the server's worker pool.
type MovementStore interface {
	InsertMovement(ctx context.Context, m domain.StockMovement) error
}
