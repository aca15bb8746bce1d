package port

import (
	"context"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// OrderRepository persists customer orders. Status changes go through
// TransitionOrder so that two concurrent callers cannot both move the same
// order.
type OrderRepository interface {
	// CreateOrder persists a new order in PENDING state.
	CreateOrder(ctx context.Context, order *domain.CustomerOrder) error

	// GetOrder returns domain.ErrOrderNotFound for an unknown id.
	GetOrder(ctx context.Context, orderID string) (*domain.CustomerOrder, error)

	// TransitionOrder moves the order from -> to atomically; if the stored
	// status is not `from` it returns domain.ErrVersionConflict and leaves
	// the order unchanged. A non-nil scenario is recorded as the order's
	// trigger scenario alongside the transition.
	TransitionOrder(ctx context.Context, orderID string, from, to domain.OrderStatus, scenario *domain.Scenario) error
}

// DownstreamOrderRepository persists warehouse and production orders.
type DownstreamOrderRepository interface {
	// CreateDownstream inserts the downstream order unless one already exists
	// for the same (customer order, item type, item id). It returns the
	// surviving order and whether this call created it, so a fulfill retry
	// after a transient failure never duplicates a shortfall.
	CreateDownstream(ctx context.Context, order *domain.DownstreamOrder) (*domain.DownstreamOrder, bool, error)

	// GetDownstream returns domain.ErrDownstreamNotFound for an unknown id.
	GetDownstream(ctx context.Context, id string) (*domain.DownstreamOrder, error)

	// MarkDownstreamFulfilled flips the downstream order to FULFILLED;
	// idempotent.
	MarkDownstreamFulfilled(ctx context.Context, id string) error

	// ListDownstreamByOrder returns all downstream orders referencing the
	// customer order.
	ListDownstreamByOrder(ctx context.Context, customerOrderID string) ([]*domain.DownstreamOrder, error)
}
