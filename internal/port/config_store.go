package port

import (
	"context"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// ConfigStore holds the admin-tunable lot-size threshold. Last write wins;
// reads always see the latest committed value, so a change affects only
// orders evaluated afterwards.
type ConfigStore interface {
	Threshold(ctx context.Context) (int, error)
	SetThreshold(ctx context.Context, value int, updatedBy string) error
}

// Catalog is the external master-data service, consulted only to validate
// order items at creation. Unreachability surfaces domain.ErrCatalogUnavailable.
type Catalog interface {
	ResolveItem(ctx context.Context, itemType domain.ItemType, itemID string) (bool, error)
}

// EventPublisher emits domain events for downstream consumers. Publish
// failures are logged, never allowed to fail the originating operation.
type EventPublisher interface {
	OrderCompleted(ctx context.Context, order *domain.CustomerOrder) error
	DownstreamCreated(ctx context.Context, order *domain.DownstreamOrder) error
}
