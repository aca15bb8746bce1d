package domain

import "time"

// DownstreamKind distinguishes the two follow-up order types created when a
// customer order cannot be fulfilled from stock.
type DownstreamKind string

const (
	DownstreamWarehouse  DownstreamKind = "WAREHOUSE_ORDER"
	DownstreamProduction DownstreamKind = "PRODUCTION_ORDER"
)

// KindForScenario maps an undersupply scenario onto the downstream order type
// it triggers. DIRECT_FULFILLMENT has no downstream order.
func KindForScenario(s Scenario) (DownstreamKind, bool) {
	switch s {
	case ScenarioWarehouseOrderNeeded:
		return DownstreamWarehouse, true
	case ScenarioDirectProduction:
		return DownstreamProduction, true
	}
	return "", false
}

type DownstreamStatus string

const (
	DownstreamStatusOpen      DownstreamStatus = "OPEN"
	DownstreamStatusFulfilled DownstreamStatus = "FULFILLED"
)

// DownstreamOrder is a warehouse or production order created from a customer
// order shortfall. At most one exists per (customer order, item).
type DownstreamOrder struct {
	ID              string
	CustomerOrderID string
	Kind            DownstreamKind
	Scenario        Scenario
	ItemType        ItemType
	ItemID          string
	ShortfallQty    int
	Status          DownstreamStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
