package domain

// Scenario is the routing outcome of a fulfill attempt for one order item.
type Scenario string

const (
	ScenarioDirectFulfillment    Scenario = "DIRECT_FULFILLMENT"
	ScenarioWarehouseOrderNeeded Scenario = "WAREHOUSE_ORDER_NEEDED"
	ScenarioDirectProduction     Scenario = "DIRECT_PRODUCTION"
)

// Route decides the scenario for one item. The threshold is inclusive: a
// requested quantity equal to the lot-size threshold takes the production
// path. Pure function, safe to call again with a fresh stock snapshot.
func Route(requested, available, lotSizeThreshold int) Scenario {
	if available >= requested {
		return ScenarioDirectFulfillment
	}
	if requested >= lotSizeThreshold {
		return ScenarioDirectProduction
	}
	return ScenarioWarehouseOrderNeeded
}
