package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransition encodes the order state graph:
// PENDING -> CONFIRMED -> {COMPLETED | PROCESSING}, PROCESSING -> COMPLETED,
// CANCELLED reachable from PENDING or CONFIRMED only.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return to == OrderStatusConfirmed || to == OrderStatusCancelled
	case OrderStatusConfirmed:
		return to == OrderStatusCompleted || to == OrderStatusProcessing || to == OrderStatusCancelled
	case OrderStatusProcessing:
		return to == OrderStatusCompleted
	}
	return false
}

type OrderItem struct {
	ItemType ItemType
	ItemID   string
	Quantity int
}

type CustomerOrder struct {
	ID            string
	OrderNumber   string
	WorkstationID string
	Items         []OrderItem
	Status        OrderStatus
	// TriggerScenario is nil until fulfill resolves the order.
	TriggerScenario *Scenario
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockKeyFor returns the ledger key an order item debits on this order's
// workstation.
func (o *CustomerOrder) StockKeyFor(item OrderItem) StockKey {
	return StockKey{
		WorkstationID: o.WorkstationID,
		ItemType:      item.ItemType,
		ItemID:        item.ItemID,
	}
}
