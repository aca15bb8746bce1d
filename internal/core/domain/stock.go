package domain

import (
	"fmt"
	"time"
)

type ItemType string

const (
	ItemTypeProduct ItemType = "PRODUCT"
	ItemTypeModule  ItemType = "MODULE"
	ItemTypePart    ItemType = "PART"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeProduct, ItemTypeModule, ItemTypePart:
		return true
	}
	return false
}

// StockKey identifies one stock record: a workstation holds stock per item.
type StockKey struct {
	WorkstationID string
	ItemType      ItemType
	ItemID        string
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.WorkstationID, k.ItemType, k.ItemID)
}

type StockRecord struct {
	Key       StockKey
	Quantity  int
	Version   int // optimistic locking
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DebitResult is the outcome of a TryDebit call. On success Quantity is the
// post-debit quantity; otherwise it is the quantity that was available.
type DebitResult struct {
	Debited  bool
	Quantity int
}
