package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/adapter/catalog"
	"github.com/stationworks/fulfillment/internal/adapter/storage"
	"github.com/stationworks/fulfillment/internal/core/domain"
)

func TestMovementLog_RecordNeverBlocks(t *testing.T) {
	log := NewMovementLog(1)
	k := key("axle")

	if !log.Record(k, -1, domain.ReasonOrderDebit, "o1", "") {
		t.Fatal("first record should be queued")
	}

	// Queue full, no worker draining: the entry is dropped, not awaited.
	if log.Record(k, -1, domain.ReasonOrderDebit, "o2", "") {
		t.Error("full queue should report the entry as dropped")
	}

	got := <-log.Queue()
	if got.OrderID != "o1" {
		t.Errorf("expected the queued entry to survive, got %+v", got)
	}
}

func TestFulfill_CompletesWithStalledAuditQueue(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	store := storage.NewMemoryStore(3)
	downstream := storage.NewMemoryDownstreamRepo()
	movements := NewMovementLog(0) // nothing can ever be queued
	svc := NewOrderService(store, downstream, ledger, store, catalog.PermissiveCatalog{}, nil, movements, zap.NewNop())

	ctx := context.Background()
	if _, err := ledger.Adjust(ctx, key("axle"), 5, domain.ReasonGoodsReceipt); err != nil {
		t.Fatalf("seed: %v", err)
	}

	order, err := svc.Create(ctx, "WS1",
		[]domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 2}}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Confirm(ctx, order.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, err := svc.Fulfill(ctx, order.ID)
	if err != nil {
		t.Fatalf("fulfill must not stall on the audit queue: %v", err)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if qty, _ := ledger.Query(ctx, key("axle")); qty != 3 {
		t.Errorf("expected stock 3, got %d", qty)
	}
}
