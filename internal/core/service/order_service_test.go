package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/adapter/catalog"
	"github.com/stationworks/fulfillment/internal/adapter/storage"
	"github.com/stationworks/fulfillment/internal/core/domain"
)

type recordingPublisher struct {
	mu         sync.Mutex
	completed  []string
	downstream []string
}

func (p *recordingPublisher) OrderCompleted(ctx context.Context, order *domain.CustomerOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, order.ID)
	return nil
}

func (p *recordingPublisher) DownstreamCreated(ctx context.Context, order *domain.DownstreamOrder) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downstream = append(p.downstream, order.ID)
	return nil
}

type fixture struct {
	svc        *OrderService
	ledger     *storage.MemoryLedger
	store      *storage.MemoryStore
	downstream *storage.MemoryDownstreamRepo
	movements  *MovementLog
	events     *recordingPublisher
}

func newFixture(threshold int) *fixture {
	ledger := storage.NewMemoryLedger()
	store := storage.NewMemoryStore(threshold)
	downstream := storage.NewMemoryDownstreamRepo()
	movements := NewMovementLog(1000)
	events := &recordingPublisher{}
	svc := NewOrderService(store, downstream, ledger, store, catalog.PermissiveCatalog{}, events, movements, zap.NewNop())
	return &fixture{
		svc:        svc,
		ledger:     ledger,
		store:      store,
		downstream: downstream,
		movements:  movements,
		events:     events,
	}
}

func (f *fixture) seedStock(t *testing.T, key domain.StockKey, qty int) {
	t.Helper()
	if _, err := f.ledger.Adjust(context.Background(), key, qty, domain.ReasonGoodsReceipt); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

// confirmedOrder creates and confirms a single-item order.
func (f *fixture) confirmedOrder(t *testing.T, itemID string, qty int) *domain.CustomerOrder {
	t.Helper()
	ctx := context.Background()
	order, err := f.svc.Create(ctx, "WS1",
		[]domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: itemID, Quantity: qty}}, "")
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, order.ID); err != nil {
		t.Fatalf("confirm order: %v", err)
	}
	return order
}

func (f *fixture) drainMovements() []domain.StockMovement {
	var out []domain.StockMovement
	for {
		select {
		case m := <-f.movements.Queue():
			out = append(out, m)
		default:
			return out
		}
	}
}

func key(itemID string) domain.StockKey {
	return domain.StockKey{WorkstationID: "WS1", ItemType: domain.ItemTypePart, ItemID: itemID}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, "WS1", nil, ""); !errors.Is(err, domain.ErrEmptyOrder) {
		t.Errorf("empty item list: expected ErrEmptyOrder, got %v", err)
	}
	if _, err := f.svc.Create(ctx, "", []domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 1}}, ""); !errors.Is(err, domain.ErrMissingWorkstation) {
		t.Errorf("missing workstation: expected ErrMissingWorkstation, got %v", err)
	}
	if _, err := f.svc.Create(ctx, "WS1", []domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 0}}, ""); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("zero quantity: expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := f.svc.Create(ctx, "WS1", []domain.OrderItem{{ItemType: "WIDGET", ItemID: "axle", Quantity: 1}}, ""); !errors.Is(err, domain.ErrUnknownItem) {
		t.Errorf("bad item type: expected ErrUnknownItem, got %v", err)
	}
}

func TestCreate_UnknownItemRejectedByCatalog(t *testing.T) {
	f := newFixture(3)
	cat := catalog.NewStaticCatalog()
	cat.Add(domain.ItemTypePart, "axle")
	f.svc = NewOrderService(f.store, f.downstream, f.ledger, f.store, cat, nil, f.movements, zap.NewNop())

	ctx := context.Background()
	if _, err := f.svc.Create(ctx, "WS1", []domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 1}}, ""); err != nil {
		t.Errorf("known item rejected: %v", err)
	}
	if _, err := f.svc.Create(ctx, "WS1", []domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "ghost", Quantity: 1}}, ""); !errors.Is(err, domain.ErrUnknownItem) {
		t.Errorf("unknown item: expected ErrUnknownItem, got %v", err)
	}
}

func TestConfirm_IsStateOnly(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	// No stock at all: confirm must still succeed.
	order := f.confirmedOrder(t, "axle", 5)

	got, err := f.svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", got.Status)
	}
	if got.TriggerScenario != nil {
		t.Errorf("confirm must not evaluate routing, got scenario %s", *got.TriggerScenario)
	}
}

func TestConfirm_OnlyFromPending(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	order := f.confirmedOrder(t, "axle", 1)

	if _, err := f.svc.Confirm(ctx, order.ID); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("double confirm: expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestFulfill_DirectFulfillment(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.seedStock(t, key("axle"), 5)
	f.drainMovements()

	order := f.confirmedOrder(t, "axle", 2)
	got, err := f.svc.Fulfill(ctx, order.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.TriggerScenario == nil || *got.TriggerScenario != domain.ScenarioDirectFulfillment {
		t.Errorf("expected DIRECT_FULFILLMENT scenario, got %v", got.TriggerScenario)
	}

	qty, _ := f.ledger.Query(ctx, key("axle"))
	if qty != 3 {
		t.Errorf("expected stock 3, got %d", qty)
	}

	movements := f.drainMovements()
	if len(movements) != 1 || movements[0].Delta != -2 || movements[0].Reason != domain.ReasonOrderDebit {
		t.Errorf("expected one -2 ORDER_DEBIT movement, got %+v", movements)
	}
	if len(f.events.completed) != 1 {
		t.Errorf("expected one completion event, got %d", len(f.events.completed))
	}
}

func TestFulfill_SmallShortfallRoutesToWarehouse(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	order := f.confirmedOrder(t, "axle", 2) // stock 0, qty 2 < threshold 3
	got, err := f.svc.Fulfill(ctx, order.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}
	if got.TriggerScenario == nil || *got.TriggerScenario != domain.ScenarioWarehouseOrderNeeded {
		t.Errorf("expected WAREHOUSE_ORDER_NEEDED, got %v", got.TriggerScenario)
	}

	created, err := f.downstream.ListDownstreamByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list downstream: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one downstream order, got %d", len(created))
	}
	if created[0].Kind != domain.DownstreamWarehouse || created[0].ShortfallQty != 2 {
		t.Errorf("expected warehouse order with shortfall 2, got %+v", created[0])
	}
}

func TestFulfill_LargeShortfallRoutesToProduction(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	order := f.confirmedOrder(t, "axle", 5) // stock 0, qty 5 >= threshold 3
	got, err := f.svc.Fulfill(ctx, order.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}
	if got.TriggerScenario == nil || *got.TriggerScenario != domain.ScenarioDirectProduction {
		t.Errorf("expected DIRECT_PRODUCTION, got %v", got.TriggerScenario)
	}

	created, _ := f.downstream.ListDownstreamByOrder(ctx, order.ID)
	if len(created) != 1 || created[0].Kind != domain.DownstreamProduction {
		t.Errorf("expected one production order, got %+v", created)
	}
}

func TestFulfill_QuantityEqualToThresholdTakesProduction(t *testing.T) {
	f := newFixture(5)
	ctx := context.Background()

	order := f.confirmedOrder(t, "axle", 5)
	got, err := f.svc.Fulfill(ctx, order.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.TriggerScenario == nil || *got.TriggerScenario != domain.ScenarioDirectProduction {
		t.Errorf("threshold is inclusive: expected DIRECT_PRODUCTION, got %v", got.TriggerScenario)
	}
}

func TestFulfill_NoPartialDebit(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.seedStock(t, key("axle"), 10)
	// "gear" never stocked.

	order, err := f.svc.Create(ctx, "WS1", []domain.OrderItem{
		{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 2},
		{ItemType: domain.ItemTypePart, ItemID: "gear", Quantity: 1},
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, order.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, err := f.svc.Fulfill(ctx, order.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}

	// The supplied item must not have been debited.
	qty, _ := f.ledger.Query(ctx, key("axle"))
	if qty != 10 {
		t.Errorf("expected axle stock untouched at 10, got %d", qty)
	}

	created, _ := f.downstream.ListDownstreamByOrder(ctx, order.ID)
	if len(created) != 1 || created[0].ItemID != "gear" {
		t.Errorf("expected one downstream order for gear only, got %+v", created)
	}
}

func TestFulfill_RaceRetriesRoutingOnCurrentQuantity(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.seedStock(t, key("axle"), 5)

	first := f.confirmedOrder(t, "axle", 5)
	second := f.confirmedOrder(t, "axle", 5)

	if _, err := f.svc.Fulfill(ctx, first.ID); err != nil {
		t.Fatalf("first fulfill: %v", err)
	}

	// The second order's confirm-time view said 5 were available; by debit
	// time they are gone. It must end PROCESSING, routed on the current
	// quantity, never COMPLETED on the stale read.
	got, err := f.svc.Fulfill(ctx, second.ID)
	if err != nil {
		t.Fatalf("second fulfill: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Errorf("expected PROCESSING, got %s", got.Status)
	}
	if got.TriggerScenario == nil || *got.TriggerScenario != domain.ScenarioDirectProduction {
		t.Errorf("qty 5 >= threshold 3: expected DIRECT_PRODUCTION, got %v", got.TriggerScenario)
	}

	qty, _ := f.ledger.Query(ctx, key("axle"))
	if qty != 0 {
		t.Errorf("expected stock 0, got %d", qty)
	}
}

func TestFulfill_ConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.seedStock(t, key("axle"), 5)

	first := f.confirmedOrder(t, "axle", 5)
	second := f.confirmedOrder(t, "axle", 5)

	var wg sync.WaitGroup
	results := make([]domain.OrderStatus, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(slot int, orderID string) {
			defer wg.Done()
			order, err := f.svc.Fulfill(ctx, orderID)
			if err != nil {
				t.Errorf("fulfill %s: %v", orderID, err)
				return
			}
			results[slot] = order.Status
		}(i, id)
	}
	wg.Wait()

	completed, processing := 0, 0
	for _, status := range results {
		switch status {
		case domain.OrderStatusCompleted:
			completed++
		case domain.OrderStatusProcessing:
			processing++
		}
	}
	if completed != 1 || processing != 1 {
		t.Errorf("expected exactly one COMPLETED and one PROCESSING, got %v", results)
	}

	qty, _ := f.ledger.Query(ctx, key("axle"))
	if qty != 0 {
		t.Errorf("expected final stock 0, got %d", qty)
	}
}

func TestFulfill_RequiresConfirmed(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.seedStock(t, key("axle"), 5)

	order, err := f.svc.Create(ctx, "WS1",
		[]domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 1}}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.svc.Fulfill(ctx, order.ID)
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("fulfill from PENDING: expected ErrInvalidStateTransition, got %v", err)
	}
	if got.Status != domain.OrderStatusPending {
		t.Errorf("order must be unchanged, got %s", got.Status)
	}

	qty, _ := f.ledger.Query(ctx, key("axle"))
	if qty != 5 {
		t.Errorf("no debit may happen, expected 5, got %d", qty)
	}
}

func TestCancel_FromPendingAndConfirmed(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	pending, _ := f.svc.Create(ctx, "WS1",
		[]domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 1}}, "")
	if got, err := f.svc.Cancel(ctx, pending.ID); err != nil || got.Status != domain.OrderStatusCancelled {
		t.Errorf("cancel from PENDING: got %v, %v", got.Status, err)
	}

	confirmed := f.confirmedOrder(t, "axle", 1)
	if got, err := f.svc.Cancel(ctx, confirmed.ID); err != nil || got.Status != domain.OrderStatusCancelled {
		t.Errorf("cancel from CONFIRMED: got %v, %v", got.Status, err)
	}
}

func TestCancel_CompletedOrderRejected(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()
	f.seedStock(t, key("axle"), 5)

	order := f.confirmedOrder(t, "axle", 2)
	if _, err := f.svc.Fulfill(ctx, order.ID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	got, err := f.svc.Cancel(ctx, order.ID)
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("status must remain COMPLETED, got %s", got.Status)
	}
}

func TestResolveDownstream_CompletesAfterLastOne(t *testing.T) {
	f := newFixture(3)
	ctx := context.Background()

	order, err := f.svc.Create(ctx, "WS1", []domain.OrderItem{
		{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 1},
		{ItemType: domain.ItemTypePart, ItemID: "gear", Quantity: 2},
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, order.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.Fulfill(ctx, order.ID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	created, _ := f.downstream.ListDownstreamByOrder(ctx, order.ID)
	if len(created) != 2 {
		t.Fatalf("expected two downstream orders, got %d", len(created))
	}

	got, err := f.svc.ResolveDownstream(ctx, created[0].ID)
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Errorf("one downstream still open: expected PROCESSING, got %s", got.Status)
	}

	got, err = f.svc.ResolveDownstream(ctx, created[1].ID)
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("all downstream resolved: expected COMPLETED, got %s", got.Status)
	}
	if len(f.events.completed) != 1 {
		t.Errorf("expected one completion event, got %d", len(f.events.completed))
	}
}

// contestedOrderRepo lets the completing transition succeed in storage but
// reports a conflict to the caller once, the way a sibling resolution that
// won the compare-and-set first looks.
type contestedOrderRepo struct {
	*storage.MemoryStore
	contested bool
}

func (r *contestedOrderRepo) TransitionOrder(ctx context.Context, orderID string, from, to domain.OrderStatus, scenario *domain.Scenario) error {
	err := r.MemoryStore.TransitionOrder(ctx, orderID, from, to, scenario)
	if err == nil && !r.contested && from == domain.OrderStatusProcessing && to == domain.OrderStatusCompleted {
		r.contested = true
		return domain.ErrVersionConflict
	}
	return err
}

func TestResolveDownstream_SiblingRaceOnCompletionIsBenign(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	store := storage.NewMemoryStore(100)
	orders := &contestedOrderRepo{MemoryStore: store}
	downstream := storage.NewMemoryDownstreamRepo()
	movements := NewMovementLog(64)
	svc := NewOrderService(orders, downstream, ledger, store, catalog.PermissiveCatalog{}, nil, movements, zap.NewNop())
	ctx := context.Background()

	order, err := svc.Create(ctx, "WS1",
		[]domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: "axle", Quantity: 1}}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Confirm(ctx, order.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := svc.Fulfill(ctx, order.ID); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	created, _ := downstream.ListDownstreamByOrder(ctx, order.ID)
	if len(created) != 1 {
		t.Fatalf("expected one downstream order, got %d", len(created))
	}

	got, err := svc.ResolveDownstream(ctx, created[0].ID)
	if err != nil {
		t.Fatalf("losing a completion race must not surface an error: %v", err)
	}
	if got.Status != domain.OrderStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
}

func TestThresholdChangeAffectsOnlyLaterOrders(t *testing.T) {
	f := newFixture(10)
	ctx := context.Background()

	early := f.confirmedOrder(t, "axle", 5)
	got, err := f.svc.Fulfill(ctx, early.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if *got.TriggerScenario != domain.ScenarioWarehouseOrderNeeded {
		t.Errorf("qty 5 < threshold 10: expected WAREHOUSE_ORDER_NEEDED, got %s", *got.TriggerScenario)
	}

	if err := f.store.SetThreshold(ctx, 3, "admin"); err != nil {
		t.Fatalf("set threshold: %v", err)
	}

	late := f.confirmedOrder(t, "gear", 5)
	got, err = f.svc.Fulfill(ctx, late.ID)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if *got.TriggerScenario != domain.ScenarioDirectProduction {
		t.Errorf("qty 5 >= threshold 3: expected DIRECT_PRODUCTION, got %s", *got.TriggerScenario)
	}

	// The early order keeps the decision it already got.
	unchanged, _ := f.svc.Get(ctx, early.ID)
	if *unchanged.TriggerScenario != domain.ScenarioWarehouseOrderNeeded {
		t.Errorf("already-routed order must not be reevaluated")
	}
}
