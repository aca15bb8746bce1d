package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/core/domain"
	"github.com/stationworks/fulfillment/internal/port"
)

// OrderService owns the customer-order lifecycle. Stock is touched only
// through the ledger's atomic primitives; the service never reads a quantity
// and writes it back.
type OrderService struct {
	orders     port.OrderRepository
	downstream port.DownstreamOrderRepository
	ledger     port.InventoryLedger
	config     port.ConfigStore
	catalog    port.Catalog
	events     port.EventPublisher
	movements  *MovementLog
	logger     *zap.Logger
}

func NewOrderService(
	orders port.OrderRepository,
	downstream port.DownstreamOrderRepository,
	ledger port.InventoryLedger,
	config port.ConfigStore,
	catalog port.Catalog,
	events port.EventPublisher,
	movements *MovementLog,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:     orders,
		downstream: downstream,
		ledger:     ledger,
		config:     config,
		catalog:    catalog,
		events:     events,
		movements:  movements,
		logger:     logger,
	}
}

// Create validates the item list against the catalog and persists the order
// in PENDING state. No stock is consulted here.
func (s *OrderService) Create(ctx context.Context, workstationID string, items []domain.OrderItem, notes string) (*domain.CustomerOrder, error) {
	if workstationID == "" {
		return nil, domain.ErrMissingWorkstation
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("item %s/%s: %w", item.ItemType, item.ItemID, domain.ErrInvalidQuantity)
		}
		if !item.ItemType.Valid() {
			return nil, fmt.Errorf("item type %q: %w", item.ItemType, domain.ErrUnknownItem)
		}
		exists, err := s.catalog.ResolveItem(ctx, item.ItemType, item.ItemID)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup for %s/%s: %w", item.ItemType, item.ItemID, err)
		}
		if !exists {
			return nil, fmt.Errorf("item %s/%s: %w", item.ItemType, item.ItemID, domain.ErrUnknownItem)
		}
	}

	now := time.Now()
	order := &domain.CustomerOrder{
		ID:            uuid.NewString(),
		OrderNumber:   newOrderNumber(workstationID, now),
		WorkstationID: workstationID,
		Items:         items,
		Status:        domain.OrderStatusPending,
		Notes:         notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("workstation_id", workstationID),
		zap.Int("items", len(items)))
	return order, nil
}

// Confirm moves PENDING -> CONFIRMED. State-only: stock and routing are not
// evaluated, so a confirm succeeds even for an order that later turns out to
// be undersupplied.
func (s *OrderService) Confirm(ctx context.Context, orderID string) (*domain.CustomerOrder, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPending {
		return order, fmt.Errorf("confirm from %s: %w", order.Status, domain.ErrInvalidStateTransition)
	}
	if err := s.transition(ctx, order, domain.OrderStatusPending, domain.OrderStatusConfirmed, nil); err != nil {
		return order, err
	}
	return order, nil
}

// Cancel moves PENDING or CONFIRMED -> CANCELLED. No debit has happened in
// either source state, so there is no inventory effect.
func (s *OrderService) Cancel(ctx context.Context, orderID string) (*domain.CustomerOrder, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(domain.OrderStatusCancelled) {
		return order, fmt.Errorf("cancel from %s: %w", order.Status, domain.ErrInvalidStateTransition)
	}
	if err := s.transition(ctx, order, order.Status, domain.OrderStatusCancelled, nil); err != nil {
		return order, err
	}
	s.logger.Info("order cancelled", zap.String("order_id", order.ID))
	return order, nil
}

// Get returns the current order snapshot.
func (s *OrderService) Get(ctx context.Context, orderID string) (*domain.CustomerOrder, error) {
	return s.orders.GetOrder(ctx, orderID)
}

// shortage is one undersupplied order item with the scenario that applied to
// it at evaluation time.
type shortage struct {
	item      domain.OrderItem
	scenario  domain.Scenario
	available int
}

// Fulfill resolves a CONFIRMED order. Either every item is debited and the
// order completes, or no net debit happens at all and the order moves to
// PROCESSING with one downstream order per undersupplied item.
func (s *OrderService) Fulfill(ctx context.Context, orderID string) (*domain.CustomerOrder, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusConfirmed {
		return order, fmt.Errorf("fulfill from %s: %w", order.Status, domain.ErrInvalidStateTransition)
	}

	threshold, err := s.config.Threshold(ctx)
	if err != nil {
		return order, fmt.Errorf("read lot-size threshold: %w", err)
	}

	shortages, err := s.evaluate(ctx, order, threshold)
	if err != nil {
		return order, err
	}

	if len(shortages) == 0 {
		return s.fulfillDirect(ctx, order, threshold)
	}
	return s.routeShortfalls(ctx, order, shortages)
}

// evaluate routes every item against a stock snapshot. Snapshots may go stale
// before the debit; fulfillDirect handles that race.
func (s *OrderService) evaluate(ctx context.Context, order *domain.CustomerOrder, threshold int) ([]shortage, error) {
	var shortages []shortage
	for _, item := range order.Items {
		available, err := s.ledger.Query(ctx, order.StockKeyFor(item))
		if err != nil {
			return nil, fmt.Errorf("query stock for %s/%s: %w", item.ItemType, item.ItemID, err)
		}
		sc := domain.Route(item.Quantity, available, threshold)
		if sc != domain.ScenarioDirectFulfillment {
			shortages = append(shortages, shortage{item: item, scenario: sc, available: available})
		}
	}
	return shortages, nil
}

// fulfillDirect debits every item and completes the order. A debit that loses
// a race against another fulfiller is re-routed once on the quantity the
// ledger reported; all debits made so far are credited back before the order
// takes the shortfall path, so the call never commits a partial debit.
func (s *OrderService) fulfillDirect(ctx context.Context, order *domain.CustomerOrder, threshold int) (*domain.CustomerOrder, error) {
	type debit struct {
		key    domain.StockKey
		amount int
	}
	var debited []debit

	rollback := func() {
		for _, d := range debited {
			if _, err := s.ledger.Credit(ctx, d.key, d.amount); err != nil {
				s.logger.Error("rollback credit failed",
					zap.String("order_id", order.ID),
					zap.String("stock_key", d.key.String()),
					zap.Int("amount", d.amount),
					zap.Error(err))
			}
		}
	}

	for i, item := range order.Items {
		key := order.StockKeyFor(item)
		res, err := s.ledger.TryDebit(ctx, key, item.Quantity)
		if err != nil {
			rollback()
			return order, fmt.Errorf("debit %s: %w", key, err)
		}
		if res.Debited {
			debited = append(debited, debit{key: key, amount: item.Quantity})
			continue
		}

		// Another fulfiller consumed the stock after our snapshot. Route this
		// item again on the current quantity, then re-evaluate what is left.
		sc := domain.Route(item.Quantity, res.Quantity, threshold)
		shortages := []shortage{{item: item, scenario: sc, available: res.Quantity}}
		rollback()
		debited = nil

		for _, rest := range order.Items[i+1:] {
			available, err := s.ledger.Query(ctx, order.StockKeyFor(rest))
			if err != nil {
				return order, fmt.Errorf("query stock for %s/%s: %w", rest.ItemType, rest.ItemID, err)
			}
			if rsc := domain.Route(rest.Quantity, available, threshold); rsc != domain.ScenarioDirectFulfillment {
				shortages = append(shortages, shortage{item: rest, scenario: rsc, available: available})
			}
		}
		return s.routeShortfalls(ctx, order, shortages)
	}

	scenario := domain.ScenarioDirectFulfillment
	if err := s.transition(ctx, order, domain.OrderStatusConfirmed, domain.OrderStatusCompleted, &scenario); err != nil {
		// Lost to a concurrent cancel; nothing was sold.
		rollback()
		return order, err
	}

	for _, d := range debited {
		if !s.movements.Record(d.key, -d.amount, domain.ReasonOrderDebit, order.ID, "") {
			s.logger.Warn("movement queue full, audit entry dropped",
				zap.String("order_id", order.ID),
				zap.String("stock_key", d.key.String()))
		}
	}
	s.publishCompleted(ctx, order)
	s.logger.Info("order completed",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.Items)))
	return order, nil
}

// routeShortfalls moves the order to PROCESSING and creates one downstream
// order per undersupplied item. Creation is idempotent, so a retry after a
// transient storage failure cannot duplicate a shortfall.
func (s *OrderService) routeShortfalls(ctx context.Context, order *domain.CustomerOrder, shortages []shortage) (*domain.CustomerOrder, error) {
	for _, sh := range shortages {
		kind, ok := domain.KindForScenario(sh.scenario)
		if !ok {
			return order, fmt.Errorf("scenario %s has no downstream order kind", sh.scenario)
		}
		now := time.Now()
		created, fresh, err := s.downstream.CreateDownstream(ctx, &domain.DownstreamOrder{
			ID:              uuid.NewString(),
			CustomerOrderID: order.ID,
			Kind:            kind,
			Scenario:        sh.scenario,
			ItemType:        sh.item.ItemType,
			ItemID:          sh.item.ItemID,
			ShortfallQty:    sh.item.Quantity - sh.available,
			Status:          domain.DownstreamStatusOpen,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return order, fmt.Errorf("create downstream order for %s/%s: %w", sh.item.ItemType, sh.item.ItemID, err)
		}
		if fresh {
			s.publishDownstream(ctx, created)
			s.logger.Info("downstream order created",
				zap.String("order_id", order.ID),
				zap.String("downstream_id", created.ID),
				zap.String("kind", string(created.Kind)),
				zap.String("item_id", created.ItemID),
				zap.Int("shortfall", created.ShortfallQty))
		}
	}

	// The order-level trigger scenario is the first undersupplied item's;
	// per-item scenarios live on the downstream orders.
	scenario := shortages[0].scenario
	if err := s.transition(ctx, order, domain.OrderStatusConfirmed, domain.OrderStatusProcessing, &scenario); err != nil {
		return order, err
	}
	s.logger.Info("order processing",
		zap.String("order_id", order.ID),
		zap.String("trigger_scenario", string(scenario)),
		zap.Int("shortfalls", len(shortages)))
	return order, nil
}

// ResolveDownstream is the callback for a warehouse or production order that
// finished its own lifecycle. When the last open downstream order for a
// customer order resolves, the customer order moves PROCESSING -> COMPLETED.
func (s *OrderService) ResolveDownstream(ctx context.Context, downstreamID string) (*domain.CustomerOrder, error) {
	dso, err := s.downstream.GetDownstream(ctx, downstreamID)
	if err != nil {
		return nil, err
	}
	if err := s.downstream.MarkDownstreamFulfilled(ctx, downstreamID); err != nil {
		return nil, fmt.Errorf("mark downstream fulfilled: %w", err)
	}

	order, err := s.orders.GetOrder(ctx, dso.CustomerOrderID)
	if err != nil {
		return nil, err
	}
	siblings, err := s.downstream.ListDownstreamByOrder(ctx, dso.CustomerOrderID)
	if err != nil {
		return order, fmt.Errorf("list downstream orders: %w", err)
	}
	for _, sib := range siblings {
		if sib.ID != downstreamID && sib.Status != domain.DownstreamStatusFulfilled {
			return order, nil
		}
	}

	if order.Status != domain.OrderStatusProcessing {
		return order, nil
	}
	if err := s.transition(ctx, order, domain.OrderStatusProcessing, domain.OrderStatusCompleted, nil); err != nil {
		// Two sibling resolutions can race this transition. The loser finds
		// the order already COMPLETED on reload, which is the outcome it
		// wanted, not a failure.
		if order.Status == domain.OrderStatusCompleted {
			return order, nil
		}
		return order, err
	}
	s.publishCompleted(ctx, order)
	s.logger.Info("order completed via downstream resolution",
		zap.String("order_id", order.ID),
		zap.String("downstream_id", downstreamID))
	return order, nil
}

// transition applies a status change through the repository's atomic
// compare-and-set and mirrors it onto the in-memory snapshot. A conflict
// means another caller changed the order first, which to this caller is an
// invalid transition.
func (s *OrderService) transition(ctx context.Context, order *domain.CustomerOrder, from, to domain.OrderStatus, scenario *domain.Scenario) error {
	if err := s.orders.TransitionOrder(ctx, order.ID, from, to, scenario); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			if current, gerr := s.orders.GetOrder(ctx, order.ID); gerr == nil {
				*order = *current
			}
			return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidStateTransition)
		}
		return fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	order.Status = to
	if scenario != nil {
		order.TriggerScenario = scenario
	}
	order.UpdatedAt = time.Now()
	return nil
}

func (s *OrderService) publishCompleted(ctx context.Context, order *domain.CustomerOrder) {
	if s.events == nil {
		return
	}
	if err := s.events.OrderCompleted(ctx, order); err != nil {
		s.logger.Warn("publish order completed failed", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (s *OrderService) publishDownstream(ctx context.Context, dso *domain.DownstreamOrder) {
	if s.events == nil {
		return
	}
	if err := s.events.DownstreamCreated(ctx, dso); err != nil {
		s.logger.Warn("publish downstream created failed", zap.String("downstream_id", dso.ID), zap.Error(err))
	}
}

func newOrderNumber(workstationID string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", workstationID, now.UTC().Format("20060102"), suffix)
}
