package storage

import (
	"context"
	"sync"
	"time"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// MemoryStore backs the order, configuration and movement ports for
// single-process runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]*domain.CustomerOrder
	movements   []domain.StockMovement
	threshold   int
	thresholdBy string
}

func NewMemoryStore(threshold int) *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*domain.CustomerOrder),
		threshold: threshold,
	}
}

func copyOrder(o *domain.CustomerOrder) *domain.CustomerOrder {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.TriggerScenario != nil {
		sc := *o.TriggerScenario
		cp.TriggerScenario = &sc
	}
	return &cp
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order *domain.CustomerOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = copyOrder(order)
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.CustomerOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (s *MemoryStore) TransitionOrder(ctx context.Context, orderID string, from, to domain.OrderStatus, scenario *domain.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != from {
		return domain.ErrVersionConflict
	}
	order.Status = to
	if scenario != nil {
		sc := *scenario
		order.TriggerScenario = &sc
	}
	order.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Threshold(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold, nil
}

func (s *MemoryStore) SetThreshold(ctx context.Context, value int, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = value
	s.thresholdBy = updatedBy
	return nil
}

func (s *MemoryStore) InsertMovement(ctx context.Context, m domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, m)
	return nil
}

// Movements returns a snapshot of the audit trail, oldest first.
func (s *MemoryStore) Movements() []domain.StockMovement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StockMovement(nil), s.movements...)
}

// MemoryDownstreamRepo holds warehouse and production orders with the
// one-per-(customer order, item) idempotency rule.
type MemoryDownstreamRepo struct {
	mu     sync.RWMutex
	orders map[string]*domain.DownstreamOrder
	index  map[shortfallKey]string
}

type shortfallKey struct {
	customerOrderID string
	itemType        domain.ItemType
	itemID          string
}

func NewMemoryDownstreamRepo() *MemoryDownstreamRepo {
	return &MemoryDownstreamRepo{
		orders: make(map[string]*domain.DownstreamOrder),
		index:  make(map[shortfallKey]string),
	}
}

func copyDownstream(o *domain.DownstreamOrder) *domain.DownstreamOrder {
	cp := *o
	return &cp
}

func (r *MemoryDownstreamRepo) CreateDownstream(ctx context.Context, order *domain.DownstreamOrder) (*domain.DownstreamOrder, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := shortfallKey{order.CustomerOrderID, order.ItemType, order.ItemID}
	if existingID, ok := r.index[key]; ok {
		return copyDownstream(r.orders[existingID]), false, nil
	}
	r.orders[order.ID] = copyDownstream(order)
	r.index[key] = order.ID
	return copyDownstream(order), true, nil
}

func (r *MemoryDownstreamRepo) GetDownstream(ctx context.Context, id string) (*domain.DownstreamOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrDownstreamNotFound
	}
	return copyDownstream(order), nil
}

func (r *MemoryDownstreamRepo) MarkDownstreamFulfilled(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return domain.ErrDownstreamNotFound
	}
	order.Status = domain.DownstreamStatusFulfilled
	order.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryDownstreamRepo) ListDownstreamByOrder(ctx context.Context, customerOrderID string) ([]*domain.DownstreamOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.DownstreamOrder
	for _, o := range r.orders {
		if o.CustomerOrderID == customerOrderID {
			out = append(out, copyDownstream(o))
		}
	}
	return out, nil
}
