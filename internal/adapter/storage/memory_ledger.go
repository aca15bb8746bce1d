package storage

import (
	"context"
	"sync"
	"time"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

const defaultLockTimeout = 2 * time.Second

// MemoryLedger is the single-process inventory ledger. Each stock record
// carries its own critical section, so contention on one key never blocks
// another.
type MemoryLedger struct {
	mu          sync.RWMutex
	records     map[domain.StockKey]*memRecord
	lockTimeout time.Duration
}

type memRecord struct {
	sem       chan struct{} // size 1: the per-key critical section
	quantity  int
	version   int
	createdAt time.Time
	updatedAt time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:     make(map[domain.StockKey]*memRecord),
		lockTimeout: defaultLockTimeout,
	}
}

// SetLockTimeout overrides how long a debit may wait on a contended key.
func (l *MemoryLedger) SetLockTimeout(d time.Duration) {
	l.lockTimeout = d
}

func (l *MemoryLedger) get(key domain.StockKey) *memRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[key]
}

// getOrCreate lazily creates the record; records are never deleted.
func (l *MemoryLedger) getOrCreate(key domain.StockKey) *memRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		now := time.Now()
		rec = &memRecord{sem: make(chan struct{}, 1), createdAt: now, updatedAt: now}
		l.records[key] = rec
	}
	return rec
}

// acquire enters the record's critical section, giving up after the lock
// timeout or when the caller's context ends.
func (l *MemoryLedger) acquire(ctx context.Context, rec *memRecord) error {
	timer := time.NewTimer(l.lockTimeout)
	defer timer.Stop()
	select {
	case rec.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return domain.ErrConcurrencyTimeout
	case <-timer.C:
		return domain.ErrConcurrencyTimeout
	}
}

func (l *MemoryLedger) release(rec *memRecord) {
	<-rec.sem
}

func (l *MemoryLedger) TryDebit(ctx context.Context, key domain.StockKey, amount int) (domain.DebitResult, error) {
	rec := l.get(key)
	if rec == nil {
		// Never adjusted: nothing to sell, and no record to create.
		return domain.DebitResult{Debited: false, Quantity: 0}, nil
	}
	if err := l.acquire(ctx, rec); err != nil {
		return domain.DebitResult{}, err
	}
	defer l.release(rec)

	if rec.quantity < amount {
		return domain.DebitResult{Debited: false, Quantity: rec.quantity}, nil
	}
	rec.quantity -= amount
	rec.version++
	rec.updatedAt = time.Now()
	return domain.DebitResult{Debited: true, Quantity: rec.quantity}, nil
}

func (l *MemoryLedger) Credit(ctx context.Context, key domain.StockKey, amount int) (int, error) {
	rec := l.getOrCreate(key)
	if err := l.acquire(ctx, rec); err != nil {
		return 0, err
	}
	defer l.release(rec)

	rec.quantity += amount
	rec.version++
	rec.updatedAt = time.Now()
	return rec.quantity, nil
}

func (l *MemoryLedger) Adjust(ctx context.Context, key domain.StockKey, delta int, reason domain.AdjustReason) (int, error) {
	rec := l.getOrCreate(key)
	if err := l.acquire(ctx, rec); err != nil {
		return 0, err
	}
	defer l.release(rec)

	next := rec.quantity + delta
	if next < 0 {
		if !reason.AdministrativeOverride() {
			return rec.quantity, domain.ErrInvalidAdjustment
		}
		next = 0 // overrides correct downwards but never commit a negative
	}
	rec.quantity = next
	rec.version++
	rec.updatedAt = time.Now()
	return rec.quantity, nil
}

func (l *MemoryLedger) Query(ctx context.Context, key domain.StockKey) (int, error) {
	rec := l.get(key)
	if rec == nil {
		return 0, nil
	}
	if err := l.acquire(ctx, rec); err != nil {
		return 0, err
	}
	defer l.release(rec)
	return rec.quantity, nil
}
