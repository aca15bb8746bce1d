package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

// MovementLog is a buffered queue of committed stock movements. The server
// drains it with a worker pool that persists movements to the system of
// record; tests drain it inline.
type MovementLog struct {
	queue chan domain.StockMovement
}

func NewMovementLog(size int) *MovementLog {
	return &MovementLog{queue: make(chan domain.StockMovement, size)}
}

// Record queues a movement without blocking. The movement describes an
// already committed quantity change, so when the queue is full the entry is
// dropped rather than stalling the fulfill that produced it; Record reports
// whether the entry was queued so the caller can log the loss.
func (l *MovementLog) Record(key domain.StockKey, delta int, reason domain.AdjustReason, orderID, actor string) bool {
	select {
	case l.queue <- domain.StockMovement{
		ID:        uuid.NewString(),
		Key:       key,
		Delta:     delta,
		Reason:    reason,
		OrderID:   orderID,
		Actor:     actor,
		CreatedAt: time.Now(),
	}:
		return true
	default:
		return false
	}
}

func (l *MovementLog) Queue() <-chan domain.StockMovement {
	return l.queue
}

func (l *MovementLog) Close() {
	close(l.queue)
}
