package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/adapter/catalog"
	"github.com/stationworks/fulfillment/internal/adapter/storage"
	"github.com/stationworks/fulfillment/internal/core/domain"
	"github.com/stationworks/fulfillment/internal/core/service"
)

// Contention harness: many orders fulfill concurrently against one stock key.
// Exactly initialStock of them may complete and the key must end at zero.
const (
	workstationID = "WS1"
	itemID        = "gear-housing"
	initialStock  = 20
	totalOrders   = 50
	threshold     = 10
)

func main() {
	ctx := context.Background()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	key := domain.StockKey{WorkstationID: workstationID, ItemType: domain.ItemTypePart, ItemID: itemID}
	ledger := storage.NewRedisLedger(rdb)
	if err := ledger.SetStock(ctx, key, initialStock); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	logger := zap.NewNop()
	store := storage.NewMemoryStore(threshold)
	downstream := storage.NewMemoryDownstreamRepo()
	movements := service.NewMovementLog(totalOrders * 2)
	orderService := service.NewOrderService(store, downstream, ledger, store, catalog.PermissiveCatalog{}, nil, movements, logger)

	go func() {
		for range movements.Queue() {
		}
	}()
	defer movements.Close()

	// Stage the orders up front so the timed section is pure contention.
	orderIDs := make([]string, 0, totalOrders)
	for i := 0; i < totalOrders; i++ {
		order, err := orderService.Create(ctx, workstationID,
			[]domain.OrderItem{{ItemType: domain.ItemTypePart, ItemID: itemID, Quantity: 1}}, "")
		if err != nil {
			log.Fatalf("create order %d: %v", i, err)
		}
		if _, err := orderService.Confirm(ctx, order.ID); err != nil {
			log.Fatalf("confirm order %d: %v", i, err)
		}
		orderIDs = append(orderIDs, order.ID)
	}

	var completed, processing, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			order, err := orderService.Fulfill(ctx, orderID)
			switch {
			case err != nil:
				failed.Add(1)
			case order.Status == domain.OrderStatusCompleted:
				completed.Add(1)
			case order.Status == domain.OrderStatusProcessing:
				processing.Add(1)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Orders:     %d\n", totalOrders)
	fmt.Printf("Completed:        %d\n", completed.Load())
	fmt.Printf("Processing:       %d\n", processing.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if completed.Load() == initialStock && processing.Load() == totalOrders-initialStock {
		fmt.Printf("PASS: exactly %d completed, %d routed to downstream\n", initialStock, totalOrders-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d completed/%d processing, got %d/%d\n",
			initialStock, totalOrders-initialStock, completed.Load(), processing.Load())
	}

	finalStock, err := ledger.Query(ctx, key)
	if err != nil {
		log.Fatalf("query final stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", finalStock)
	if finalStock == 0 {
		fmt.Println("PASS: stock depleted to 0, never negative")
	} else {
		fmt.Printf("FAIL: expected stock 0, got %d\n", finalStock)
	}
}
