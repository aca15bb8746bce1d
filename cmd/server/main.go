package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/adapter/catalog"
	"github.com/stationworks/fulfillment/internal/adapter/events"
	"github.com/stationworks/fulfillment/internal/adapter/handler"
	"github.com/stationworks/fulfillment/internal/adapter/storage"
	"github.com/stationworks/fulfillment/internal/config"
	"github.com/stationworks/fulfillment/internal/core/domain"
	"github.com/stationworks/fulfillment/internal/core/service"
	"github.com/stationworks/fulfillment/internal/port"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		ledger        port.InventoryLedger
		orders        port.OrderRepository
		downstream    port.DownstreamOrderRepository
		configStore   port.ConfigStore
		movementStore port.MovementStore
	)

	switch cfg.StorageMode {
	case config.ModeMemory:
		memStore := storage.NewMemoryStore(cfg.DefaultThreshold)
		ledger = storage.NewMemoryLedger()
		orders = memStore
		downstream = storage.NewMemoryDownstreamRepo()
		configStore = memStore
		movementStore = memStore
		logger.Info("using in-memory storage")

	case config.ModeMySQL, config.ModeCache:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("open mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("ping mysql", zap.Error(err))
		}
		defer db.Close()
		logger.Info("connected to mysql")

		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.EnsureThreshold(ctx, cfg.DefaultThreshold); err != nil {
			logger.Fatal("seed lot-size threshold", zap.Error(err))
		}
		ledger = mysqlAdapter
		orders = mysqlAdapter
		downstream = mysqlAdapter
		configStore = mysqlAdapter
		movementStore = mysqlAdapter

		if cfg.StorageMode == config.ModeCache {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.RedisAddr,
				PoolSize: 100,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				logger.Fatal("ping redis", zap.Error(err))
			}
			defer rdb.Close()
			logger.Info("connected to redis")
			ledger = storage.NewRedisLedger(rdb)
		}
	}

	var cat port.Catalog = catalog.PermissiveCatalog{}
	if cfg.CatalogURL != "" {
		cat = catalog.NewHTTPCatalog(cfg.CatalogURL)
	}

	var publisher port.EventPublisher
	var kafkaPublisher *events.KafkaPublisher
	if cfg.KafkaBroker != "" {
		kafkaPublisher = events.NewKafkaPublisher(cfg.KafkaBroker, logger)
		publisher = kafkaPublisher
		logger.Info("event publishing enabled", zap.String("broker", cfg.KafkaBroker))
	}

	movements := service.NewMovementLog(cfg.MovementQueue)
	orderService := service.NewOrderService(orders, downstream, ledger, configStore, cat, publisher, movements, logger)
	inventoryService := service.NewInventoryService(ledger, configStore, movements, logger)

	// Movement audit workers drain the queue into the system of record.
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			movementWorker(id, movements.Queue(), movementStore, logger)
		}(i)
	}
	logger.Info("started movement workers", zap.Int("count", cfg.WorkerCount))

	var consumer *events.ResultConsumer
	if cfg.KafkaBroker != "" {
		consumer = events.NewResultConsumer(cfg.KafkaBroker, orderService, logger)
		go consumer.Run(ctx)
		logger.Info("downstream result consumer started")
	}

	mux := http.NewServeMux()
	httpHandler := handler.NewHTTPHandler(orderService, inventoryService, logger)
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	if consumer != nil {
		consumer.Close()
	}
	cancel()

	movements.Close()
	wg.Wait()
	logger.Info("movement workers stopped")

	if kafkaPublisher != nil {
		kafkaPublisher.Close()
	}
}

// movementWorker persists stock movements. A movement records an already
// committed quantity change, so failures are retried once and then logged
// loudly rather than unwinding the sale.
func movementWorker(id int, queue <-chan domain.StockMovement, store port.MovementStore, logger *zap.Logger) {
	for mv := range queue {
		ctx, cancelInsert := context.WithTimeout(context.Background(), 5*time.Second)
		err := store.InsertMovement(ctx, mv)
		if err != nil {
			err = store.InsertMovement(ctx, mv)
		}
		cancelInsert()

		if err != nil {
			logger.Error("CRITICAL: movement not persisted",
				zap.Int("worker", id),
				zap.String("movement_id", mv.ID),
				zap.String("stock_key", mv.Key.String()),
				zap.Int("delta", mv.Delta),
				zap.Error(err))
		}
	}
}
