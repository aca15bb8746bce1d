package config

import (
	"fmt"
	"os"
	"strconv"
)

// Storage modes for the server. In cache mode Redis serves the hot debit
// path while MySQL holds orders, downstream orders, configuration, and the
// movement audit trail.
const (
	ModeMemory = "memory"
	ModeMySQL  = "mysql"
	ModeCache  = "cache"
)

type Config struct {
	HTTPAddr    string
	StorageMode string
	MySQLDSN    string
	RedisAddr   string
	KafkaBroker string // empty disables the event surface
	CatalogURL  string // empty falls back to the permissive static catalog

	WorkerCount      int
	MovementQueue    int
	DefaultThreshold int
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StorageMode:      getEnv("STORAGE_MODE", ModeMySQL),
		MySQLDSN:         getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/fulfillment?parseTime=true"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBroker:      os.Getenv("KAFKA_BROKER"),
		CatalogURL:       os.Getenv("CATALOG_URL"),
		WorkerCount:      10,
		MovementQueue:    10000,
		DefaultThreshold: 10,
	}

	switch cfg.StorageMode {
	case ModeMemory, ModeMySQL, ModeCache:
	default:
		return nil, fmt.Errorf("STORAGE_MODE %q: must be %s, %s or %s",
			cfg.StorageMode, ModeMemory, ModeMySQL, ModeCache)
	}

	var err error
	if cfg.WorkerCount, err = getEnvInt("WORKER_COUNT", cfg.WorkerCount); err != nil {
		return nil, err
	}
	if cfg.MovementQueue, err = getEnvInt("MOVEMENT_QUEUE_SIZE", cfg.MovementQueue); err != nil {
		return nil, err
	}
	if cfg.DefaultThreshold, err = getEnvInt("LOT_SIZE_THRESHOLD_DEFAULT", cfg.DefaultThreshold); err != nil {
		return nil, err
	}
	if cfg.DefaultThreshold < 1 {
		return nil, fmt.Errorf("LOT_SIZE_THRESHOLD_DEFAULT must be at least 1")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
