package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/core/domain"
	"github.com/stationworks/fulfillment/internal/port"
)

// InventoryService exposes the administrative stock and configuration
// operations. Order fulfillment never goes through here.
type InventoryService struct {
	ledger    port.InventoryLedger
	config    port.ConfigStore
	movements *MovementLog
	logger    *zap.Logger
}

func NewInventoryService(ledger port.InventoryLedger, config port.ConfigStore, movements *MovementLog, logger *zap.Logger) *InventoryService {
	return &InventoryService{ledger: ledger, config: config, movements: movements, logger: logger}
}

// Adjust applies a signed manual stock delta, creating the record on first
// use. The ledger enforces the no-negative rule and the administrative
// override semantics.
func (s *InventoryService) Adjust(ctx context.Context, key domain.StockKey, delta int, reason domain.AdjustReason, actor string) (int, error) {
	if !key.ItemType.Valid() {
		return 0, fmt.Errorf("item type %q: %w", key.ItemType, domain.ErrUnknownItem)
	}
	if reason == "" {
		reason = domain.ReasonManualCorrection
	}
	qty, err := s.ledger.Adjust(ctx, key, delta, reason)
	if err != nil {
		return 0, err
	}
	if !s.movements.Record(key, delta, reason, "", actor) {
		s.logger.Warn("movement queue full, audit entry dropped",
			zap.String("stock_key", key.String()))
	}
	s.logger.Info("stock adjusted",
		zap.String("stock_key", key.String()),
		zap.Int("delta", delta),
		zap.String("reason", string(reason)),
		zap.String("actor", actor),
		zap.Int("quantity", qty))
	return qty, nil
}

func (s *InventoryService) Query(ctx context.Context, key domain.StockKey) (int, error) {
	if !key.ItemType.Valid() {
		return 0, fmt.Errorf("item type %q: %w", key.ItemType, domain.ErrUnknownItem)
	}
	return s.ledger.Query(ctx, key)
}

func (s *InventoryService) Threshold(ctx context.Context) (int, error) {
	return s.config.Threshold(ctx)
}

// SetThreshold updates the lot-size threshold. Last write wins; orders
// already routed keep the decision they got.
func (s *InventoryService) SetThreshold(ctx context.Context, value int, updatedBy string) error {
	if value < 1 {
		return fmt.Errorf("lot-size threshold %d: %w", value, domain.ErrInvalidQuantity)
	}
	if err := s.config.SetThreshold(ctx, value, updatedBy); err != nil {
		return err
	}
	s.logger.Info("lot-size threshold updated",
		zap.Int("value", value),
		zap.String("updated_by", updatedBy))
	return nil
}
