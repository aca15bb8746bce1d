package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/stationworks/fulfillment/internal/core/domain"
)

const (
	OrdersTopic            = "fulfillment.orders"
	DownstreamTopic        = "fulfillment.downstream-orders"
	DownstreamResultsTopic = "fulfillment.downstream-results"

	consumerGroupID = "fulfillment-core"
)

// OrderCompletedEvent announces a customer order reaching COMPLETED.
type OrderCompletedEvent struct {
	OrderID         string    `json:"order_id"`
	OrderNumber     string    `json:"order_number"`
	WorkstationID   string    `json:"workstation_id"`
	TriggerScenario string    `json:"trigger_scenario,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// DownstreamCreatedEvent announces a warehouse or production order created
// from a shortfall. Warehouse and production planning consume it.
type DownstreamCreatedEvent struct {
	DownstreamID    string    `json:"downstream_id"`
	CustomerOrderID string    `json:"customer_order_id"`
	Kind            string    `json:"kind"`
	Scenario        string    `json:"scenario"`
	ItemType        string    `json:"item_type"`
	ItemID          string    `json:"item_id"`
	ShortfallQty    int       `json:"shortfall_qty"`
	CreatedAt       time.Time `json:"created_at"`
}

// DownstreamResultEvent is published by warehouse/production systems when a
// downstream order finishes its own lifecycle.
type DownstreamResultEvent struct {
	DownstreamID string `json:"downstream_id"`
}

// KafkaPublisher implements port.EventPublisher over two topics.
type KafkaPublisher struct {
	orders     *kafka.Writer
	downstream *kafka.Writer
	logger     *zap.Logger
}

func NewKafkaPublisher(broker string, logger *zap.Logger) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return &KafkaPublisher{
		orders:     newWriter(OrdersTopic),
		downstream: newWriter(DownstreamTopic),
		logger:     logger,
	}
}

func (p *KafkaPublisher) OrderCompleted(ctx context.Context, order *domain.CustomerOrder) error {
	event := OrderCompletedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		WorkstationID: order.WorkstationID,
		CompletedAt:   order.UpdatedAt,
	}
	if order.TriggerScenario != nil {
		event.TriggerScenario = string(*order.TriggerScenario)
	}
	return p.publish(ctx, p.orders, order.ID, event)
}

func (p *KafkaPublisher) DownstreamCreated(ctx context.Context, order *domain.DownstreamOrder) error {
	event := DownstreamCreatedEvent{
		DownstreamID:    order.ID,
		CustomerOrderID: order.CustomerOrderID,
		Kind:            string(order.Kind),
		Scenario:        string(order.Scenario),
		ItemType:        string(order.ItemType),
		ItemID:          order.ItemID,
		ShortfallQty:    order.ShortfallQty,
		CreatedAt:       order.CreatedAt,
	}
	return p.publish(ctx, p.downstream, order.CustomerOrderID, event)
}

func (p *KafkaPublisher) publish(ctx context.Context, w *kafka.Writer, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("write to %s: %w", w.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.orders.Close(), p.downstream.Close())
}

// DownstreamResolver is the order-state-machine side of the resolution hook.
type DownstreamResolver interface {
	ResolveDownstream(ctx context.Context, downstreamID string) (*domain.CustomerOrder, error)
}

// ResultConsumer drives the downstream resolution hook: warehouse and
// production systems report fulfilled downstream orders on the results topic,
// and each message transitions the owning customer order out of PROCESSING
// when it was the last one outstanding.
type ResultConsumer struct {
	reader   *kafka.Reader
	resolver DownstreamResolver
	logger   *zap.Logger
}

func NewResultConsumer(broker string, resolver DownstreamResolver, logger *zap.Logger) *ResultConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   DownstreamResultsTopic,
		GroupID: consumerGroupID,
	})
	return &ResultConsumer{reader: reader, resolver: resolver, logger: logger}
}

// Run consumes until the context ends or the reader is closed. Offsets are
// committed only after the message is processed, so a resolution that fails
// on a transient error is redelivered instead of lost.
func (c *ResultConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("fetch downstream result", zap.Error(err))
			continue
		}

		if err := c.process(ctx, msg.Value); err != nil {
			c.logger.Error("resolve downstream order", zap.Error(err))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit downstream result offset", zap.Error(err))
		}
	}
}

// process handles one result message. A nil return means the message is done
// with and its offset may be committed; that includes poison messages that
// can never succeed, such as malformed payloads and unknown downstream IDs.
func (c *ResultConsumer) process(ctx context.Context, value []byte) error {
	var event DownstreamResultEvent
	if err := json.Unmarshal(value, &event); err != nil {
		c.logger.Warn("malformed downstream result",
			zap.ByteString("value", value), zap.Error(err))
		return nil
	}

	order, err := c.resolver.ResolveDownstream(ctx, event.DownstreamID)
	if err != nil {
		if errors.Is(err, domain.ErrDownstreamNotFound) {
			c.logger.Warn("downstream result for unknown order",
				zap.String("downstream_id", event.DownstreamID))
			return nil
		}
		return fmt.Errorf("downstream %s: %w", event.DownstreamID, err)
	}
	c.logger.Info("downstream order resolved",
		zap.String("downstream_id", event.DownstreamID),
		zap.String("order_id", order.ID),
		zap.String("order_status", string(order.Status)))
	return nil
}

func (c *ResultConsumer) Close() error {
	return c.reader.Close()
}
