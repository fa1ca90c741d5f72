package event

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StockHandler 库存变化的处理方 (ProductService)
type StockHandler interface {
	OnVariantStockChanged(ctx context.Context, variantID int64, quantity int) error
}

// StockChangedEvent 上游库存系统推送的消息
type StockChangedEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	VariantID int64     `json:"variant_id"`
	Quantity  *int      `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// StockConsumer 消费库存变化并转交给 StockHandler
type StockConsumer struct {
	reader  messageReader
	handler StockHandler
	log     *zap.Logger
	backoff time.Duration
}

func NewStockConsumer(brokers []string, topic, groupID string, handler StockHandler, log *zap.Logger) *StockConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return newStockConsumer(reader, handler, log)
}

func newStockConsumer(reader messageReader, handler StockHandler, log *zap.Logger) *StockConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &StockConsumer{reader: reader, handler: handler, log: log, backoff: time.Second}
}

// Start 阻塞读取，ctx 取消后返回
func (c *StockConsumer) Start(ctx context.Context) {
	c.log.Info("Starting stock consumer")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Stopping stock consumer")
			return
		default:
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Error("Failed to read kafka message", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.process(ctx, msg.Value)
	}
}

func (c *StockConsumer) process(ctx context.Context, value []byte) {
	var evt StockChangedEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		c.log.Error("Failed to unmarshal stock event", zap.Error(err))
		return
	}
	if evt.VariantID <= 0 || evt.Quantity == nil {
		c.log.Warn("Invalid stock event", zap.String("event_id", evt.EventID))
		return
	}

	if err := c.handler.OnVariantStockChanged(ctx, evt.VariantID, *evt.Quantity); err != nil {
		c.log.Error("Failed to apply stock change",
			zap.Int64("variant_id", evt.VariantID),
			zap.Int("quantity", *evt.Quantity),
			zap.Error(err))
	}
}

func (c *StockConsumer) Close() error {
	return c.reader.Close()
}
