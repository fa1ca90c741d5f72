package event

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// 事件类型
const (
	TypeSyncCompleted = "sync.completed"
	TypeSyncFailed    = "sync.failed"
	TypeVariantPruned = "variant.pruned"
	TypeProductPaused = "product.archived"
)

// SyncEvent 同步结果事件
type SyncEvent struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	ProductID int64                  `json:"product_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewSyncEvent 填充 ID 与时间戳
func NewSyncEvent(eventType string, productID int64, payload map[string]interface{}) SyncEvent {
	return SyncEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		ProductID: productID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, evt SyncEvent) error
	Close() error
}

// ==================== Kafka ====================

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 以 product_id 作为 key 写入，同一商品的事件保持有序
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt SyncEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(evt.ProductID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Failed to publish event", zap.String("event_type", evt.EventType), zap.Error(err))
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ==================== Noop ====================

// NoopPublisher Kafka 未启用时使用，只记日志
type NoopPublisher struct {
	log *zap.Logger
}

func NewNoopPublisher(log *zap.Logger) *NoopPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoopPublisher{log: log}
}

func (p *NoopPublisher) Publish(_ context.Context, evt SyncEvent) error {
	p.log.Debug("event", zap.String("event_type", evt.EventType), zap.Int64("product_id", evt.ProductID))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
