package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/jewelrycart/pkg/mq"
)

// Envelope 消息外层结构
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// KafkaPublisher 将购物车事件写入 Kafka，消息 key 为身份键
type KafkaPublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaPublisher 创建 Kafka 事件发布者
func NewKafkaPublisher(producer *mq.KafkaProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish 发布事件
func (p *KafkaPublisher) Publish(ctx context.Context, eventType, key string, event any) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    event,
	}
	return p.producer.SendMessage(ctx, p.topic, key, env, map[string]string{
		"event_type": eventType,
		"event_id":   env.ID,
	})
}

// Close 关闭底层生产者
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher 未配置消息队列时丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
