// Package mq 提供 Kafka 生产者封装
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff int
}

// MessageWriter kafka.Writer 的最小子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer MessageWriter
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll, // 等待所有副本确认
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return NewProducerWithWriter(writer), nil
}

// NewProducerWithWriter 使用已有 writer 创建生产者
func NewProducerWithWriter(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

// SendMessage 发送单条 JSON 消息，同一 key 落在同一分区
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value any, headers map[string]string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to send Kafka message",
			"topic", topic,
			"key", key,
			"error", err,
		)
		return err
	}

	logger.Debug(ctx, "Kafka message sent",
		"topic", topic,
		"key", key,
	)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
