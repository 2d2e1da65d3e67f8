// Package kafka publishes outbox messages to Apache Kafka.
package kafka

import (
	"context"
	"fmt"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
)

// Publisher writes to any topic through one shared writer.
type Publisher struct {
	writer *kafkaGo.Writer
	prefix string
}

// NewPublisher connects to brokers. Every topic is prefixed with prefix.
func NewPublisher(brokers []string, prefix string) *Publisher {
	return &Publisher{
		writer: &kafkaGo.Writer{
			Addr:                   kafkaGo.TCP(brokers...),
			Balancer:               &kafkaGo.LeastBytes{},
			RequiredAcks:           kafkaGo.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		prefix: prefix,
	}
}

// Topic returns the broker topic name for an outbox topic.
func (p *Publisher) Topic(topic string) string {
	return p.prefix + topic
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafkaGo.Message{
		Topic: p.Topic(topic),
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka: publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
