// Package messaging abstracts the broker integration events are relayed to.
package messaging

import (
	"context"

	"go.uber.org/zap"
)

// Publisher delivers one encoded message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// LogPublisher writes messages to the log instead of a broker. It is used
// when no brokers are configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	p.log.Info("outbox message",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", payload),
	)
	return nil
}
