package messaging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	if err := pub.Publish(context.Background(), "rfq.awarded", "rfq-1", []byte(`{"rfq_id":"rfq-1"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	entries := logs.FilterField(zap.String("topic", "rfq.awarded")).All()
	if len(entries) != 1 || entries[0].ContextMap()["key"] != "rfq-1" {
		t.Fatalf("expected one logged message, got %+v", logs.All())
	}
}
