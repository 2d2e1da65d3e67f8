package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetDefault(zap.New(core))
	t.Cleanup(func() { SetDefault(zap.NewNop()) })

	FromContext(context.Background()).Info("fallback")

	scoped := zap.New(core).With(zap.String("request_id", "r-1"))
	ctx := WithContext(context.Background(), scoped)
	FromContext(ctx).Info("scoped")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].ContextMap()["request_id"] != "r-1" {
		t.Fatalf("expected request id on scoped entry, got %v", entries[1].ContextMap())
	}
}

func TestNewBuildsBothEncoders(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		log, err := New("debug", env, "sourcing-test")
		if err != nil {
			t.Fatalf("%s: %v", env, err)
		}
		if !log.Core().Enabled(zap.DebugLevel) {
			t.Fatalf("%s: expected debug level enabled", env)
		}
	}
}
