package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"sourcingflow/apperr"
)

// GuardConfig tunes the breaker around the reasoning service.
type GuardConfig struct {
	Timeout time.Duration
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// Guarded bounds every call with a timeout and stops calling a failing
// service until the breaker cools down.
type Guarded struct {
	next    Advisor
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

func NewGuarded(next Advisor, cfg GuardConfig) *Guarded {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	failures := cfg.Failures
	return &Guarded{
		next:    next,
		timeout: cfg.Timeout,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "reasoning",
			MaxRequests: 1,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		}),
	}
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() string {
	return g.cb.State().String()
}

func (g *Guarded) Advise(ctx context.Context, req Request) (Advice, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Advise(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Advice{}, fmt.Errorf("reasoning: %v: %w", err, apperr.ErrExternalUnavailable)
		}
		if errors.Is(err, apperr.ErrExternalUnavailable) {
			return Advice{}, err
		}
		return Advice{}, fmt.Errorf("reasoning: %v: %w", err, apperr.ErrExternalUnavailable)
	}
	return out.(Advice), nil
}
