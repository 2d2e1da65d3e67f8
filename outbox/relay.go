package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"sourcingflow/db"
	"sourcingflow/messaging"
	"sourcingflow/metrics"
)

// DefaultMaxAttempts is how many failed relay passes park a message.
const DefaultMaxAttempts = 10

// Store is the relay's view of the outbox table.
type Store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string, maxAttempts int) (Status, error)
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
	// Retries and Backoff shape the in-process retry of one publish.
	Retries int
	Backoff time.Duration
}

// Relay moves pending outbox rows to the publisher.
type Relay struct {
	pool      db.TxBeginner
	repo      Store
	publisher messaging.Publisher
	cfg       RelayConfig
	retry     *retrier.Retrier
	log       *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewRelay(pool db.TxBeginner, repo Store, publisher messaging.Publisher, cfg RelayConfig, log *zap.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		retry:     retrier.New(retrier.ExponentialBackoff(cfg.Retries, cfg.Backoff), nil),
		log:       log,
		now:       time.Now,
	}
}

func (r *Relay) WithMetrics(m *metrics.Metrics) *Relay {
	r.metrics = m
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		res, err := r.pass(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("outbox relay pass failed", zap.Error(err))
		}
		// A full batch that made progress means more is probably waiting. A
		// batch that only failed stays pending and waits for the next tick.
		if err == nil && res.claimed == r.cfg.BatchSize && res.published > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce relays one batch and returns how many messages it handled,
// published or not.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	res, err := r.pass(ctx)
	return res.claimed, err
}

type passResult struct {
	claimed   int
	published int
}

func (r *Relay) pass(ctx context.Context) (passResult, error) {
	var res passResult
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch, err := r.repo.ClaimPending(ctx, tx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, m := range batch {
			published, err := r.relay(ctx, tx, m)
			if err != nil {
				return err
			}
			res.claimed++
			if published {
				res.published++
			}
		}
		return nil
	})
	return res, err
}

func (r *Relay) relay(ctx context.Context, tx pgx.Tx, m Message) (bool, error) {
	err := r.retry.Run(func() error {
		return r.publisher.Publish(ctx, m.Topic, m.Key, m.Payload)
	})
	if err == nil {
		r.count("published")
		return true, r.repo.MarkProcessed(ctx, tx, m.ID, r.now().UTC())
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	status, markErr := r.repo.MarkFailed(ctx, tx, m.ID, err.Error(), r.cfg.MaxAttempts)
	if markErr != nil {
		return false, markErr
	}
	if status == StatusDead {
		r.count("dead")
		r.log.Error("outbox message parked", zap.String("id", m.ID), zap.String("topic", m.Topic), zap.Error(err))
		return false, nil
	}
	r.count("failed")
	r.log.Warn("outbox publish failed", zap.String("id", m.ID), zap.String("topic", m.Topic), zap.Int("attempts", m.Attempts+1), zap.Error(err))
	return false, nil
}

func (r *Relay) count(result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.OutboxPublished.WithLabelValues(result).Inc()
}
