package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"sourcingflow/test/actors"
	"sourcingflow/test/chaos"
	"sourcingflow/test/infra"
	"sourcingflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of concurrent sourcing rounds")
	flAwarders    = flag.Int("awarders", 6, "concurrent award attempts per rfq")
	flSuppliers   = flag.Int("suppliers", 3, "suppliers invited to each rfq")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestSourcingConcurrency(t *testing.T) {
	if testing.Short() {
		t.Skip("stress run skipped in -short mode")
	}
	seed := *flSeed
	rand.Seed(seed)

	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	h, err := infra.NewHarness(ctx, *flDSN)
	if errors.Is(err, infra.ErrNoDatabase) {
		t.Skipf("stress run needs postgres: %v", err)
	}
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	pool := h.Pool()

	fx, err := infra.Seed(ctx, pool, fmt.Sprintf("stress-%d", seed), *flSuppliers)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := infra.NewServices(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	orders := make(chan string, 64)

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Sourcer(ctx2, svc, fx, *flAwarders, orders, stop) })
		g.Go(func() error { return actors.Tracker(ctx2, svc, fx.TenantID, orders, stop) })
	}
	g.Go(func() error { return actors.Disputer(ctx2, pool, svc, fx.TenantID, stop) })
	g.Go(func() error { return actors.Sweeper(ctx2, svc, stop) })
	for i := 0; i < 2; i++ {
		g.Go(func() error { return actors.OutboxRelay(ctx2, pool, stop) })
	}
	go chaos.TerminateRandomBackend(ctx2, pool, infra.ApplicationName, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			if fail := checkOracles(t, ctx2, pool); fail != "" {
				close(stop)
				_ = g.Wait()
				dumpRecent(t, ctx, pool)
				t.Fatalf("%s (seed=%d)", fail, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		dumpRecent(t, ctx, pool)
		t.Fatalf("actors errored: %v (seed=%d)", err, seed)
	}

	// Everything has quiesced; the final state must hold every invariant.
	if fail := checkOracles(t, ctx, pool); fail != "" {
		dumpRecent(t, ctx, pool)
		t.Fatalf("%s (seed=%d)", fail, seed)
	}
}

// checkOracles returns a failure description, or "" when every oracle passes.
// Connection loss injected by chaos is retried on the next tick.
func checkOracles(t *testing.T, ctx context.Context, pool *pgxpool.Pool) string {
	t.Helper()
	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Logf("oracle %s not evaluated: %v", name, err)
		}
		return ""
	}
	if name != "" {
		return fmt.Sprintf("oracle %s failed. First row: %s", name, row)
	}
	return ""
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"rfqs", `SELECT id, number, status, winning_quote_id, updated_at FROM rfqs ORDER BY updated_at DESC LIMIT 20`},
		{"quotes", `SELECT id, rfq_id, supplier_id, status, is_winning, updated_at FROM quotes ORDER BY updated_at DESC LIMIT 30`},
		{"orders", `SELECT id, rfq_id, quote_id, status, milestone, updated_at FROM orders ORDER BY updated_at DESC LIMIT 20`},
		{"tracking_events", `SELECT order_id, event_key, event_type, occurred_at FROM tracking_events ORDER BY created_at DESC LIMIT 30`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
