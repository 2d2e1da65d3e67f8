// Package actors drives the sourcing services from many goroutines at once so
// the oracles can check what the database ends up holding.
package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sourcingflow/apperr"
	"sourcingflow/award"
	"sourcingflow/dispute"
	"sourcingflow/messaging"
	"sourcingflow/order"
	"sourcingflow/outbox"
	"sourcingflow/profile"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/test/infra"
	"sourcingflow/tracking"
)

const buyer = "stress-buyer"

// tolerated reports whether err is an outcome the engine is allowed to return
// under contention or while chaos kills backends.
func tolerated(err error) bool {
	if err == nil || apperr.IsDomain(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") ||
			pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var netErr *net.OpError
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) || strings.Contains(err.Error(), "conn closed")
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

func pause(min, jitter int) {
	time.Sleep(time.Duration(min+rand.Intn(jitter)) * time.Millisecond)
}

// Sourcer runs whole sourcing rounds: a request is approved, an RFQ goes out
// to every supplier, each supplier races a duplicate quote against itself and
// several buyers race to award. Every fifth round publishes an RFQ that lapses
// unawarded for the sweeper. Awarded orders are handed to orders.
func Sourcer(ctx context.Context, svc *infra.Services, fx infra.Fixture, awarders int, orders chan<- string, stop <-chan struct{}) error {
	for round := 1; ; round++ {
		if stopped(ctx, stop) {
			return nil
		}
		orderID, err := sourceRound(ctx, svc, fx, awarders, round%5 == 0)
		if err != nil {
			if tolerated(err) {
				continue
			}
			return err
		}
		if orderID == "" {
			continue
		}
		select {
		case orders <- orderID:
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		}
	}
}

func sourceRound(ctx context.Context, svc *infra.Services, fx infra.Fixture, awarders int, lapse bool) (string, error) {
	deadline := time.Now().Add(30 * 24 * time.Hour)
	req, err := svc.Requests.Create(ctx, request.CreateParams{
		TenantID:    fx.TenantID,
		CustomerID:  fx.CustomerID,
		Vertical:    profile.VerticalLogistics,
		Title:       "Pallet move",
		Description: "Twelve pallets, tail lift required",
		Origin:      "Rotterdam",
		Destination: "Lyon",
		Budget:      decimal.NewFromInt(1200),
		Currency:    "EUR",
		Deadline:    &deadline,
	})
	if err != nil {
		return "", err
	}
	step := request.TransitionParams{TenantID: fx.TenantID, ID: req.ID, Actor: buyer}
	for _, fn := range []func(context.Context, request.TransitionParams) (request.Request, error){
		svc.Requests.Submit, svc.Requests.StartReview, svc.Requests.Approve,
	} {
		if _, err := fn(ctx, step); err != nil {
			return "", err
		}
	}

	quoteDeadline := time.Now().Add(time.Hour)
	if lapse {
		quoteDeadline = time.Now().Add(300 * time.Millisecond)
	}
	published, err := svc.RFQs.Publish(ctx, rfq.PublishParams{
		TenantID:           fx.TenantID,
		RequestID:          req.ID,
		Deadline:           quoteDeadline,
		UseDefaultCriteria: true,
		TargetSuppliers:    fx.SupplierIDs,
		Actor:              buyer,
	})
	if err != nil {
		return "", err
	}

	quoteIDs, err := submitQuotes(ctx, svc, fx, published.ID)
	if err != nil || len(quoteIDs) == 0 || lapse {
		return "", err
	}
	if _, err := svc.Scoring.ScoreAndRank(ctx, fx.TenantID, published.ID); err != nil && !tolerated(err) {
		return "", err
	}
	return raceAward(ctx, svc, fx.TenantID, published.ID, quoteIDs, awarders)
}

// submitQuotes has every supplier submit twice concurrently; at most one of
// each pair may land.
func submitQuotes(ctx context.Context, svc *infra.Services, fx infra.Fixture, rfqID string) ([]string, error) {
	var mu sync.Mutex
	var ids []string
	g, gctx := errgroup.WithContext(ctx)
	for i, supplierID := range fx.SupplierIDs {
		i, supplierID := i, supplierID
		var landed atomic.Int32
		for attempt := 0; attempt < 2; attempt++ {
			g.Go(func() error {
				q, err := svc.Quotes.Submit(gctx, quote.SubmitParams{
					TenantID:     fx.TenantID,
					RFQID:        rfqID,
					SupplierID:   supplierID,
					BasePrice:    decimal.NewFromInt(int64(800 + 100*i)),
					LineItems:    []quote.LineItem{{Label: "fuel", Amount: decimal.NewFromInt(int64(rand.Intn(100)))}},
					Currency:     "EUR",
					LeadTimeDays: 2 + rand.Intn(6),
					ValidUntil:   time.Now().Add(7 * 24 * time.Hour),
				})
				if err != nil {
					if tolerated(err) {
						return nil
					}
					return fmt.Errorf("submit quote: %w", err)
				}
				if n := landed.Add(1); n > 1 {
					return fmt.Errorf("supplier %s holds %d active quotes on rfq %s", supplierID, n, rfqID)
				}
				mu.Lock()
				ids = append(ids, q.ID)
				mu.Unlock()
				return nil
			})
		}
	}
	return ids, g.Wait()
}

// raceAward fires awarders concurrent awards at random quotes. At most one
// may succeed.
func raceAward(ctx context.Context, svc *infra.Services, tenantID, rfqID string, quoteIDs []string, awarders int) (string, error) {
	var (
		wins    atomic.Int32
		orderID atomic.Value
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < awarders; i++ {
		quoteID := quoteIDs[rand.Intn(len(quoteIDs))]
		g.Go(func() error {
			res, err := svc.Awards.Award(gctx, award.Params{TenantID: tenantID, RFQID: rfqID, QuoteID: quoteID, Actor: buyer})
			if err != nil {
				if tolerated(err) {
					return nil
				}
				return fmt.Errorf("award: %w", err)
			}
			if n := wins.Add(1); n > 1 {
				return fmt.Errorf("rfq %s awarded %d times", rfqID, n)
			}
			orderID.Store(res.Order.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	id, _ := orderID.Load().(string)
	return id, nil
}

// Tracker replays each order's logistics milestones with every event
// delivered three times at once. Exactly one delivery per key may be recorded
// as new.
func Tracker(ctx context.Context, svc *infra.Services, tenantID string, orders <-chan string, stop <-chan struct{}) error {
	sequence := profile.Logistics().Sequence
	for {
		var orderID string
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case orderID = <-orders:
		}

		base := time.Now().Add(-time.Duration(len(sequence)+1) * time.Hour)
		for step, ev := range sequence {
			key := fmt.Sprintf("%s-%d", ev, step)
			var fresh atomic.Int32
			g, gctx := errgroup.WithContext(ctx)
			for delivery := 0; delivery < 3; delivery++ {
				g.Go(func() error {
					res, err := svc.Tracking.Record(gctx, tracking.RecordParams{
						TenantID:   tenantID,
						OrderID:    orderID,
						EventKey:   key,
						Type:       ev,
						OccurredAt: base.Add(time.Duration(step) * time.Hour),
						Location:   "A7",
						ReportedBy: "stress-carrier",
					})
					if err != nil {
						if tolerated(err) {
							return nil
						}
						return fmt.Errorf("record %s: %w", key, err)
					}
					if !res.Duplicate {
						if n := fresh.Add(1); n > 1 {
							return fmt.Errorf("order %s recorded %s %d times", orderID, key, n)
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
		}
	}
}

// Disputer opens two competing disputes on a random order, then resolves
// whichever landed.
func Disputer(ctx context.Context, pool *pgxpool.Pool, svc *infra.Services, tenantID string, stop <-chan struct{}) error {
	for {
		if stopped(ctx, stop) {
			return nil
		}
		pause(100, 200)

		var orderID string
		err := pool.QueryRow(ctx,
			`SELECT id FROM orders WHERE tenant_id = $1 AND status <> 'DISPUTED' ORDER BY random() LIMIT 1`,
			tenantID,
		).Scan(&orderID)
		if err != nil {
			continue
		}

		var (
			mu     sync.Mutex
			opened []dispute.Dispute
		)
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 2; i++ {
			g.Go(func() error {
				d, err := svc.Disputes.Open(gctx, dispute.OpenParams{
					TenantID: tenantID,
					OrderID:  orderID,
					OpenedBy: buyer,
					Reason:   "short delivery",
				})
				if err != nil {
					if tolerated(err) {
						return nil
					}
					return fmt.Errorf("open dispute: %w", err)
				}
				mu.Lock()
				opened = append(opened, d)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if len(opened) > 1 {
			return fmt.Errorf("order %s has %d open disputes", orderID, len(opened))
		}
		for _, d := range opened {
			pause(20, 50)
			_, _, err := svc.Disputes.Resolve(ctx, dispute.ResolveParams{TenantID: tenantID, ID: d.ID, Viewer: order.Viewer{}, Resolution: "credit note issued"})
			if err != nil && !tolerated(err) {
				return fmt.Errorf("resolve dispute: %w", err)
			}
		}
	}
}

// Sweeper persists expiry on lapsed RFQs.
func Sweeper(ctx context.Context, svc *infra.Services, stop <-chan struct{}) error {
	for {
		if stopped(ctx, stop) {
			return nil
		}
		if _, err := svc.RFQs.SweepExpired(ctx); err != nil && !tolerated(err) && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("sweep: %w", err)
		}
		pause(200, 300)
	}
}

// flakyPublisher fails a share of publishes so relays exercise retry and
// requeue.
type flakyPublisher struct {
	messaging.Publisher
	failRate float64
}

func (p flakyPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if rand.Float64() < p.failRate {
		return errors.New("broker unavailable")
	}
	return p.Publisher.Publish(ctx, topic, key, payload)
}

// OutboxRelay drains the outbox against a publisher that fails now and then.
// Several of these run at once to contend for the same rows.
func OutboxRelay(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	relay := outbox.NewRelay(pool, outbox.NewRepository(),
		flakyPublisher{Publisher: messaging.NewLogPublisher(zap.NewNop()), failRate: 0.1},
		outbox.RelayConfig{BatchSize: 25, Retries: 1, Backoff: 5 * time.Millisecond},
		zap.NewNop(),
	)
	for {
		if stopped(ctx, stop) {
			return nil
		}
		if _, err := relay.RunOnce(ctx); err != nil && !tolerated(err) && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("relay: %w", err)
		}
		pause(50, 100)
	}
}
