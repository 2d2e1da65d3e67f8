package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/db/dbtest"
	"sourcingflow/order"
	"sourcingflow/profile"
	"sourcingflow/supplier"
)

type fixture struct {
	svc        *Service
	pool       *dbtest.Pool
	outbox     *dbtest.Outbox
	store      *fakeStore
	orders     *fakeOrders
	deliveries *fakeDeliveries
	cache      *fakeCache
	now        time.Time
}

func newFixture() *fixture {
	f := &fixture{
		pool:       &dbtest.Pool{},
		outbox:     &dbtest.Outbox{},
		store:      &fakeStore{events: map[string]Event{}},
		deliveries: &fakeDeliveries{},
		cache:      &fakeCache{},
		now:        base.Add(10 * 24 * time.Hour),
	}
	f.orders = &fakeOrders{rec: order.Order{
		ID: "ord-1", TenantID: "tenant-1", Number: "ORD-1", SupplierID: "sup-1", CustomerID: "cust-1",
		Vertical: profile.VerticalLogistics, Lane: "Hamburg>Rotterdam",
		AgreedPrice: decimal.NewFromInt(900), Currency: "EUR", Status: order.StatusPending,
		PromisedAt: base.Add(5 * 24 * time.Hour), ExpectedDuration: 5 * 24 * time.Hour, CreatedAt: base,
	}}
	f.svc = NewService(f.pool, f.store, f.orders, f.deliveries, f.outbox, nil).
		WithCache(f.cache).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) record(t *testing.T, key string, ev profile.EventType, at time.Time) Result {
	t.Helper()
	res, err := f.svc.Record(context.Background(), RecordParams{
		TenantID: "tenant-1", OrderID: "ord-1", EventKey: key, Type: ev, OccurredAt: at, Location: "Hamburg",
	})
	if err != nil {
		t.Fatalf("record %s: %v", ev, err)
	}
	return res
}

func TestRecord_AdvancesStatusAndObservesLane(t *testing.T) {
	f := newFixture()

	res := f.record(t, "e1", profile.EventRegistered, base.Add(time.Hour))
	if res.Order.Status != order.StatusConfirmed || res.Duplicate {
		t.Fatalf("expected CONFIRMED, got %s (duplicate=%v)", res.Order.Status, res.Duplicate)
	}
	if res.Order.PredictedNextEvent == nil || *res.Order.PredictedNextEvent != string(profile.EventPickedUp) {
		t.Fatalf("expected PICKED_UP next, got %v", res.Order.PredictedNextEvent)
	}
	if len(f.store.observed) != 0 {
		t.Fatal("first event has no interval to observe")
	}

	res = f.record(t, "e2", profile.EventPickedUp, base.Add(13*time.Hour))
	if res.Order.Status != order.StatusInProgress || res.Order.Progress != 25 {
		t.Fatalf("unexpected order state %s %.2f", res.Order.Status, res.Order.Progress)
	}
	if len(f.store.observed) != 1 || f.store.observed[0] != 12*time.Hour {
		t.Fatalf("expected one 12h lane sample, got %v", f.store.observed)
	}
	if f.cache.invalidated != 1 {
		t.Fatalf("expected cache invalidation, got %d", f.cache.invalidated)
	}
	if got := f.outbox.Topics(); len(got) != 2 || got[1] != "order.tracking_recorded" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestRecord_DeliveredWithoutTransitIsIdempotent(t *testing.T) {
	f := newFixture()
	f.record(t, "e1", profile.EventRegistered, base.Add(time.Hour))

	first := f.record(t, "done", profile.EventDelivered, base.Add(4*24*time.Hour))
	if first.Order.Status != order.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", first.Order.Status)
	}
	if first.Order.PredictedNextEvent != nil || first.Order.DelayRisk != 0 || first.Order.Progress != 100 {
		t.Fatalf("expected terminal outlook, got %+v", first.Order)
	}
	if first.Order.RouteEfficiency == nil || *first.Order.RouteEfficiency != 1.25 {
		t.Fatalf("expected efficiency 1.25, got %v", first.Order.RouteEfficiency)
	}

	topics := len(f.outbox.Topics())
	second := f.record(t, "done", profile.EventDelivered, base.Add(4*24*time.Hour))
	if !second.Duplicate || second.Event.ID != first.Event.ID {
		t.Fatalf("expected the stored event back, got %+v", second)
	}
	if second.Order.DelayRisk != first.Order.DelayRisk || second.Order.Status != order.StatusCompleted {
		t.Fatal("duplicate delivery changed derived state")
	}
	if len(f.deliveries.calls) != 1 || !f.deliveries.calls[0].OnTime {
		t.Fatalf("expected exactly one on-time delivery, got %+v", f.deliveries.calls)
	}
	if len(f.outbox.Topics()) != topics {
		t.Fatal("duplicate delivery enqueued messages")
	}
	if f.orders.applied != 2 {
		t.Fatalf("expected two order updates, got %d", f.orders.applied)
	}
}

func TestRecord_ExceptionMarksDisputeCandidate(t *testing.T) {
	f := newFixture()
	f.record(t, "e1", profile.EventRegistered, base.Add(time.Hour))

	res := f.record(t, "x1", profile.EventException, base.Add(2*time.Hour))
	if !res.Order.DisputeCandidate || res.Order.Status != order.StatusConfirmed {
		t.Fatalf("expected candidate flag without status change, got %+v", res.Order)
	}
	if res.Event.DelayRisk < exceptionWeight {
		t.Fatalf("expected exception to raise risk, got %v", res.Event.DelayRisk)
	}
}

func TestRecord_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*fixture, *RecordParams)
		want   error
	}{
		{"unknown type", func(f *fixture, p *RecordParams) { p.Type = profile.EventKickedOff }, apperr.ErrValidation},
		{"future time", func(f *fixture, p *RecordParams) { p.OccurredAt = f.now.Add(time.Hour) }, apperr.ErrValidation},
		{"other supplier", func(f *fixture, p *RecordParams) { p.Viewer = order.Viewer{SupplierID: "sup-9"} }, apperr.ErrNotFound},
		{"completed order", func(f *fixture, p *RecordParams) { f.orders.rec.Status = order.StatusCompleted }, apperr.ErrInvalidTransition},
		{"cancelled order", func(f *fixture, p *RecordParams) { f.orders.rec.Status = order.StatusCancelled }, apperr.ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			params := RecordParams{TenantID: "tenant-1", OrderID: "ord-1", EventKey: "k", Type: profile.EventPickedUp, OccurredAt: base}
			tc.mutate(f, &params)

			_, err := f.svc.Record(context.Background(), params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.store.events) != 0 || f.orders.applied != 0 || len(f.outbox.Topics()) != 0 {
				t.Fatal("rejected event must not write")
			}
		})
	}
}

func TestRecord_UsesCachedNorms(t *testing.T) {
	f := newFixture()
	f.cache.norms = map[profile.EventType]time.Duration{profile.EventPickedUp: 2 * time.Hour}
	f.cache.hit = true

	res := f.record(t, "e1", profile.EventRegistered, base)
	if f.store.normReads != 0 {
		t.Fatal("expected the cache to answer")
	}
	if res.Order.PredictedNextAt == nil || !res.Order.PredictedNextAt.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("expected cached norm ETA, got %v", res.Order.PredictedNextAt)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture()
	f.record(t, "e2", profile.EventPickedUp, base.Add(5*time.Hour))
	f.record(t, "e1", profile.EventRegistered, base.Add(time.Hour))

	h, err := f.svc.History(context.Background(), "tenant-1", order.Viewer{CustomerID: "cust-1"}, "ord-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Events) != 2 || h.Events[0].Type != profile.EventRegistered {
		t.Fatalf("expected events in occurrence order, got %+v", h.Events)
	}
	if h.Order.Status != order.StatusInProgress {
		t.Fatalf("late REGISTERED must not regress status, got %s", h.Order.Status)
	}
	if h.Prediction.NextEvent == nil || *h.Prediction.NextEvent != profile.EventInTransit {
		t.Fatalf("expected IN_TRANSIT next, got %v", h.Prediction.NextEvent)
	}

	if _, err := f.svc.History(context.Background(), "tenant-1", order.Viewer{CustomerID: "cust-2"}, "ord-1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound for another customer, got %v", err)
	}
}

type fakeStore struct {
	events    map[string]Event
	order     []string
	observed  []time.Duration
	normReads int
}

func (f *fakeStore) InsertEvent(ctx context.Context, tx pgx.Tx, e Event) (Event, error) {
	if _, ok := f.events[e.EventKey]; ok {
		return Event{}, ErrDuplicateEvent
	}
	e.ID = "evt-" + e.EventKey
	f.events[e.EventKey] = e
	f.order = append(f.order, e.EventKey)
	return e, nil
}

func (f *fakeStore) GetByKey(ctx context.Context, q db.Querier, tenantID, orderID, key string) (Event, error) {
	e, ok := f.events[key]
	if !ok {
		return Event{}, ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) List(ctx context.Context, q db.Querier, tenantID, orderID string) ([]Event, error) {
	out := make([]Event, 0, len(f.order))
	for _, key := range f.order {
		e := f.events[key]
		i := len(out)
		for i > 0 && out[i-1].OccurredAt.After(e.OccurredAt) {
			i--
		}
		out = append(out, Event{})
		copy(out[i+1:], out[i:])
		out[i] = e
	}
	return out, nil
}

func (f *fakeStore) ObserveLane(ctx context.Context, tx pgx.Tx, tenantID, vertical, lane string, from, to profile.EventType, elapsed time.Duration) error {
	f.observed = append(f.observed, elapsed)
	return nil
}

func (f *fakeStore) LaneNorms(ctx context.Context, q db.Querier, tenantID, vertical, lane string) (map[profile.EventType]time.Duration, error) {
	f.normReads++
	return map[profile.EventType]time.Duration{}, nil
}

type fakeOrders struct {
	rec     order.Order
	applied int
}

func (f *fakeOrders) Get(ctx context.Context, q db.Querier, tenantID, id string) (order.Order, error) {
	if id != f.rec.ID {
		return order.Order{}, order.ErrNotFound
	}
	return f.rec, nil
}

func (f *fakeOrders) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (order.Order, error) {
	return f.Get(ctx, nil, tenantID, id)
}

func (f *fakeOrders) ApplyTracking(ctx context.Context, tx pgx.Tx, tenantID, id string, t order.Tracking, at time.Time) (order.Order, error) {
	f.applied++
	o := f.rec
	o.Status = t.Status
	o.Milestone = t.Milestone
	o.Progress = t.Progress
	lastType, lastAt := t.LastEventType, t.LastEventAt
	o.LastEventType, o.LastEventAt = &lastType, &lastAt
	o.PredictedNextEvent = t.PredictedNextEvent
	o.PredictedNextAt = t.PredictedNextAt
	o.DelayRisk = t.DelayRisk
	o.DisputeCandidate = t.DisputeCandidate
	if t.RouteEfficiency != nil {
		o.RouteEfficiency = t.RouteEfficiency
	}
	if t.PerformanceRating != nil {
		o.PerformanceRating = t.PerformanceRating
	}
	if o.CompletedAt == nil {
		o.CompletedAt = t.CompletedAt
	}
	o.UpdatedAt = at
	f.rec = o
	return o, nil
}

type fakeDeliveries struct {
	calls []supplier.Delivery
}

func (f *fakeDeliveries) RecordDelivery(ctx context.Context, tx pgx.Tx, tenantID, id string, d supplier.Delivery) error {
	f.calls = append(f.calls, d)
	return nil
}

type fakeCache struct {
	norms       map[profile.EventType]time.Duration
	hit         bool
	stored      int
	invalidated int
}

func (f *fakeCache) Load(ctx context.Context, key string) (map[profile.EventType]time.Duration, bool, error) {
	return f.norms, f.hit, nil
}

func (f *fakeCache) Store(ctx context.Context, key string, norms map[profile.EventType]time.Duration) error {
	f.stored++
	return nil
}

func (f *fakeCache) Invalidate(ctx context.Context, key string) error {
	f.invalidated++
	return nil
}
