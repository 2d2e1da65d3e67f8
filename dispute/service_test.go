package dispute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/db/dbtest"
	"sourcingflow/order"
)

var fixedNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	pool     *dbtest.Pool
	outbox   *dbtest.Outbox
	repo     *fakeStore
	orders   *fakeOrders
	recorder *fakeRecorder
}

func newFixture(status order.Status) *fixture {
	f := &fixture{
		pool:     &dbtest.Pool{},
		outbox:   &dbtest.Outbox{},
		repo:     &fakeStore{rows: map[string]Dispute{}},
		orders:   &fakeOrders{rec: order.Order{ID: "ord-1", TenantID: "tenant-1", Number: "ORD-1", SupplierID: "sup-1", CustomerID: "cust-1", Status: status, DisputeCandidate: true}},
		recorder: &fakeRecorder{},
	}
	f.svc = NewService(f.pool, f.repo, f.orders, f.recorder, f.outbox).WithClock(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) open(t *testing.T) Dispute {
	t.Helper()
	d, err := f.svc.Open(context.Background(), OpenParams{TenantID: "tenant-1", OrderID: "ord-1", OpenedBy: "user-1", Reason: "damaged pallets"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return d
}

func TestOpen_DisputesOrder(t *testing.T) {
	f := newFixture(order.StatusInProgress)

	d := f.open(t)
	if d.Status != StatusOpen || d.PreviousStatus != order.StatusInProgress {
		t.Fatalf("unexpected dispute %+v", d)
	}
	if f.orders.rec.Status != order.StatusDisputed || f.orders.rec.DisputeCandidate {
		t.Fatalf("expected DISPUTED without candidate flag, got %+v", f.orders.rec)
	}
	if f.recorder.calls != 1 {
		t.Fatalf("expected one supplier dispute, got %d", f.recorder.calls)
	}
	if got := f.outbox.Topics(); len(got) != 1 || got[0] != "order.disputed" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestOpen_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		status order.Status
		params OpenParams
		want   error
	}{
		{"pending", order.StatusPending, OpenParams{Reason: "late"}, apperr.ErrInvalidTransition},
		{"cancelled", order.StatusCancelled, OpenParams{Reason: "late"}, apperr.ErrInvalidTransition},
		{"already disputed", order.StatusDisputed, OpenParams{Reason: "late"}, apperr.ErrInvalidTransition},
		{"no reason", order.StatusInProgress, OpenParams{Reason: "  "}, apperr.ErrValidation},
		{"other customer", order.StatusInProgress, OpenParams{Reason: "late", Viewer: order.Viewer{CustomerID: "cust-2"}}, apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(tc.status)
			tc.params.TenantID, tc.params.OrderID = "tenant-1", "ord-1"

			_, err := f.svc.Open(context.Background(), tc.params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if f.recorder.calls != 0 || len(f.outbox.Topics()) != 0 {
				t.Fatal("rejected dispute must not count")
			}
		})
	}
}

func TestResolve_RestoresStatus(t *testing.T) {
	t.Run("in flight", func(t *testing.T) {
		f := newFixture(order.StatusConfirmed)
		d := f.open(t)

		resolved, o, err := f.svc.Resolve(context.Background(), ResolveParams{TenantID: "tenant-1", ID: d.ID, Resolution: "credit note"})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if resolved.Status != StatusResolved || resolved.ResolvedAt == nil || o.Status != order.StatusInProgress {
			t.Fatalf("unexpected result %+v %s", resolved, o.Status)
		}
	})
	t.Run("delivered", func(t *testing.T) {
		f := newFixture(order.StatusCompleted)
		delivered := fixedNow.Add(-time.Hour)
		f.orders.rec.CompletedAt = &delivered
		d := f.open(t)

		_, o, err := f.svc.Resolve(context.Background(), ResolveParams{TenantID: "tenant-1", ID: d.ID, Resolution: "accepted"})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if o.Status != order.StatusCompleted {
			t.Fatalf("expected COMPLETED, got %s", o.Status)
		}
	})
	t.Run("twice", func(t *testing.T) {
		f := newFixture(order.StatusConfirmed)
		d := f.open(t)
		params := ResolveParams{TenantID: "tenant-1", ID: d.ID, Resolution: "done"}
		if _, _, err := f.svc.Resolve(context.Background(), params); err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if _, _, err := f.svc.Resolve(context.Background(), params); !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("expected InvalidTransition, got %v", err)
		}
	})
}

type fakeStore struct {
	rows map[string]Dispute
}

func (f *fakeStore) Insert(ctx context.Context, tx pgx.Tx, d Dispute) (Dispute, error) {
	for _, existing := range f.rows {
		if existing.OrderID == d.OrderID && existing.Status == StatusOpen {
			return Dispute{}, ErrOpenExists
		}
	}
	d.ID = "dsp-1"
	d.Status = StatusOpen
	d.CreatedAt = fixedNow
	f.rows[d.ID] = d
	return d, nil
}

func (f *fakeStore) Get(ctx context.Context, q db.Querier, tenantID, id string) (Dispute, error) {
	d, ok := f.rows[id]
	if !ok {
		return Dispute{}, ErrNotFound
	}
	return d, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (Dispute, error) {
	return f.Get(ctx, nil, tenantID, id)
}

func (f *fakeStore) ListForOrder(ctx context.Context, q db.Querier, tenantID, orderID string) ([]Dispute, error) {
	var out []Dispute
	for _, d := range f.rows {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) Resolve(ctx context.Context, tx pgx.Tx, tenantID, id, resolution string, at time.Time) (Dispute, error) {
	d, ok := f.rows[id]
	if !ok || d.Status != StatusOpen {
		return Dispute{}, ErrBadStatus
	}
	d.Status = StatusResolved
	d.Resolution = resolution
	d.ResolvedAt = &at
	f.rows[id] = d
	return d, nil
}

type fakeOrders struct {
	rec order.Order
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

func (f *fakeOrders) SetStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from []order.Status, to order.Status, clearCandidate bool, at time.Time) (order.Order, error) {
	for _, s := range from {
		if f.rec.Status == s {
			f.rec.Status = to
			if clearCandidate {
				f.rec.DisputeCandidate = false
			}
			return f.rec, nil
		}
	}
	return order.Order{}, apperr.ErrInvalidTransition
}

type fakeRecorder struct {
	calls int
}

func (f *fakeRecorder) RecordDispute(ctx context.Context, tx pgx.Tx, tenantID, id string) error {
	f.calls++
	return nil
}
