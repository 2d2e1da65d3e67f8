package rfq

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/db"
	"sourcingflow/db/dbtest"
	"sourcingflow/profile"
	"sourcingflow/request"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	pool     *dbtest.Pool
	outbox   *dbtest.Outbox
	store    *fakeStore
	requests *fakeRequests
	quotes   *fakeQuotes
	clock    *time.Time
}

func newFixture() *fixture {
	now := fixedNow
	f := &fixture{
		pool:     &dbtest.Pool{},
		outbox:   &dbtest.Outbox{},
		store:    newFakeStore(),
		requests: &fakeRequests{rows: map[string]request.Request{}},
		quotes:   &fakeQuotes{},
		clock:    &now,
	}
	f.svc = NewService(f.pool, f.store, f.requests, fakeSuppliers{"sup-1": true, "sup-2": true}, f.quotes, f.outbox, nil).
		WithClock(func() time.Time { return *f.clock })
	return f
}

func (f *fixture) addRequest(status request.Status, deadline *time.Time) request.Request {
	r := request.Request{
		ID:       "req-1",
		TenantID: "tenant-1",
		Number:   "REQ-1",
		Vertical: profile.VerticalLogistics,
		Budget:   decimal.NewFromInt(1000),
		Currency: "EUR",
		Deadline: deadline,
		Status:   status,
	}
	f.requests.rows[r.ID] = r
	return r
}

func publishParams() PublishParams {
	return PublishParams{
		TenantID:  "tenant-1",
		RequestID: "req-1",
		Deadline:  fixedNow.Add(48 * time.Hour),
		Criteria:  map[profile.Criterion]float64{profile.CriterionPrice: 3, profile.CriterionDelivery: 1},
	}
}

func TestPublish_NormalizesCriteria(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)

	got, err := f.svc.Publish(context.Background(), publishParams())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got.Status != StatusPublished {
		t.Fatalf("expected PUBLISHED, got %s", got.Status)
	}
	if !strings.HasPrefix(got.Number, "RFQ-") {
		t.Fatalf("unexpected number %q", got.Number)
	}
	if math.Abs(got.Criteria[profile.CriterionPrice]-0.75) > 1e-9 {
		t.Fatalf("expected normalized price weight 0.75, got %v", got.Criteria)
	}
	if !got.Budget.Equal(decimal.NewFromInt(1000)) || got.Currency != "EUR" {
		t.Fatalf("expected budget copied from request, got %s %s", got.Budget, got.Currency)
	}
	if topics := f.outbox.Topics(); len(topics) != 1 || topics[0] != "rfq.published" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestPublish_DefaultCriteria(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)
	params := publishParams()
	params.Criteria = nil

	if _, err := f.svc.Publish(context.Background(), params); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected empty criteria to be rejected, got %v", err)
	}

	params.UseDefaultCriteria = true
	got, err := f.svc.Publish(context.Background(), params)
	if err != nil {
		t.Fatalf("publish with defaults: %v", err)
	}
	if len(got.Criteria) != len(profile.Criteria) {
		t.Fatalf("expected every default criterion, got %v", got.Criteria)
	}
}

func TestPublish_Preconditions(t *testing.T) {
	requestDeadline := fixedNow.Add(24 * time.Hour)
	cases := []struct {
		name    string
		status  request.Status
		reqDL   *time.Time
		mutate  func(*PublishParams)
		want    error
		archive bool
	}{
		{name: "draft request", status: request.StatusDraft, want: apperr.ErrInvalidTransition},
		{name: "submitted without policy", status: request.StatusSubmitted, want: apperr.ErrInvalidTransition},
		{name: "archived", status: request.StatusApproved, archive: true, want: apperr.ErrInvalidTransition},
		{name: "past deadline", status: request.StatusApproved, mutate: func(p *PublishParams) { p.Deadline = fixedNow }, want: apperr.ErrValidation},
		{name: "after request deadline", status: request.StatusApproved, reqDL: &requestDeadline, want: apperr.ErrValidation},
		{name: "negative weight", status: request.StatusApproved, mutate: func(p *PublishParams) {
			p.Criteria = map[profile.Criterion]float64{profile.CriterionPrice: -1}
		}, want: apperr.ErrValidation},
		{name: "unknown supplier", status: request.StatusApproved, mutate: func(p *PublishParams) {
			p.TargetSuppliers = []string{"sup-1", "ghost"}
		}, want: apperr.ErrValidation},
		{name: "missing request", status: request.StatusApproved, mutate: func(p *PublishParams) { p.RequestID = "other" }, want: apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			r := f.addRequest(tc.status, tc.reqDL)
			if tc.archive {
				r.ArchivedAt = &fixedNow
				f.requests.rows[r.ID] = r
			}
			params := publishParams()
			if tc.mutate != nil {
				tc.mutate(&params)
			}
			_, err := f.svc.Publish(context.Background(), params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.store.rows) != 0 {
				t.Fatal("nothing may be stored on failure")
			}
		})
	}
}

func TestPublish_SubmittedAllowedByPolicy(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusSubmitted, nil)
	f.svc.WithSubmittedRequests(true)

	if _, err := f.svc.Publish(context.Background(), publishParams()); err != nil {
		t.Fatalf("expected submitted request to publish under policy, got %v", err)
	}
}

func TestPublish_OneOpenRFQPerRequest(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)

	if _, err := f.svc.Publish(context.Background(), publishParams()); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := f.svc.Publish(context.Background(), publishParams()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected second publish to be refused, got %v", err)
	}
}

func TestGet_LazyExpiry(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)
	published, err := f.svc.Publish(context.Background(), publishParams())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	*f.clock = published.Deadline
	got, err := f.svc.Get(context.Background(), "tenant-1", published.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("expected lazily EXPIRED, got %s", got.Status)
	}
	if f.store.rows[published.ID].Status != StatusPublished {
		t.Fatal("Get must not persist expiry")
	}
}

func TestExtendDeadline(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)
	published, err := f.svc.Publish(context.Background(), publishParams())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	_, err = f.svc.ExtendDeadline(context.Background(), ExtendParams{TenantID: "tenant-1", ID: published.ID, Deadline: published.Deadline.Add(-time.Hour)})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected earlier deadline to be rejected, got %v", err)
	}

	later := published.Deadline.Add(24 * time.Hour)
	extended, err := f.svc.ExtendDeadline(context.Background(), ExtendParams{TenantID: "tenant-1", ID: published.ID, Deadline: later})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !extended.EffectiveDeadline().Equal(later) {
		t.Fatalf("expected effective deadline %v, got %v", later, extended.EffectiveDeadline())
	}
}

func TestExtendDeadline_ElapsedPersistsExpiry(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)
	published, err := f.svc.Publish(context.Background(), publishParams())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	*f.clock = published.Deadline.Add(time.Minute)
	_, err = f.svc.ExtendDeadline(context.Background(), ExtendParams{TenantID: "tenant-1", ID: published.ID, Deadline: published.Deadline.Add(72 * time.Hour)})
	if !errors.Is(err, apperr.ErrRfqExpired) {
		t.Fatalf("expected RfqExpired, got %v", err)
	}
	if f.store.rows[published.ID].Status != StatusExpired {
		t.Fatal("expected expiry to be persisted")
	}
	if f.quotes.expired != 1 {
		t.Fatal("expected active quotes to be expired")
	}
	if !f.pool.Last().Committed {
		t.Fatal("expiry observation must commit")
	}
}

func TestCancel_RejectsQuotes(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)
	published, err := f.svc.Publish(context.Background(), publishParams())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), CancelParams{TenantID: "tenant-1", ID: published.ID}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected reason to be required, got %v", err)
	}
	cancelled, err := f.svc.Cancel(context.Background(), CancelParams{TenantID: "tenant-1", ID: published.ID, Reason: "budget cut"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || f.quotes.rejected != 1 {
		t.Fatalf("expected CANCELLED with quotes rejected, got %s / %d", cancelled.Status, f.quotes.rejected)
	}
	if _, err := f.svc.CloseIntake(context.Background(), "tenant-1", published.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected closing a cancelled rfq to fail, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	f := newFixture()
	f.addRequest(request.StatusApproved, nil)
	published, err := f.svc.Publish(context.Background(), publishParams())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	*f.clock = published.Deadline.Add(time.Second)
	n, err := f.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || f.store.rows[published.ID].Status != StatusExpired {
		t.Fatalf("expected one rfq expired, got %d", n)
	}
}

type fakeRequests struct {
	rows map[string]request.Request
}

func (f *fakeRequests) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (request.Request, error) {
	r, ok := f.rows[id]
	if !ok || r.TenantID != tenantID {
		return request.Request{}, request.ErrNotFound
	}
	return r, nil
}

type fakeSuppliers map[string]bool

func (f fakeSuppliers) CountExisting(ctx context.Context, q db.Querier, tenantID string, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if f[id] {
			n++
		}
	}
	return n, nil
}

type fakeQuotes struct {
	rejected int
	expired  int
}

func (f *fakeQuotes) RejectActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error) {
	f.rejected++
	return 1, nil
}

func (f *fakeQuotes) ExpireActive(ctx context.Context, tx pgx.Tx, tenantID, rfqID string, at time.Time) (int64, error) {
	f.expired++
	return 1, nil
}

type fakeStore struct {
	rows map[string]RFQ
	seq  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]RFQ{}}
}

func (f *fakeStore) Insert(ctx context.Context, tx pgx.Tx, rec RFQ) (RFQ, error) {
	f.seq++
	rec.ID = "rfq-" + string(rune('0'+f.seq))
	f.rows[rec.ID] = rec
	return rec, nil
}

func (f *fakeStore) Get(ctx context.Context, q db.Querier, tenantID, id string) (RFQ, error) {
	r, ok := f.rows[id]
	if !ok || r.TenantID != tenantID {
		return RFQ{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, tx pgx.Tx, tenantID, id string) (RFQ, error) {
	return f.Get(ctx, nil, tenantID, id)
}

func (f *fakeStore) HasOpenForRequest(ctx context.Context, tx pgx.Tx, tenantID, requestID string) (bool, error) {
	for _, r := range f.rows {
		if r.RequestID == requestID && r.Status != StatusCancelled && r.Status != StatusExpired {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, tx pgx.Tx, tenantID, id string, from []Status, to Status, at time.Time) (RFQ, error) {
	r := f.rows[id]
	for _, s := range from {
		if r.Status == s {
			r.Status = to
			f.rows[id] = r
			return r, nil
		}
	}
	return RFQ{}, apperr.ErrInvalidTransition
}

func (f *fakeStore) Extend(ctx context.Context, tx pgx.Tx, tenantID, id string, deadline, at time.Time) (RFQ, error) {
	r := f.rows[id]
	r.ExtendedDeadline = &deadline
	f.rows[id] = r
	return r, nil
}

func (f *fakeStore) Cancel(ctx context.Context, tx pgx.Tx, tenantID, id, reason string, at time.Time) (RFQ, error) {
	r := f.rows[id]
	r.Status = StatusCancelled
	r.CancelReason = reason
	f.rows[id] = r
	return r, nil
}

func (f *fakeStore) MarkExpired(ctx context.Context, tx pgx.Tx, tenantID, id string, at time.Time) error {
	r := f.rows[id]
	r.Status = StatusExpired
	f.rows[id] = r
	return nil
}

func (f *fakeStore) ExpireDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]RFQ, error) {
	var out []RFQ
	for id, r := range f.rows {
		if r.Elapsed(now) {
			r.Status = StatusExpired
			f.rows[id] = r
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) AllowSubmittedRequests(ctx context.Context, q db.Querier, tenantID string, fallback bool) (bool, error) {
	return fallback, nil
}
