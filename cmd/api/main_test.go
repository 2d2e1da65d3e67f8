package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sourcingflow/apperr"
	"sourcingflow/auth"
	"sourcingflow/award"
	"sourcingflow/customer"
	"sourcingflow/metrics"
	"sourcingflow/order"
	"sourcingflow/quote"
	"sourcingflow/request"
	"sourcingflow/rfq"
	"sourcingflow/tracking"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubAuth struct {
	principals map[string]auth.Principal
}

func (s *stubAuth) Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error) {
	if req.Password != "correct horse" {
		return auth.LoginResult{}, auth.ErrInvalidCredentials
	}
	party := "5a0b1c2d-3e4f-4a5b-9c6d-7e8f9a0b1c01"
	return auth.LoginResult{
		Token:     "supplier-token",
		ExpiresAt: testNow.Add(time.Hour),
		User:      auth.User{ID: "u-sup", TenantID: "t1", Role: auth.RoleSupplier, PartyID: &party},
	}, nil
}

func (s *stubAuth) VerifyToken(token string) (auth.Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return p, nil
}

func newStubAuth() *stubAuth {
	return &stubAuth{principals: map[string]auth.Principal{
		"customer-token": {UserID: "u-cust", TenantID: "t1", Role: auth.RoleCustomer, PartyID: "c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01"},
		"supplier-token": {UserID: "u-sup", TenantID: "t1", Role: auth.RoleSupplier, PartyID: "5a0b1c2d-3e4f-4a5b-9c6d-7e8f9a0b1c01"},
		"buyer-token":    {UserID: "u-buy", TenantID: "t1", Role: auth.RoleBuyer},
		"carrier-token":  {UserID: "u-car", TenantID: "t1", Role: auth.RoleCarrier},
	}}
}

// Stubs embed the interface so tests only implement what they exercise.

type stubRequests struct {
	requestService
	created request.CreateParams
	err     error
}

func (s *stubRequests) Create(ctx context.Context, params request.CreateParams) (request.Request, error) {
	s.created = params
	if s.err != nil {
		return request.Request{}, s.err
	}
	return request.Request{
		ID:         "req-1",
		TenantID:   params.TenantID,
		Number:     "REQ-20250601120000-ABCDEF",
		CustomerID: params.CustomerID,
		Vertical:   params.Vertical,
		Title:      params.Title,
		Budget:     params.Budget,
		Status:     request.StatusDraft,
		CreatedAt:  testNow,
	}, nil
}

type stubRFQs struct {
	rfqService
	rec      rfq.RFQ
	extended rfq.ExtendParams
}

func (s *stubRFQs) Get(ctx context.Context, tenantID, id string) (rfq.RFQ, error) {
	if id != s.rec.ID {
		return rfq.RFQ{}, rfq.ErrNotFound
	}
	return s.rec, nil
}

func (s *stubRFQs) ExtendDeadline(ctx context.Context, params rfq.ExtendParams) (rfq.RFQ, error) {
	s.extended = params
	out := s.rec
	out.ExtendedDeadline = &params.Deadline
	return out, nil
}

type stubQuotes struct {
	quoteService
	submitted quote.SubmitParams
	listed    string
}

func (s *stubQuotes) Submit(ctx context.Context, params quote.SubmitParams) (quote.Quote, error) {
	s.submitted = params
	return quote.Quote{
		ID:         "q-1",
		RFQID:      params.RFQID,
		SupplierID: params.SupplierID,
		BasePrice:  params.BasePrice,
		TotalPrice: quote.Total(params.BasePrice, params.LineItems),
		Status:     quote.StatusSubmitted,
		ValidUntil: params.ValidUntil,
	}, nil
}

func (s *stubQuotes) ListForRFQ(ctx context.Context, tenantID, rfqID, supplierID string) ([]quote.Quote, error) {
	s.listed = supplierID
	return nil, nil
}

type stubAwards struct {
	calls int
	err   error
}

func (s *stubAwards) Award(ctx context.Context, params award.Params) (award.Result, error) {
	s.calls++
	if s.err != nil {
		return award.Result{}, s.err
	}
	winner := params.QuoteID
	return award.Result{
		RFQ:   rfq.RFQ{ID: params.RFQID, Status: rfq.StatusAwarded, WinningQuoteID: &winner},
		Quote: quote.Quote{ID: params.QuoteID, Status: quote.StatusSelected, IsWinning: true, TotalPrice: decimal.RequireFromString("900")},
		Order: order.Order{ID: "9a3d5e27-1f4b-4c8e-b6a0-7d2c1e9f4a63", Status: order.StatusPending, AgreedPrice: decimal.RequireFromString("900")},
	}, nil
}

type stubTracking struct {
	trackingService
	seen      map[string]bool
	lastParam tracking.RecordParams
}

func (s *stubTracking) Record(ctx context.Context, params tracking.RecordParams) (tracking.Result, error) {
	s.lastParam = params
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	dup := s.seen[params.EventKey]
	s.seen[params.EventKey] = true
	return tracking.Result{
		Order:     order.Order{ID: params.OrderID, Status: order.StatusInProgress},
		Event:     tracking.Event{ID: "ev-1", EventKey: params.EventKey, Type: params.Type, OccurredAt: params.OccurredAt},
		Duplicate: dup,
	}, nil
}

type stubOrders struct {
	orderService
	err error
}

func (s *stubOrders) Get(ctx context.Context, tenantID string, viewer order.Viewer, id string) (order.Order, error) {
	if s.err != nil {
		return order.Order{}, s.err
	}
	return order.Order{ID: id, CustomerID: "c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01"}, nil
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(s *Server) http.Handler {
	if s.auth == nil {
		s.auth = newStubAuth()
	}
	s.now = func() time.Time { return testNow }
	return s.Routes()
}

func do(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelopeBody
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&Server{ping: func(context.Context) error { return nil }})
	rec, env := do(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected healthy, got %d %+v", rec.Code, env)
	}

	down := newTestServer(&Server{ping: func(context.Context) error { return errors.New("no route to host") }})
	rec, _ = do(t, down, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(&Server{requests: &stubRequests{}})

	rec, env := do(t, h, http.MethodGet, "/requests", "", "")
	if rec.Code != http.StatusUnauthorized || env.Success || env.Error == "" {
		t.Fatalf("expected 401 envelope, got %d %+v", rec.Code, env)
	}
	rec, _ = do(t, h, http.MethodGet, "/requests", "forged", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	h := newTestServer(&Server{})

	rec, env := do(t, h, http.MethodPost, "/auth/login", "", `{"email":"s@example.com","password":"correct horse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp loginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp.Token != "supplier-token" || resp.PartyID == nil || *resp.PartyID != "5a0b1c2d-3e4f-4a5b-9c6d-7e8f9a0b1c01" {
		t.Fatalf("unexpected login payload %+v", resp)
	}

	rec, _ = do(t, h, http.MethodPost, "/auth/login", "", `{"email":"s@example.com","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
}

func TestCreateRequest_CustomerFilesForItself(t *testing.T) {
	stub := &stubRequests{}
	h := newTestServer(&Server{requests: stub})

	body := `{"customerId":"someone-else","vertical":"logistics","title":"Pallets","origin":"Hamburg","destination":"Rotterdam","budget":"1500.00","currency":"EUR"}`
	rec, env := do(t, h, http.MethodPost, "/requests", "customer-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if stub.created.CustomerID != "c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01" || stub.created.TenantID != "t1" {
		t.Fatalf("expected principal scoping, got %+v", stub.created)
	}
	if !stub.created.Budget.Equal(decimal.RequireFromString("1500")) {
		t.Fatalf("expected decimal budget, got %s", stub.created.Budget)
	}

	var resp requestResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if resp.ID != "req-1" || resp.Status != request.StatusDraft {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateRequest_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		token string
		body  string
		err   error
		want  int
	}{
		{"supplier role", "supplier-token", `{"title":"x"}`, nil, http.StatusForbidden},
		{"malformed json", "customer-token", `{"title":`, nil, http.StatusBadRequest},
		{"bad deadline", "customer-token", `{"title":"x","deadline":"tomorrow"}`, nil, http.StatusBadRequest},
		{"service validation", "customer-token", `{"title":""}`, fmt.Errorf("request: %w: title is required", apperr.ErrValidation), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(&Server{requests: &stubRequests{err: tc.err}})
			rec, env := do(t, h, http.MethodPost, "/requests", tc.token, tc.body)
			if rec.Code != tc.want || env.Success {
				t.Fatalf("expected %d failure, got %d %+v", tc.want, rec.Code, env)
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	h := newTestServer(&Server{requests: &stubRequests{}})

	huge := `{"title":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec, env := do(t, h, http.MethodPost, "/requests", "customer-token", huge)
	if rec.Code != http.StatusBadRequest || !strings.Contains(env.Error, "exceeds") {
		t.Fatalf("expected 400 for oversized body, got %d %+v", rec.Code, env)
	}
}

func TestGetRFQ_AppliesLazyExpiry(t *testing.T) {
	rfqs := &stubRFQs{rec: rfq.RFQ{
		ID:       "6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41",
		Status:   rfq.StatusPublished,
		Deadline: testNow.Add(-time.Minute),
	}}
	h := newTestServer(&Server{rfqs: rfqs})

	rec, env := do(t, h, http.MethodGet, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", "buyer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp rfqResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode rfq: %v", err)
	}
	if resp.Status != rfq.StatusExpired {
		t.Fatalf("expected EXPIRED, got %s", resp.Status)
	}

	rec, _ = do(t, h, http.MethodGet, "/rfqs/0e4a6c8d-2b1f-4d3e-8a5c-7f9e1d3b5a70", "buyer-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetRFQ_HiddenFromUntargetedSupplier(t *testing.T) {
	rfqs := &stubRFQs{rec: rfq.RFQ{ID: "6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", Status: rfq.StatusPublished, TargetSuppliers: []string{"5a0b1c2d-3e4f-4a5b-9c6d-7e8f9a0b1c02"}, Deadline: testNow.Add(time.Hour)}}
	h := newTestServer(&Server{rfqs: rfqs})

	rec, _ := do(t, h, http.MethodGet, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", "supplier-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for untargeted supplier, got %d", rec.Code)
	}
}

func TestUpdateRFQ(t *testing.T) {
	rfqs := &stubRFQs{rec: rfq.RFQ{ID: "6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", Status: rfq.StatusPublished, Deadline: testNow.Add(time.Hour)}}
	h := newTestServer(&Server{rfqs: rfqs})

	rec, _ := do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", "buyer-token", `{"deadline":"2025-06-08T12:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !rfqs.extended.Deadline.Equal(testNow.Add(7*24*time.Hour)) || rfqs.extended.Actor != "u-buy" {
		t.Fatalf("unexpected extend params %+v", rfqs.extended)
	}

	rec, _ = do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", "buyer-token", `{"action":"reopen"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", "supplier-token", `{"deadline":"2025-06-08T12:00:00Z"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for supplier, got %d", rec.Code)
	}
}

func TestSubmitQuote_UsesSupplierParty(t *testing.T) {
	quotes := &stubQuotes{}
	h := newTestServer(&Server{quotes: quotes})

	body := `{"basePrice":"850","lineItems":[{"label":"fuel","amount":"50"}],"currency":"EUR","leadTimeDays":7,"validUntil":"2025-06-10T00:00:00Z"}`
	rec, env := do(t, h, http.MethodPost, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/quotes", "supplier-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if quotes.submitted.SupplierID != "5a0b1c2d-3e4f-4a5b-9c6d-7e8f9a0b1c01" || quotes.submitted.RFQID != "6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41" {
		t.Fatalf("unexpected submit params %+v", quotes.submitted)
	}
	var resp quoteResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if !resp.TotalPrice.Equal(decimal.RequireFromString("900")) {
		t.Fatalf("expected total 900, got %s", resp.TotalPrice)
	}

	rec, _ = do(t, h, http.MethodPost, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/quotes", "supplier-token", `{"basePrice":"850"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without validUntil, got %d", rec.Code)
	}
}

func TestListQuotes_ScopedBySupplier(t *testing.T) {
	quotes := &stubQuotes{}
	h := newTestServer(&Server{quotes: quotes})

	rec, env := do(t, h, http.MethodGet, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/quotes", "supplier-token", "")
	if rec.Code != http.StatusOK || quotes.listed != "5a0b1c2d-3e4f-4a5b-9c6d-7e8f9a0b1c01" {
		t.Fatalf("expected supplier-scoped listing, got %d %q", rec.Code, quotes.listed)
	}
	if !bytes.Contains(env.Data, []byte(`"items":[]`)) {
		t.Fatalf("expected empty items array, got %s", env.Data)
	}

	rec, _ = do(t, h, http.MethodGet, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/quotes", "customer-token", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rec.Code)
	}
}

func TestAward(t *testing.T) {
	awards := &stubAwards{}
	h := newTestServer(&Server{awards: awards})

	rec, env := do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/award", "buyer-token", `{"quoteId":"2b9e4d71-8c3a-4f6e-a1d2-5e7c9b0a3f18"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp awardResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode award: %v", err)
	}
	if resp.Order.Status != order.StatusPending || !resp.Order.AgreedPrice.Equal(resp.Quote.TotalPrice) {
		t.Fatalf("unexpected award payload %+v", resp)
	}
	if resp.RFQ.WinningQuoteID == nil || *resp.RFQ.WinningQuoteID != "2b9e4d71-8c3a-4f6e-a1d2-5e7c9b0a3f18" {
		t.Fatalf("expected winning quote 2b9e4d71-8c3a-4f6e-a1d2-5e7c9b0a3f18, got %+v", resp.RFQ)
	}

	awards.err = fmt.Errorf("award: %w", apperr.ErrAlreadyAwarded)
	rec, env = do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/award", "buyer-token", `{"quoteId":"2b9e4d71-8c3a-4f6e-a1d2-5e7c9b0a3f18"}`)
	if rec.Code != http.StatusConflict || env.Success || !strings.Contains(env.Error, "already awarded") {
		t.Fatalf("expected 409 already awarded, got %d %+v", rec.Code, env)
	}

	rec, _ = do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/award", "supplier-token", `{"quoteId":"2b9e4d71-8c3a-4f6e-a1d2-5e7c9b0a3f18"}`)
	if rec.Code != http.StatusForbidden || awards.calls != 2 {
		t.Fatalf("expected 403 without reaching the service, got %d after %d calls", rec.Code, awards.calls)
	}
}

func TestRecordTracking_DuplicateAnswers200(t *testing.T) {
	tr := &stubTracking{}
	h := newTestServer(&Server{tracking: tr})

	body := `{"eventId":"evt-9","type":"DELIVERED","occurredAt":"2025-06-01T10:00:00Z","location":"Rotterdam"}`
	rec, _ := do(t, h, http.MethodPost, "/orders/9a3d5e27-1f4b-4c8e-b6a0-7d2c1e9f4a63/tracking", "carrier-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if tr.lastParam.EventKey != "evt-9" || tr.lastParam.ReportedBy != "u-car" {
		t.Fatalf("unexpected record params %+v", tr.lastParam)
	}

	rec, env := do(t, h, http.MethodPost, "/orders/9a3d5e27-1f4b-4c8e-b6a0-7d2c1e9f4a63/tracking", "carrier-token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", rec.Code)
	}
	var resp trackingResultResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode tracking: %v", err)
	}
	if !resp.Duplicate {
		t.Fatal("expected duplicate flag on replay")
	}

	rec, _ = do(t, h, http.MethodPost, "/orders/9a3d5e27-1f4b-4c8e-b6a0-7d2c1e9f4a63/tracking", "customer-token", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rec.Code)
	}
}

func TestUnexpectedErrorIsHidden(t *testing.T) {
	h := newTestServer(&Server{orders: &stubOrders{err: errors.New("pq: connection reset by peer")}})

	rec, env := do(t, h, http.MethodGet, "/orders/9a3d5e27-1f4b-4c8e-b6a0-7d2c1e9f4a63", "buyer-token", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if env.Error != "internal server error" {
		t.Fatalf("expected generic message, got %q", env.Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&Server{metrics: metrics.New("test"), ping: func(context.Context) error { return nil }})

	do(t, h, http.MethodGet, "/healthz", "", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `route="/healthz"`) {
		t.Fatalf("expected route-labelled request counter, got %d:\n%s", rec.Code, rec.Body.String())
	}
}

type stubCustomers struct {
	calls int
}

func (s *stubCustomers) GetByID(ctx context.Context, tenantID, id string) (customer.Customer, error) {
	s.calls++
	if id != "c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01" {
		return customer.Customer{}, customer.ErrNotFound
	}
	return customer.Customer{ID: id, TenantID: tenantID, Name: "Acme", TotalRequests: 4, TotalOrders: 2, TotalSpend: decimal.NewFromInt(1900)}, nil
}

func TestGetCustomer_Scoping(t *testing.T) {
	stub := &stubCustomers{}
	h := newTestServer(&Server{customers: stub})

	rec, env := do(t, h, http.MethodGet, "/customers/c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01", "customer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for own profile, got %d %+v", rec.Code, env)
	}
	var got customerResponse
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TotalOrders != 2 || !got.TotalSpend.Equal(decimal.NewFromInt(1900)) {
		t.Fatalf("unexpected customer %+v", got)
	}

	rec, _ = do(t, h, http.MethodGet, "/customers/c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c02", "customer-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another customer, got %d", rec.Code)
	}
	if stub.calls != 1 {
		t.Fatalf("foreign lookup reached the service")
	}

	rec, _ = do(t, h, http.MethodGet, "/customers/c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01", "supplier-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for supplier, got %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodGet, "/customers/c0ffee00-1d2e-4a3b-8c4d-5e6f7a8b9c01", "buyer-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for buyer, got %d", rec.Code)
	}
}

func TestMalformedPathIDIsNotFound(t *testing.T) {
	rfqs := &stubRFQs{rec: rfq.RFQ{ID: "6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41", Status: rfq.StatusPublished, Deadline: testNow.Add(time.Hour)}}
	orders := &stubOrders{err: errors.New("must not be reached")}
	awards := &stubAwards{}
	h := newTestServer(&Server{rfqs: rfqs, orders: orders, awards: awards, customers: &stubCustomers{}})

	cases := []struct {
		method, path, token, body string
	}{
		{http.MethodGet, "/rfqs/not-a-uuid", "buyer-token", ""},
		{http.MethodPut, "/rfqs/RFQ-20250601-1/award", "buyer-token", `{"quoteId":"2b9e4d71-8c3a-4f6e-a1d2-5e7c9b0a3f18"}`},
		{http.MethodGet, "/orders/ORD-7", "buyer-token", ""},
		{http.MethodGet, "/quotes/QUO-1", "buyer-token", ""},
		{http.MethodGet, "/customers/acme", "buyer-token", ""},
	}
	for _, tc := range cases {
		rec, env := do(t, h, tc.method, tc.path, tc.token, tc.body)
		if rec.Code != http.StatusNotFound || env.Success {
			t.Fatalf("%s %s: expected 404 envelope, got %d %+v", tc.method, tc.path, rec.Code, env)
		}
	}
	if awards.calls != 0 {
		t.Fatalf("malformed id reached the award service %d times", awards.calls)
	}
}

func TestMalformedBodyIDIsBadRequest(t *testing.T) {
	awards := &stubAwards{}
	h := newTestServer(&Server{rfqs: &stubRFQs{}, awards: awards})

	rec, env := do(t, h, http.MethodPut, "/rfqs/6f1c2a9e-3b7d-4e21-9c5a-0d8e7f6a5b41/award", "buyer-token", `{"quoteId":"QUO-20250601-ABCDEF"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(env.Error, "quoteId") {
		t.Fatalf("expected 400 naming quoteId, got %d %+v", rec.Code, env)
	}
	if awards.calls != 0 {
		t.Fatal("malformed quote id reached the award service")
	}

	body := `{"requestId":"4d2f6a8c-0e1b-4c3d-9e5f-7a9b1c3d5e70","deadline":"2025-06-08T12:00:00Z","useDefaultCriteria":true,"targetSuppliers":["acme"]}`
	rec, env = do(t, h, http.MethodPost, "/rfqs", "buyer-token", body)
	if rec.Code != http.StatusBadRequest || !strings.Contains(env.Error, "targetSuppliers") {
		t.Fatalf("expected 400 naming targetSuppliers, got %d %+v", rec.Code, env)
	}
}
