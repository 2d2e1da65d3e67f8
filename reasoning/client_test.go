package reasoning

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"sourcingflow/apperr"
)

func TestClientAdvise(t *testing.T) {
	var gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"confidence":0.8,"recommendation":"recommended","rationale":"solid history"}`))
	}))
	defer srv.Close()

	advice, err := NewClient(srv.URL, time.Second).Advise(context.Background(), Request{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("advise: %v", err)
	}
	if advice.Confidence != 0.8 || advice.Recommendation != "recommended" || advice.Rationale != "solid history" {
		t.Fatalf("unexpected advice %+v", advice)
	}
	if gotTenant != "tenant-1" {
		t.Fatalf("expected tenant header, got %q", gotTenant)
	}
}

func TestClientRejectsMalformedResponses(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":       {http.StatusBadGateway, `{}`},
		"confidence too big": {http.StatusOK, `{"confidence":1.5,"recommendation":"recommended","rationale":"x"}`},
		"missing confidence": {http.StatusOK, `{"recommendation":"recommended","rationale":"x"}`},
		"unknown label":      {http.StatusOK, `{"confidence":0.5,"recommendation":"buy it","rationale":"x"}`},
		"empty rationale":    {http.StatusOK, `{"confidence":0.5,"recommendation":"acceptable","rationale":"  "}`},
		"not json":           {http.StatusOK, `<html>`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Advise(context.Background(), Request{})
			if !errors.Is(err, apperr.ErrExternalUnavailable) {
				t.Fatalf("expected ExternalUnavailable, got %v", err)
			}
		})
	}
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond).Advise(context.Background(), Request{})
	if !errors.Is(err, apperr.ErrExternalUnavailable) {
		t.Fatalf("expected timeout to surface as ExternalUnavailable, got %v", err)
	}
}

type countingAdvisor struct {
	calls atomic.Int32
	err   error
}

func (c *countingAdvisor) Advise(ctx context.Context, req Request) (Advice, error) {
	c.calls.Add(1)
	return Advice{}, c.err
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	next := &countingAdvisor{err: errors.New("boom")}
	g := NewGuarded(next, GuardConfig{Timeout: time.Second, Failures: 2, Cooldown: time.Minute})

	for i := 0; i < 4; i++ {
		if _, err := g.Advise(context.Background(), Request{}); !errors.Is(err, apperr.ErrExternalUnavailable) {
			t.Fatalf("call %d: expected ExternalUnavailable, got %v", i, err)
		}
	}
	if got := next.calls.Load(); got != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d", got)
	}
	if g.State() != "open" {
		t.Fatalf("expected open breaker, got %s", g.State())
	}
}
