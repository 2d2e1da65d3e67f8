package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New("sourcing_test")
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/rfqs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodGet, "/rfqs/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.RequestCounter.WithLabelValues(http.MethodGet, "/rfqs/{id}", "409"))
	if got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}
}

func TestHandlerExposesDomainCounters(t *testing.T) {
	m := New("sourcing_test")
	m.QuotesSubmitted.Inc()
	m.Awards.WithLabelValues("already_awarded").Inc()
	m.TrackDBOperation("award", time.Now(), errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"sourcing_test_quotes_submitted_total 1",
		`sourcing_test_awards_total{result="already_awarded"} 1`,
		`sourcing_test_db_operation_duration_seconds_count{operation="award",result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
