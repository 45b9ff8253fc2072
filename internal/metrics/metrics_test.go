package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/derickschaefer/kwchart/internal/metrics"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.CacheHit()
	m.CacheMiss()
	m.Fetch(time.Millisecond, nil)
	m.Load(metrics.LoadOK)
	m.LivePoints(3)
	if m.Registry() != nil {
		t.Error("nil Metrics should have no registry")
	}
}

func TestCountersExposed(t *testing.T) {
	m := metrics.New()
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.Fetch(10*time.Millisecond, errors.New("boom"))
	m.Load(metrics.LoadSuperseded)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"kwchart_cache_hits_total 1",
		"kwchart_cache_misses_total 2",
		`kwchart_fetches_total{outcome="error"} 1`,
		`kwchart_loads_total{outcome="superseded"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestWrapHandlerCountsStatus(t *testing.T) {
	m := metrics.New()
	h := m.WrapHandler("/x", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `kwchart_http_requests_total{route="/x",status="418"} 1`) {
		t.Error("expected request counter for /x with status 418")
	}
}
