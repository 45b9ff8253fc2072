package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/measure"
	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/server"
	"github.com/derickschaefer/kwchart/internal/store"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

var testNow = time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

type fakeSource struct {
	err error

	mu      sync.Mutex
	queries []measure.Query
}

func (f *fakeSource) Chart(_ context.Context, variable string, q measure.Query) ([]model.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return []model.Point{{T: q.Start, V: 4}, {T: q.Start + 900, V: math.NaN()}}, nil
}

func newServer(t *testing.T, src *fakeSource) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "kwchart.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	s, err := server.New(server.Config{
		Source:      src,
		Definitions: st,
		Metrics:     metrics.New(),
		Now:         func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func putDef(t *testing.T, st *store.Store, src string) string {
	t.Helper()
	def, err := chartdef.Parse([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	id, err := st.PutDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

const energyDef = `{"name":"energy","options":[
	{"seriesType":"view","variable":"pv_power","aggregation":"avg","missing":"null"},
	{"seriesType":"threshold","value":5}
]}`

// ─── Tests ────────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSeriesReturnsAssembledChart(t *testing.T) {
	src := &fakeSource{}
	ts, st := newServer(t, src)
	id := putDef(t, st, energyDef)

	resp, err := http.Get(ts.URL + "/charts/" + id + "/series?period=day&ref=2024-03-15&interval=15m")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	var res struct {
		Kind string          `json:"kind"`
		Data model.ChartData `json:"data"`
	}
	decode(t, resp, &res)

	if res.Kind != model.KindChart || res.Data.Interval != "15m" || res.Data.Period != "day" {
		t.Errorf("unexpected envelope: %+v", res)
	}
	if len(res.Data.Series) != 2 {
		t.Fatalf("expected 2 series, got %d", len(res.Data.Series))
	}
	pv := res.Data.Series[0].Points
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix()
	if len(pv) != 2 || pv[0].T != start*1000 || pv[0].V != 4 || !math.IsNaN(pv[1].V) {
		t.Errorf("pv points: %v", pv)
	}
	if len(src.queries) != 1 || src.queries[0].Agg != "avg" || src.queries[0].Interval != "15m" {
		t.Errorf("queries: %+v", src.queries)
	}
}

func TestSeriesByName(t *testing.T) {
	ts, st := newServer(t, &fakeSource{})
	putDef(t, st, energyDef)
	resp, err := http.Get(ts.URL + "/charts/energy/series")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSeriesErrors(t *testing.T) {
	ts, st := newServer(t, &fakeSource{err: &measure.StatusError{Code: 500, Message: "boom"}})
	id := putDef(t, st, energyDef)

	cases := []struct {
		path string
		want int
	}{
		{"/charts/missing/series", http.StatusNotFound},
		{"/charts/" + id + "/series?period=fortnight", http.StatusBadRequest},
		{"/charts/" + id + "/series?period=day&interval=1w", http.StatusBadRequest},
		{"/charts/" + id + "/series?period=day&ref=2024-03-15", http.StatusBadGateway},
	}
	for _, c := range cases {
		resp, err := http.Get(ts.URL + c.path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != c.want {
			t.Errorf("%s: status %d, want %d", c.path, resp.StatusCode, c.want)
		}
	}
}

func TestCreateListDeleteChart(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})

	resp, err := http.Post(ts.URL+"/charts", "application/json", strings.NewReader(energyDef))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	var created chartdef.Definition
	decode(t, resp, &created)
	if created.ID == "" {
		t.Fatal("created definition has no ID")
	}

	resp, _ = http.Get(ts.URL + "/charts")
	var list []chartdef.Definition
	decode(t, resp, &list)
	if len(list) != 1 || list[0].Name != "energy" {
		t.Errorf("list: %+v", list)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/charts/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status: %d", resp.StatusCode)
	}
}

func TestCreateRejectsInvalidDefinition(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})
	bad := `{"name":"bad","options":[{"seriesType":"calculation","expression":"a +","aggregations":["sum"]}]}`
	resp, err := http.Post(ts.URL+"/charts", "application/json", strings.NewReader(bad))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status: %d", resp.StatusCode)
	}
}

func TestValidateExpression(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})
	body, _ := json.Marshal(map[string]interface{}{"expression": "a - b", "aggregations": []string{"sum", "avg"}})
	resp, err := http.Post(ts.URL+"/expressions/validate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Valid     bool     `json:"valid"`
		Variables []string `json:"variables"`
		Annotated string   `json:"annotated"`
	}
	decode(t, resp, &out)
	if !out.Valid || len(out.Variables) != 2 || out.Annotated != "a_sum - b_avg" {
		t.Errorf("unexpected: %+v", out)
	}

	resp, _ = http.Post(ts.URL+"/expressions/validate", "application/json", strings.NewReader(`{"expression":"a +"}`))
	decode(t, resp, &out)
	if out.Valid {
		t.Error("a + should be invalid")
	}
}

func TestValidateDeeplyNestedExpression(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})
	src := strings.Repeat("(", 100000) + "a" + strings.Repeat(")", 100000)
	body, _ := json.Marshal(map[string]string{"expression": src})
	resp, err := http.Post(ts.URL+"/expressions/validate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	decode(t, resp, &out)
	if out.Valid || out.Error == "" {
		t.Errorf("expected invalid with error, got %+v", out)
	}
}

func TestOversizedBodiesRejected(t *testing.T) {
	ts, st := newServer(t, &fakeSource{})
	huge := strings.Repeat("a", 1<<20+1024)

	body, _ := json.Marshal(map[string]string{"expression": huge})
	resp, err := http.Post(ts.URL+"/expressions/validate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("validate status: %d", resp.StatusCode)
	}

	def, _ := json.Marshal(map[string]string{"name": huge})
	resp, err = http.Post(ts.URL+"/charts", "application/json", bytes.NewReader(def))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("create status: %d", resp.StatusCode)
	}
	defs, err := st.ListDefinitions()
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 0 {
		t.Errorf("expected nothing stored, got %d definitions", len(defs))
	}
}

func TestBounds(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})
	resp, err := http.Get(ts.URL + "/bounds?period=day&ref=2024-03-15")
	if err != nil {
		t.Fatal(err)
	}
	var b model.BoundsData
	decode(t, resp, &b)
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC).Unix()
	if b.Start != start || b.End != testNow.Unix() || b.Default != "15m" {
		t.Errorf("bounds: %+v", b)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	ts, _ := newServer(t, &fakeSource{})
	resp, _ := http.Get(ts.URL + "/health")
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), `kwchart_http_requests_total{route="health",status="200"} 1`) {
		t.Errorf("metrics missing request counter:\n%s", b)
	}
}
