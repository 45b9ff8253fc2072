package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

// run executes the root command with args and returns its output. Flag
// variables are reset afterwards since cobra keeps them between runs.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		globalFlags.Token, globalFlags.BaseURL, globalFlags.TZ = "", "", ""
		globalFlags.Format, globalFlags.Out, globalFlags.Timeout, globalFlags.DB = "", "", "", ""
		globalFlags.Rate = 0
		globalFlags.Quiet, globalFlags.Verbose, globalFlags.Debug = false, false, false
		loadPeriod, loadRef, loadInterval = "", "", ""
		loadSave, loadPlot, loadSummary = false, false, false
		boundsRef = ""
		exprEvalVars, exprAnnotateAggs = nil, ""
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

const energyDef = `{
  "name": "energy",
  "period": "day",
  "interval": "15m",
  "options": [
    {"seriesType": "view", "label": "pv", "variable": "pv_power"},
    {"seriesType": "calculation", "label": "net", "expression": "pv_power - load"},
    {"seriesType": "threshold", "label": "limit", "value": 5}
  ]
}`

func writeDef(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "energy.json")
	if err := os.WriteFile(p, []byte(energyDef), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// ─── expr ─────────────────────────────────────────────────────────────────────

func TestExprVarsCommand(t *testing.T) {
	out, err := run(t, "expr", "vars", "max(grid_import, pv_power) - grid_import")
	if err != nil {
		t.Fatalf("expr vars: %v", err)
	}
	if out != "grid_import\npv_power\n" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestExprAnnotateCommand(t *testing.T) {
	out, err := run(t, "expr", "annotate", "a - b", "--aggs", "sum,avg")
	if err != nil {
		t.Fatalf("expr annotate: %v", err)
	}
	if strings.TrimSpace(out) != "a_sum - b_avg" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestExprCheckReportsEveryInvalid(t *testing.T) {
	out, err := run(t, "expr", "check", "a - b", "max(a, 2", "foo(a)")
	if err == nil {
		t.Fatal("expected error for invalid expressions")
	}
	if !strings.Contains(out, "✓ a - b") || strings.Count(out, "✗") != 2 {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestExprEvalCommand(t *testing.T) {
	out, err := run(t, "expr", "eval", "(pv - load) / 1000", "--var", "pv=5000", "--var", "load=3000")
	if err != nil {
		t.Fatalf("expr eval: %v", err)
	}
	if strings.TrimSpace(out) != "2" {
		t.Errorf("unexpected output: %q", out)
	}
}

// ─── bounds ───────────────────────────────────────────────────────────────────

func TestBoundsCommandCSV(t *testing.T) {
	out, err := run(t, "bounds", "day", "--ref", "2024-03-15T10:30", "--tz", "UTC", "--format", "csv",
		"--db", filepath.Join(t.TempDir(), "kw.db"))
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	for _, want := range []string{"field,value", "Period,day", "Start,2024-03-15T00:00:00Z", "Default Interval,15m"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestBoundsCommandUnknownPeriod(t *testing.T) {
	if _, err := run(t, "bounds", "fortnight"); err == nil {
		t.Error("expected error for unknown period")
	}
}

// ─── def ──────────────────────────────────────────────────────────────────────

func TestDefImportListShowRm(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kw.db")
	path := writeDef(t)

	out, err := run(t, "def", "import", path, "--db", db)
	if err != nil {
		t.Fatalf("def import: %v", err)
	}
	if !strings.Contains(out, "(energy)") {
		t.Errorf("import output: %q", out)
	}

	out, err = run(t, "def", "list", "--db", db)
	if err != nil {
		t.Fatalf("def list: %v", err)
	}
	if !strings.Contains(out, "energy") || !strings.Contains(out, "1 view, 1 calc, 1 threshold") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, "def", "show", "energy", "--db", db)
	if err != nil {
		t.Fatalf("def show: %v", err)
	}
	var shown struct {
		Name    string `json:"name"`
		Options []struct {
			Aggregations []string `json:"aggregations"`
		} `json:"options"`
	}
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("show output is not JSON: %v\n%s", err, out)
	}
	if shown.Name != "energy" || len(shown.Options[1].Aggregations) != 2 {
		t.Errorf("stored definition not normalized: %+v", shown)
	}

	if _, err := run(t, "def", "rm", "energy", "--db", db); err != nil {
		t.Fatalf("def rm: %v", err)
	}
	if _, err := run(t, "def", "show", "energy", "--db", db); err == nil {
		t.Error("expected not-found after rm")
	}
}

func TestDefImportRejectsInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(p, []byte(`{"name":"bad","options":[{"seriesType":"view","variable":"1x"}]}`), 0o644)
	if _, err := run(t, "def", "import", p, "--db", filepath.Join(t.TempDir(), "kw.db")); err == nil {
		t.Error("expected validation error")
	}
}

// ─── load ─────────────────────────────────────────────────────────────────────

// measurementAPI answers every chart request with a value at the window
// start and a null 15 minutes later.
func measurementAPI(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		start, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
		v := "1.5"
		if strings.Contains(r.URL.Path, "/load/") {
			v = "0.5"
		}
		fmt.Fprintf(w, "[[%d, %s], [%d, null]]", start, v, start+900)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadCommandCSV(t *testing.T) {
	var hits int32
	srv := measurementAPI(t, &hits)
	db := filepath.Join(t.TempDir(), "kw.db")

	out, err := run(t, "load", writeDef(t), "--ref", "2024-03-15", "--tz", "UTC",
		"--base-url", srv.URL, "--format", "csv", "--db", db, "--quiet", "--save")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hits != 2 {
		t.Errorf("expected one fetch per variable, got %d", hits)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "time,pv,net,limit" {
		t.Errorf("header: %q", lines[0])
	}
	if !strings.Contains(out, "2024-03-15 00:00:00,1.5,1,5") {
		t.Errorf("missing first row:\n%s", out)
	}
	if !strings.Contains(out, "2024-03-15 00:15:00,.,.,5") {
		t.Errorf("missing gap row:\n%s", out)
	}

	out, err = run(t, "snapshot", "list", "energy", "--db", db)
	if err != nil {
		t.Fatalf("snapshot list: %v", err)
	}
	if !strings.Contains(out, "chart:energy|period:day|ref:1710460800|int:15m") {
		t.Errorf("saved snapshot not listed:\n%s", out)
	}
}

func TestLoadCommandRejectsForeignInterval(t *testing.T) {
	var hits int32
	srv := measurementAPI(t, &hits)
	_, err := run(t, "load", writeDef(t), "--interval", "1w", "--base-url", srv.URL,
		"--db", filepath.Join(t.TempDir(), "kw.db"))
	if err == nil {
		t.Error("expected error for an interval not offered by the day period")
	}
	if hits != 0 {
		t.Errorf("nothing should be fetched, got %d requests", hits)
	}
}

func TestLoadCommandNeedsBaseURL(t *testing.T) {
	t.Setenv("KWCHART_BASE_URL", "")
	if _, err := run(t, "load", writeDef(t), "--db", filepath.Join(t.TempDir(), "kw.db")); err == nil {
		t.Error("expected error without a base URL")
	}
}
