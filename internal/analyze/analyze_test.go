package analyze_test

import (
	"math"
	"testing"

	"github.com/derickschaefer/kwchart/internal/analyze"
	"github.com/derickschaefer/kwchart/internal/model"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// hourly builds a view series with one point per hour, in milliseconds.
func hourly(label string, values ...float64) model.Series {
	pts := make([]model.Point, len(values))
	for i, v := range values {
		pts[i] = model.Point{T: int64(i) * 3600000, V: v}
	}
	return model.Series{Label: label, Type: model.SeriesView, Points: pts}
}

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

var nan = math.NaN()

// ─── Summarize ────────────────────────────────────────────────────────────────

func TestSummarizeBasic(t *testing.T) {
	s := analyze.Summarize(hourly("pv", 1, 2, 3, 4, 5))
	if s.Count != 5 || s.Missing != 0 {
		t.Errorf("count/missing: %d/%d", s.Count, s.Missing)
	}
	if !approxEqual(s.Mean, 3, 1e-9) {
		t.Errorf("mean: got %g", s.Mean)
	}
	if !approxEqual(s.Std, math.Sqrt(2.5), 1e-9) {
		t.Errorf("std: got %g, want sample std %g", s.Std, math.Sqrt(2.5))
	}
	if s.Min != 1 || s.Max != 5 || s.Median != 3 {
		t.Errorf("min/median/max: %g/%g/%g", s.Min, s.Median, s.Max)
	}
	if s.First != 1 || s.Last != 5 || s.Change != 4 {
		t.Errorf("first/last/change: %g/%g/%g", s.First, s.Last, s.Change)
	}
}

func TestSummarizeCountsMissing(t *testing.T) {
	s := analyze.Summarize(hourly("pv", nan, 2, nan, 4))
	if s.Count != 4 || s.Missing != 2 {
		t.Errorf("count/missing: %d/%d", s.Count, s.Missing)
	}
	if s.MissingPct != 50 {
		t.Errorf("missing pct: got %g", s.MissingPct)
	}
	if s.First != 2 || s.Last != 4 {
		t.Errorf("first/last should skip NaN: %g/%g", s.First, s.Last)
	}
}

func TestSummarizeAllMissing(t *testing.T) {
	s := analyze.Summarize(hourly("pv", nan, nan))
	if !math.IsNaN(s.Mean) || !math.IsNaN(s.Median) || !math.IsNaN(s.First) {
		t.Errorf("all-missing series should summarize to NaN: %+v", s)
	}
}

func TestSummarizeSinglePoint(t *testing.T) {
	s := analyze.Summarize(hourly("pv", 7))
	if s.Std != 0 || s.Mean != 7 {
		t.Errorf("single point: mean %g std %g", s.Mean, s.Std)
	}
}

func TestSummarizeAllSkipsThresholds(t *testing.T) {
	limit := hourly("limit", 5, 5)
	limit.Type = model.SeriesThreshold
	sums := analyze.SummarizeAll([]model.Series{hourly("pv", 1, 2), limit})
	if len(sums) != 1 || sums[0].Label != "pv" {
		t.Errorf("expected only pv, got %+v", sums)
	}
}

func TestSummaryTable(t *testing.T) {
	tbl := analyze.SummaryTable(analyze.SummarizeAll([]model.Series{hourly("pv", nan, 1.23456789)}))
	if len(tbl.Rows) != 1 || len(tbl.Rows[0]) != len(tbl.Headers) {
		t.Fatalf("shape mismatch: %v", tbl)
	}
	if tbl.Rows[0][3] != "1.2346" {
		t.Errorf("mean cell: got %q", tbl.Rows[0][3])
	}
	if tbl.Rows[0][4] != "0" {
		t.Errorf("std cell: got %q", tbl.Rows[0][4])
	}
}

// ─── Trend ────────────────────────────────────────────────────────────────────

func TestTrendPerfectLine(t *testing.T) {
	tr, err := analyze.Trend(hourly("pv", 10, 12, 14, 16))
	if err != nil {
		t.Fatal(err)
	}
	if !approxEqual(tr.SlopePerHour, 2, 1e-9) || !approxEqual(tr.Intercept, 10, 1e-9) {
		t.Errorf("fit: slope %g intercept %g", tr.SlopePerHour, tr.Intercept)
	}
	if !approxEqual(tr.R2, 1, 1e-9) || tr.Direction != "up" {
		t.Errorf("r2 %g direction %s", tr.R2, tr.Direction)
	}
}

func TestTrendSkipsMissing(t *testing.T) {
	tr, err := analyze.Trend(hourly("pv", 9, nan, 5))
	if err != nil {
		t.Fatal(err)
	}
	if tr.FittedPoints != 2 || tr.Direction != "down" {
		t.Errorf("got %+v", tr)
	}
	if !approxEqual(tr.SlopePerHour, -2, 1e-9) {
		t.Errorf("slope: got %g", tr.SlopePerHour)
	}
}

func TestTrendFlat(t *testing.T) {
	tr, err := analyze.Trend(hourly("pv", 3, 3, 3))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Direction != "flat" {
		t.Errorf("expected flat, got %s", tr.Direction)
	}
}

func TestTrendTooFewPoints(t *testing.T) {
	if _, err := analyze.Trend(hourly("pv", 1, nan)); err == nil {
		t.Error("expected error with fewer than 2 points")
	}
}
