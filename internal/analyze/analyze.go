// Package analyze computes statistical summaries and trend fits over chart
// series. All functions are pure; no I/O.
package analyze

import (
	"fmt"
	"math"
	"sort"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/util"
	"gonum.org/v1/gonum/stat"
)

// ─── Summary ──────────────────────────────────────────────────────────────────

// Summary holds descriptive statistics for a series.
type Summary struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`       // total points
	Missing    int     `json:"missing"`     // NaN count
	MissingPct float64 `json:"missing_pct"` // percent missing
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Min        float64 `json:"min"`
	Median     float64 `json:"median"`
	Max        float64 `json:"max"`
	First      float64 `json:"first"` // first non-NaN value
	Last       float64 `json:"last"`  // last non-NaN value
	Change     float64 `json:"change"`
}

// Summarize computes descriptive statistics over s.
// NaN values are excluded from all numeric computations but counted.
func Summarize(s model.Series) Summary {
	sum := Summary{Label: s.Label, Count: len(s.Points)}

	vals := make([]float64, 0, len(s.Points))
	for _, p := range s.Points {
		if p.IsMissing() {
			sum.Missing++
			continue
		}
		vals = append(vals, p.V)
	}
	if sum.Count > 0 {
		sum.MissingPct = float64(sum.Missing) / float64(sum.Count) * 100
	}
	if len(vals) == 0 {
		nan := math.NaN()
		sum.Mean, sum.Std, sum.Min, sum.Median, sum.Max = nan, nan, nan, nan, nan
		sum.First, sum.Last, sum.Change = nan, nan, nan
		return sum
	}

	sum.First = vals[0]
	sum.Last = vals[len(vals)-1]
	sum.Change = sum.Last - sum.First

	sum.Mean, sum.Std = stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		sum.Std = 0
	}

	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	sum.Min = sorted[0]
	sum.Max = sorted[len(sorted)-1]
	sum.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	return sum
}

// SummarizeAll summarizes every series except thresholds, which are flat
// by construction.
func SummarizeAll(series []model.Series) []Summary {
	var out []Summary
	for _, s := range series {
		if s.Type == model.SeriesThreshold {
			continue
		}
		out = append(out, Summarize(s))
	}
	return out
}

// SummaryTable lays summaries out for the renderers.
func SummaryTable(sums []Summary) model.Table {
	t := model.Table{
		Title:   "Summary",
		Headers: []string{"SERIES", "COUNT", "MISSING", "MEAN", "STD", "MIN", "MEDIAN", "MAX", "FIRST", "LAST"},
	}
	f := func(v float64) string {
		if math.IsNaN(v) {
			return "."
		}
		return util.FormatValue(math.Round(v*1e4) / 1e4)
	}
	for _, s := range sums {
		t.Rows = append(t.Rows, []string{
			s.Label,
			fmt.Sprintf("%d", s.Count),
			fmt.Sprintf("%d", s.Missing),
			f(s.Mean), f(s.Std), f(s.Min), f(s.Median), f(s.Max), f(s.First), f(s.Last),
		})
	}
	return t
}

// ─── Trend ────────────────────────────────────────────────────────────────────

// TrendResult holds an ordinary least squares fit over a series.
type TrendResult struct {
	Label        string  `json:"label"`
	SlopePerHour float64 `json:"slope_per_hour"`
	Intercept    float64 `json:"intercept"`
	R2           float64 `json:"r2"`
	Direction    string  `json:"direction"` // "up", "down", "flat"
	FittedPoints int     `json:"fitted_points"`
}

// flatSlope is the per-hour slope below which a trend counts as flat.
const flatSlope = 1e-9

// Trend fits a line through the non-missing points of s. X is hours since
// the first fitted point; timestamps are Unix milliseconds.
func Trend(s model.Series) (TrendResult, error) {
	tr := TrendResult{Label: s.Label}

	var xs, ys []float64
	var t0 int64
	for _, p := range s.Points {
		if p.IsMissing() {
			continue
		}
		if len(xs) == 0 {
			t0 = p.T
		}
		xs = append(xs, float64(p.T-t0)/3.6e6)
		ys = append(ys, p.V)
	}
	tr.FittedPoints = len(xs)
	if len(xs) < 2 {
		return tr, fmt.Errorf("trend %s: need at least 2 non-missing points, got %d", s.Label, len(xs))
	}

	tr.Intercept, tr.SlopePerHour = stat.LinearRegression(xs, ys, nil, false)
	tr.R2 = stat.RSquared(xs, ys, nil, tr.Intercept, tr.SlopePerHour)
	if math.IsNaN(tr.R2) {
		tr.R2 = 1
	}

	switch {
	case tr.SlopePerHour > flatSlope:
		tr.Direction = "up"
	case tr.SlopePerHour < -flatSlope:
		tr.Direction = "down"
	default:
		tr.Direction = "flat"
	}
	return tr, nil
}
