// Package chart provides ASCII terminal rendering of assembled chart series.
// Two renderers are available:
//
//   - Plot: one shared-axis scatter of every series, thresholds drawn as
//     dashed lines, with a legend
//   - Bar: one horizontal bar per series showing its latest value, used for
//     live snapshots
//
// Missing values are gaps, never zeros.
package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/transform"
)

// markers are assigned to data series in order and reused cyclically.
var markers = []rune{'●', '○', '◆', '×', '+', '*'}

const thresholdRune = '┄'

// ─── Plot ─────────────────────────────────────────────────────────────────────

// PlotOptions controls multi-series ASCII plot rendering.
type PlotOptions struct {
	// Width is the total character width of the chart (including Y-axis label).
	// If 0, auto-detects from $COLUMNS, falls back to 80.
	Width int
	// Height is the number of data rows in the chart body. If 0, defaults to 12.
	Height int
	// Title is printed above the plot. Empty prints no title.
	Title string
	// Location formats the X-axis labels. Nil means UTC.
	Location *time.Location
}

// Plot renders every series of a chart onto one shared Y scale. Timestamps
// are Unix milliseconds.
func Plot(w io.Writer, series []model.Series, opts PlotOptions) error {
	width := opts.Width
	if width <= 0 {
		width = termWidth()
	}
	height := opts.Height
	if height <= 0 {
		height = 12
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	minVal, maxVal, n := valueRange(series)
	if n < 1 {
		return fmt.Errorf("chart plot: no non-missing values to render")
	}
	t0, t1 := timeRange(series)

	ticks := yTicks(minVal, maxVal, height)
	yLabelWidth := 0
	for _, t := range ticks {
		if l := len(formatFloat(t)); l > yLabelWidth {
			yLabelWidth = l
		}
	}
	plotWidth := width - yLabelWidth - 1
	if plotWidth < 10 {
		plotWidth = 10
	}

	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", plotWidth))
	}

	// Thresholds first so data markers draw over them.
	for _, s := range series {
		if s.Type != model.SeriesThreshold {
			continue
		}
		if p, ok := transform.Last(s.Points); ok {
			r := rowFor(p.V, minVal, maxVal, height)
			for c := range grid[r] {
				grid[r][c] = thresholdRune
			}
		}
	}
	k := 0
	for _, s := range series {
		if s.Type == model.SeriesThreshold {
			continue
		}
		m := markers[k%len(markers)]
		k++
		for c, v := range sampleCols(s.Points, t0, t1, plotWidth) {
			if math.IsNaN(v) {
				continue
			}
			grid[rowFor(v, minVal, maxVal, height)][c] = m
		}
	}

	if opts.Title != "" {
		fmt.Fprintln(w, opts.Title)
	}
	for row := 0; row < height; row++ {
		label := ""
		for _, t := range ticks {
			if rowFor(t, minVal, maxVal, height) == row {
				label = formatFloat(t)
				break
			}
		}
		axis := " "
		if label != "" {
			axis = "┤"
		}
		fmt.Fprintf(w, "%*s%s%s\n", yLabelWidth, label, axis, string(grid[row]))
	}
	fmt.Fprintf(w, "%s└%s\n", strings.Repeat(" ", yLabelWidth), strings.Repeat("─", plotWidth))
	fmt.Fprintf(w, "%s %s\n", strings.Repeat(" ", yLabelWidth), xAxisLabels(t0, t1, plotWidth, loc))

	fmt.Fprintln(w, legend(series))
	return nil
}

// legend lists each series with the glyph it was drawn with.
func legend(series []model.Series) string {
	var parts []string
	k := 0
	for _, s := range series {
		if s.Type == model.SeriesThreshold {
			parts = append(parts, fmt.Sprintf("%c %s", thresholdRune, s.Label))
			continue
		}
		parts = append(parts, fmt.Sprintf("%c %s", markers[k%len(markers)], s.Label))
		k++
	}
	return strings.Join(parts, "   ")
}

// ─── Bar ─────────────────────────────────────────────────────────────────────

// BarOptions controls horizontal bar chart rendering.
type BarOptions struct {
	// Width is the total character width available for the chart.
	// If 0, auto-detects from $COLUMNS, falls back to 80.
	Width int
}

// Bar renders one bar per series for its latest non-missing value.
// Series with no value render as "." without a bar.
//
//	pv_power   3.2  ████████████
//	load       1.7  ██████
//	limit      5.0  ████████████████████
func Bar(w io.Writer, series []model.Series, opts BarOptions) error {
	if len(series) == 0 {
		return fmt.Errorf("chart bar: no series to render")
	}
	totalWidth := opts.Width
	if totalWidth <= 0 {
		totalWidth = termWidth()
	}

	labelWidth, valWidth := 0, 1
	vals := make([]float64, len(series))
	maxAbs := 0.0
	for i, s := range series {
		vals[i] = math.NaN()
		if p, ok := transform.Last(s.Points); ok {
			vals[i] = p.V
			maxAbs = math.Max(maxAbs, math.Abs(p.V))
		}
		if l := len([]rune(s.Label)); l > labelWidth {
			labelWidth = l
		}
		if l := len(formatFloat(vals[i])); l > valWidth {
			valWidth = l
		}
	}
	barArea := totalWidth - labelWidth - valWidth - 4
	if barArea < 4 {
		barArea = 4
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	for i, s := range series {
		bar := ""
		if !math.IsNaN(vals[i]) {
			n := int(math.Round(math.Abs(vals[i]) / maxAbs * float64(barArea)))
			if n < 1 {
				n = 1
			}
			glyph := "█"
			if vals[i] < 0 {
				glyph = "░"
			}
			bar = strings.Repeat(glyph, n)
		}
		fmt.Fprintf(w, "%-*s  %*s  %s\n", labelWidth, s.Label, valWidth, formatFloat(vals[i]), bar)
	}
	return nil
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink renders chart results as plots, or as bars when Bars is set. It
// satisfies controller.Sink.
type Sink struct {
	W       io.Writer
	Bars    bool
	Options PlotOptions
}

// Render draws res. Results that carry no chart data are ignored.
func (s *Sink) Render(res model.Result) error {
	w := s.W
	if w == nil {
		w = os.Stdout
	}
	var cd *model.ChartData
	switch d := res.Data.(type) {
	case model.ChartData:
		cd = &d
	case *model.ChartData:
		cd = d
	}
	if cd == nil {
		return nil
	}
	if s.Bars {
		return Bar(w, cd.Series, BarOptions{Width: s.Options.Width})
	}
	opts := s.Options
	if opts.Title == "" {
		opts.Title = fmt.Sprintf("%s  [%s, %s]", cd.Name, cd.Period, cd.Interval)
	}
	return Plot(w, cd.Series, opts)
}

// ─── Grid helpers ─────────────────────────────────────────────────────────────

func valueRange(series []model.Series) (lo, hi float64, n int) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range series {
		for _, p := range s.Points {
			if p.IsMissing() {
				continue
			}
			lo = math.Min(lo, p.V)
			hi = math.Max(hi, p.V)
			n++
		}
	}
	return lo, hi, n
}

func timeRange(series []model.Series) (t0, t1 int64) {
	first := true
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		a, b := s.Points[0].T, s.Points[len(s.Points)-1].T
		if first || a < t0 {
			t0 = a
		}
		if first || b > t1 {
			t1 = b
		}
		first = false
	}
	return t0, t1
}

// sampleCols buckets pts by time into n columns. Each column holds the
// average of its bucket, or NaN if the bucket has no values.
func sampleCols(pts []model.Point, t0, t1 int64, n int) []float64 {
	sums := make([]float64, n)
	counts := make([]int, n)
	span := t1 - t0
	for _, p := range pts {
		if p.IsMissing() {
			continue
		}
		col := 0
		if span > 0 {
			col = int((p.T - t0) * int64(n-1) / span)
		}
		if col < 0 || col >= n {
			continue
		}
		sums[col] += p.V
		counts[col]++
	}
	out := make([]float64, n)
	for i := range out {
		if counts[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sums[i] / float64(counts[i])
	}
	return out
}

// rowFor returns the grid row (0 = top = max) for v.
func rowFor(v, minVal, maxVal float64, height int) int {
	if maxVal == minVal {
		return height / 2
	}
	r := int(math.Round((maxVal - v) / (maxVal - minVal) * float64(height-1)))
	if r < 0 {
		return 0
	}
	if r >= height {
		return height - 1
	}
	return r
}

// yTicks returns 3–4 evenly-spaced tick values for the Y axis.
func yTicks(minVal, maxVal float64, height int) []float64 {
	if maxVal == minVal {
		return []float64{minVal}
	}
	nTicks := 4
	if height <= 6 {
		nTicks = 3
	}
	ticks := make([]float64, nTicks)
	for i := range ticks {
		ticks[i] = minVal + float64(i)*(maxVal-minVal)/float64(nTicks-1)
	}
	return ticks
}

// xAxisLabels places start, middle and end time labels under the plot. The
// layout shrinks to clock time when the whole range sits within one day.
func xAxisLabels(t0, t1 int64, plotWidth int, loc *time.Location) string {
	a, b := time.UnixMilli(t0).In(loc), time.UnixMilli(t1).In(loc)
	layout := "01-02 15:04"
	if a.YearDay() == b.YearDay() && a.Year() == b.Year() {
		layout = "15:04:05"
	}
	mid := time.UnixMilli(t0 + (t1-t0)/2).In(loc)

	buf := []rune(strings.Repeat(" ", plotWidth))
	writeAt := func(pos int, s string) {
		for i, ch := range s {
			if pos+i >= 0 && pos+i < len(buf) {
				buf[pos+i] = ch
			}
		}
	}
	start, middle, end := a.Format(layout), mid.Format(layout), b.Format(layout)
	writeAt(0, start)
	if plotWidth > 3*len(layout)+4 {
		writeAt(plotWidth/2-len(middle)/2, middle)
	}
	writeAt(plotWidth-len(end), end)
	return string(buf)
}

// ─── Utilities ────────────────────────────────────────────────────────────────

// formatFloat formats a float for axis labels: no unnecessary trailing zeros,
// at least one decimal place, compact notation for large numbers.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "."
	}
	abs := math.Abs(v)
	var s string
	switch {
	case abs == 0:
		return "0"
	case abs >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', 1, 64) + "M"
	case abs >= 1e3:
		return strconv.FormatFloat(v/1e3, 'f', 1, 64) + "K"
	case abs >= 100:
		s = strconv.FormatFloat(v, 'f', 1, 64)
	case abs >= 1:
		s = strconv.FormatFloat(v, 'f', 2, 64)
	default:
		s = strconv.FormatFloat(v, 'f', 4, 64)
	}
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// termWidth returns the terminal width from $COLUMNS, defaulting to 80.
func termWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 20 {
			return n
		}
	}
	return 80
}
