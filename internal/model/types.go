// Package model defines the canonical data types used throughout kwchart.
// These types are the single source of truth for chart options, points,
// series and the result envelope that every command returns.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ─── Points & Series ─────────────────────────────────────────────────────────

// Point is a single [timestamp, value] pair.
// T is Unix seconds when it comes from the measurement API and Unix
// milliseconds once it has been through the assembler.
// V is NaN when the value is missing.
type Point struct {
	T int64
	V float64
}

// IsMissing returns true if the point value is NaN (missing data).
func (p Point) IsMissing() bool {
	return math.IsNaN(p.V)
}

// MarshalJSON encodes a point as [t, v] with null for missing values,
// since encoding/json cannot represent NaN.
func (p Point) MarshalJSON() ([]byte, error) {
	if math.IsNaN(p.V) || math.IsInf(p.V, 0) {
		return []byte(fmt.Sprintf("[%d,null]", p.T)), nil
	}
	v, err := json.Marshal(p.V)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("[%d,%s]", p.T, v)), nil
}

// UnmarshalJSON decodes [t, v|null]. A null value becomes NaN.
func (p *Point) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("point: expected [t, v], got %d elements", len(raw))
	}
	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("point timestamp: %w", err)
	}
	p.T = int64(ts)
	if bytes.Equal(bytes.TrimSpace(raw[1]), []byte("null")) {
		p.V = math.NaN()
		return nil
	}
	if err := json.Unmarshal(raw[1], &p.V); err != nil {
		return fmt.Errorf("point value: %w", err)
	}
	return nil
}

// Series is one rendered chart line. Points are time-ascending and, within
// one chart, index-aligned with every other series.
type Series struct {
	Label  string     `json:"label"`
	Type   SeriesType `json:"series_type"`
	Points []Point    `json:"data"`
}

// Timestamps returns the T of every point.
func (s Series) Timestamps() []int64 {
	out := make([]int64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.T
	}
	return out
}

// Clone returns a deep copy of s.
func (s Series) Clone() Series {
	pts := make([]Point, len(s.Points))
	copy(pts, s.Points)
	return Series{Label: s.Label, Type: s.Type, Points: pts}
}

// ─── Chart Options ───────────────────────────────────────────────────────────

// SeriesType tags a ChartOption.
type SeriesType string

const (
	SeriesView        SeriesType = "view"
	SeriesCalculation SeriesType = "calculation"
	SeriesThreshold   SeriesType = "threshold"
)

// Aggregation names understood by the measurement API.
const (
	AggAvg   = "avg"
	AggSum   = "sum"
	AggMin   = "min"
	AggMax   = "max"
	AggFirst = "first"
	AggLast  = "last"
	AggCount = "count"
	AggDiff  = "diff"
)

// Aggregations lists every accepted aggregation name.
var Aggregations = []string{AggAvg, AggSum, AggMin, AggMax, AggFirst, AggLast, AggCount, AggDiff}

// Missing-value policies understood by the measurement API.
const (
	MissLOCF   = "locf"   // last observation carried forward
	MissLinear = "linear" // linear interpolation between neighbours
	MissNull   = "null"   // leave gaps as null
)

// MissingPolicies lists every accepted missing-value policy.
var MissingPolicies = []string{MissLOCF, MissLinear, MissNull}

// Default option values.
const (
	DefaultAggregation = AggAvg
	DefaultMissing     = MissLOCF
)

// ChartOption is one logical series definition.
//
//   - view:        Variable + Aggregation + Missing
//   - calculation: Expression + Aggregations (one per referenced variable,
//     in first-occurrence order)
//   - threshold:   Value (a static reference line)
type ChartOption struct {
	SeriesType   SeriesType `json:"seriesType"`
	Label        string     `json:"label,omitempty"`
	Variable     string     `json:"variable,omitempty"`
	Aggregation  string     `json:"aggregation,omitempty"`
	Missing      string     `json:"missing,omitempty"`
	Expression   string     `json:"expression,omitempty"`
	Aggregations []string   `json:"aggregations,omitempty"`
	Value        float64    `json:"value,omitempty"`
}

// DisplayLabel returns Label, falling back to the variable or expression.
func (o ChartOption) DisplayLabel() string {
	switch {
	case o.Label != "":
		return o.Label
	case o.SeriesType == SeriesCalculation:
		return o.Expression
	case o.SeriesType == SeriesThreshold:
		return fmt.Sprintf("threshold %g", o.Value)
	default:
		return o.Variable
	}
}

// CacheKey builds the "{variable}_{aggregation}" key used by the fetch cache.
func CacheKey(variable, aggregation string) string {
	return variable + "_" + aggregation
}

// ─── Result Envelope ─────────────────────────────────────────────────────────

// ResultStats carries performance and cache metadata for a command result.
type ResultStats struct {
	Fetches    int   `json:"fetches"`
	DurationMs int64 `json:"duration_ms"`
	Items      int   `json:"items"`
}

// Result is the uniform envelope handed to renderers.
// The Data field holds the typed payload; Kind identifies what is in it.
type Result struct {
	Kind        string      `json:"kind"`
	GeneratedAt time.Time   `json:"generated_at"`
	Command     string      `json:"command"`
	Data        interface{} `json:"data"`
	Warnings    []string    `json:"warnings,omitempty"`
	Stats       ResultStats `json:"stats"`
}

// Kind constants for Result.Kind.
const (
	KindChart  = "chart"
	KindBounds = "bounds"
	KindTable  = "table"
)

// ChartData is the payload of a KindChart result.
type ChartData struct {
	Name       string   `json:"name"`
	Period     string   `json:"period"`
	Interval   string   `json:"interval"`
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	DisplayEnd int64    `json:"display_end"`
	Series     []Series `json:"series"`
}

// BoundsData is the payload of a KindBounds result. Times are Unix seconds.
type BoundsData struct {
	Period     string   `json:"period"`
	Timezone   string   `json:"timezone"`
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	DisplayEnd int64    `json:"display_end"`
	Empty      bool     `json:"empty"`
	Intervals  []string `json:"intervals"`
	Default    string   `json:"default_interval"`
}

// Table is the payload of a KindTable result: a header row plus string rows.
type Table struct {
	Title   string     `json:"title,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}
