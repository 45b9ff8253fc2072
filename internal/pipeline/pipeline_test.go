package pipeline_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/pipeline"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func isNaN(v float64) bool { return math.IsNaN(v) }

// jsonl joins lines with newlines and appends a trailing newline.
func jsonl(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// ─── ReadSeries ───────────────────────────────────────────────────────────────

func TestReadGroupsBySeriesInFirstSeenOrder(t *testing.T) {
	input := jsonl(
		`{"series":"pv_power","ts":0,"value":1.5}`,
		`{"series":"load","ts":0,"value":2}`,
		`{"series":"pv_power","ts":60000,"value":1.75}`,
	)
	got, err := pipeline.ReadSeries(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 series, got %d", len(got))
	}
	if got[0].Label != "pv_power" || got[1].Label != "load" {
		t.Errorf("order: got %q, %q", got[0].Label, got[1].Label)
	}
	if len(got[0].Points) != 2 || got[0].Points[1].T != 60000 || got[0].Points[1].V != 1.75 {
		t.Errorf("pv_power points: %v", got[0].Points)
	}
	if got[0].Type != model.SeriesView {
		t.Errorf("type should default to view, got %q", got[0].Type)
	}
}

func TestReadNullValueBecomesNaN(t *testing.T) {
	got, err := pipeline.ReadSeries(strings.NewReader(`{"series":"a","ts":0,"value":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if !isNaN(got[0].Points[0].V) {
		t.Errorf("expected NaN, got %g", got[0].Points[0].V)
	}
}

func TestReadKeepsSeriesType(t *testing.T) {
	got, err := pipeline.ReadSeries(strings.NewReader(`{"series":"limit","type":"threshold","ts":0,"value":5}`))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Type != model.SeriesThreshold {
		t.Errorf("expected threshold, got %q", got[0].Type)
	}
}

func TestReadSkipsBlankAndCommentLines(t *testing.T) {
	input := jsonl(
		"",
		"// exported from kwchart",
		`{"series":"a","ts":0,"value":1}`,
		"   ",
	)
	got, err := pipeline.ReadSeries(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0].Points) != 1 {
		t.Errorf("unexpected result: %v", got)
	}
}

func TestReadErrors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"blank only":     "\n\n  \n",
		"invalid json":   `{"series":`,
		"missing series": `{"ts":0,"value":1}`,
	}
	for name, input := range cases {
		if _, err := pipeline.ReadSeries(strings.NewReader(input)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestReadInvalidJSONReportsLine(t *testing.T) {
	input := jsonl(`{"series":"a","ts":0,"value":1}`, `not json`)
	_, err := pipeline.ReadSeries(strings.NewReader(input))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected line 2 in error, got %v", err)
	}
}

// ─── WriteJSONL ───────────────────────────────────────────────────────────────

func TestWriteNaNAsNull(t *testing.T) {
	var buf bytes.Buffer
	series := []model.Series{{
		Label:  "grid",
		Type:   model.SeriesCalculation,
		Points: []model.Point{{T: 0, V: 7}, {T: 60000, V: math.NaN()}},
	}}
	if err := pipeline.WriteJSONL(&buf, series); err != nil {
		t.Fatal(err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 2 {
		t.Fatalf("expected one line per point, got %d", len(lines))
	}
	if lines[0] != `{"series":"grid","type":"calculation","ts":0,"value":7}` {
		t.Errorf("line 0: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"value":null`) {
		t.Errorf("line 1 should carry null: %s", lines[1])
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := pipeline.WriteJSONL(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestRoundTrip(t *testing.T) {
	in := []model.Series{
		{Label: "a", Type: model.SeriesView, Points: []model.Point{{T: 0, V: 1}, {T: 60000, V: math.NaN()}}},
		{Label: "b", Type: model.SeriesThreshold, Points: []model.Point{{T: 0, V: 5}, {T: 60000, V: 5}}},
	}
	var buf bytes.Buffer
	if err := pipeline.WriteJSONL(&buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := pipeline.ReadSeries(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1].Type != model.SeriesThreshold {
		t.Fatalf("unexpected round trip: %v", out)
	}
	if out[0].Points[0].V != 1 || !isNaN(out[0].Points[1].V) {
		t.Errorf("series a: %v", out[0].Points)
	}
}
