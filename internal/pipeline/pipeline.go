// Package pipeline reads and writes chart series via stdin/stdout in JSONL
// format, the canonical pipe format. One line is one point:
//
//	{"series":"pv_power","ts":1710460800000,"value":1.5}
//
// A null value is a missing point.
package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/derickschaefer/kwchart/internal/model"
)

type row struct {
	Series string   `json:"series"`
	Type   string   `json:"type,omitempty"`
	TS     int64    `json:"ts"`
	Value  *float64 `json:"value"`
}

// ReadSeries reads JSONL records from r and groups them into series in
// order of first appearance. Blank lines and lines starting with // are
// skipped.
func ReadSeries(r io.Reader) ([]model.Series, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var out []model.Series
	index := make(map[string]int)

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		var rec row
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}
		if rec.Series == "" {
			return nil, fmt.Errorf("line %d: missing series label", lineNum)
		}

		i, ok := index[rec.Series]
		if !ok {
			typ := model.SeriesType(rec.Type)
			if typ == "" {
				typ = model.SeriesView
			}
			i = len(out)
			index[rec.Series] = i
			out = append(out, model.Series{Label: rec.Series, Type: typ})
		}
		v := math.NaN()
		if rec.Value != nil {
			v = *rec.Value
		}
		out[i].Points = append(out[i].Points, model.Point{T: rec.TS, V: v})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no points read from input (is stdin empty?)")
	}
	return out, nil
}

// WriteJSONL writes every point of every series as JSONL to w.
func WriteJSONL(w io.Writer, series []model.Series) error {
	enc := json.NewEncoder(w)
	for _, s := range series {
		for _, p := range s.Points {
			rec := row{Series: s.Label, Type: string(s.Type), TS: p.T}
			if !p.IsMissing() && !math.IsInf(p.V, 0) {
				v := p.V
				rec.Value = &v
			}
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsTTY returns true if stdout is a terminal (not a pipe).
func IsTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
