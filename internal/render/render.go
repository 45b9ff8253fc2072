// Package render converts Result values into human-readable or machine-parseable
// output. Each format is a separate function; the top-level Render dispatcher
// selects based on the format string.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/pipeline"
	"github.com/derickschaefer/kwchart/internal/transform"
	"github.com/derickschaefer/kwchart/internal/util"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

// Format constants matching --format flag values.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatMD    = "md"
	FormatXLSX  = "xlsx"
)

// Formats lists every accepted --format value.
var Formats = []string{FormatTable, FormatJSON, FormatJSONL, FormatCSV, FormatTSV, FormatMD, FormatXLSX}

// Render writes result to w in the specified format. Timestamps are shown in
// loc; nil means UTC.
func Render(w io.Writer, result *model.Result, format string, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatJSONL:
		return renderJSONL(w, result)
	case FormatCSV:
		return renderDelimited(w, result, ',', loc)
	case FormatTSV:
		return renderDelimited(w, result, '\t', loc)
	case FormatMD:
		return renderMarkdown(w, result, loc)
	case FormatXLSX:
		return renderXLSX(w, result, loc)
	default:
		return renderTable(w, result, loc)
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink renders every Result it receives to W. It satisfies controller.Sink.
type Sink struct {
	W        io.Writer
	Format   string
	Location *time.Location
	Verbose  bool
}

// Render writes res and, in verbose mode, the stats footer.
func (s *Sink) Render(res model.Result) error {
	w := s.W
	if w == nil {
		w = os.Stdout
	}
	if err := Render(w, &res, s.Format, s.Location); err != nil {
		return err
	}
	PrintFooter(os.Stderr, &res, s.Verbose)
	return nil
}

// ─── Payload helpers ──────────────────────────────────────────────────────────

func chartData(result *model.Result) (*model.ChartData, bool) {
	switch d := result.Data.(type) {
	case model.ChartData:
		return &d, true
	case *model.ChartData:
		return d, d != nil
	}
	return nil, false
}

func boundsData(result *model.Result) (*model.BoundsData, bool) {
	switch d := result.Data.(type) {
	case model.BoundsData:
		return &d, true
	case *model.BoundsData:
		return d, d != nil
	}
	return nil, false
}

func tableData(result *model.Result) (*model.Table, bool) {
	switch d := result.Data.(type) {
	case model.Table:
		return &d, true
	case *model.Table:
		return d, d != nil
	}
	return nil, false
}

// grid flattens a result into a header row plus string rows. Chart series
// are laid out wide: one row per timestamp, one column per series.
func grid(result *model.Result, loc *time.Location) ([]string, [][]string, bool) {
	if cd, ok := chartData(result); ok {
		headers := []string{"TIME"}
		pts := make([][]model.Point, len(cd.Series))
		for i, s := range cd.Series {
			headers = append(headers, s.Label)
			pts[i] = s.Points
		}
		aligned := transform.Align(pts...)
		var rows [][]string
		if len(aligned) > 0 {
			for j := range aligned[0] {
				row := []string{util.FormatMillis(aligned[0][j].T, loc)}
				for i := range aligned {
					row = append(row, util.FormatValue(aligned[i][j].V))
				}
				rows = append(rows, row)
			}
		}
		return headers, rows, true
	}
	if bd, ok := boundsData(result); ok {
		at := func(sec int64) string { return time.Unix(sec, 0).In(loc).Format(time.RFC3339) }
		rows := [][]string{
			{"Period", bd.Period},
			{"Timezone", bd.Timezone},
			{"Start", at(bd.Start)},
			{"End", at(bd.End)},
			{"Display End", at(bd.DisplayEnd)},
			{"Empty", strconv.FormatBool(bd.Empty)},
			{"Intervals", strings.Join(bd.Intervals, ", ")},
			{"Default Interval", bd.Default},
		}
		return []string{"FIELD", "VALUE"}, rows, true
	}
	if td, ok := tableData(result); ok {
		return td.Headers, td.Rows, true
	}
	return nil, nil, false
}

// ─── JSON ─────────────────────────────────────────────────────────────────────

func renderJSON(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// ─── JSONL ────────────────────────────────────────────────────────────────────

func renderJSONL(w io.Writer, result *model.Result) error {
	if cd, ok := chartData(result); ok {
		return pipeline.WriteJSONL(w, cd.Series)
	}
	return json.NewEncoder(w).Encode(result.Data)
}

// ─── Table ────────────────────────────────────────────────────────────────────

func renderTable(w io.Writer, result *model.Result, loc *time.Location) error {
	headers, rows, ok := grid(result, loc)
	if !ok {
		return renderJSON(w, result)
	}
	if cd, ok := chartData(result); ok {
		fmt.Fprintf(w, "%s  [%s, %s]  %s → %s\n", cd.Name, cd.Period, cd.Interval,
			time.Unix(cd.Start, 0).In(loc).Format("2006-01-02 15:04"),
			time.Unix(cd.DisplayEnd, 0).In(loc).Format("2006-01-02 15:04"))
	}
	if td, ok := tableData(result); ok && td.Title != "" {
		fmt.Fprintln(w, td.Title)
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetAutoFormatHeaders(false)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	if _, isChart := chartData(result); isChart {
		align := make([]int, len(headers))
		for i := range align {
			align[i] = tablewriter.ALIGN_RIGHT
		}
		align[0] = tablewriter.ALIGN_LEFT
		tw.SetColumnAlignment(align)
	}
	tw.SetAutoWrapText(false)
	tw.AppendBulk(rows)
	tw.Render()
	return nil
}

// ─── CSV / TSV ────────────────────────────────────────────────────────────────

func renderDelimited(w io.Writer, result *model.Result, sep rune, loc *time.Location) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep

	headers, rows, ok := grid(result, loc)
	if !ok {
		b, _ := json.Marshal(result.Data)
		_ = cw.Write([]string{string(b)})
	} else {
		lower := make([]string, len(headers))
		for i, h := range headers {
			lower[i] = strings.ToLower(h)
		}
		_ = cw.Write(lower)
		_ = cw.WriteAll(rows)
	}
	cw.Flush()
	return cw.Error()
}

// ─── Markdown ─────────────────────────────────────────────────────────────────

func renderMarkdown(w io.Writer, result *model.Result, loc *time.Location) error {
	headers, rows, ok := grid(result, loc)
	if !ok {
		return renderJSON(w, result)
	}
	fmt.Fprintln(w, mdRow(headers))
	fmt.Fprintf(w, "|%s\n", strings.Repeat("----|", len(headers)))
	for _, r := range rows {
		fmt.Fprintln(w, mdRow(r))
	}
	return nil
}

// ─── XLSX ─────────────────────────────────────────────────────────────────────

// renderXLSX writes one sheet. Chart values are written as numbers, with
// missing values left as empty cells.
func renderXLSX(w io.Writer, result *model.Result, loc *time.Location) error {
	headers, rows, ok := grid(result, loc)
	if !ok {
		return fmt.Errorf("xlsx: unsupported result kind %q", result.Kind)
	}
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Sheet1"
	if cd, ok := chartData(result); ok && cd.Name != "" {
		sheet = sheetName(cd.Name)
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
	}

	for c, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
	}
	_, isChart := chartData(result)
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			var val interface{} = v
			if isChart && c > 0 {
				if v == "." {
					continue
				}
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					val = n
				}
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return fmt.Errorf("xlsx: %w", err)
			}
		}
	}
	return f.Write(w)
}

// sheetName trims a chart name to Excel's 31-character sheet limit and
// replaces characters sheets may not contain.
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name)
	if len([]rune(name)) > 31 {
		name = string([]rune(name)[:31])
	}
	return name
}

// ─── Warnings / Stats Footer ─────────────────────────────────────────────────

// PrintFooter writes warnings and stats to w when verbose mode is on.
func PrintFooter(w io.Writer, result *model.Result, verbose bool) {
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠  %s\n", warn)
	}
	if verbose {
		fmt.Fprintf(w, "\n[%s • %d items • %dms • %d fetches]\n",
			result.GeneratedAt.Format(time.RFC3339),
			result.Stats.Items,
			result.Stats.DurationMs,
			result.Stats.Fetches,
		)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

func mdRow(cells []string) string {
	return "| " + strings.Join(lo.Map(cells, func(s string, _ int) string { return mdEscape(s) }), " | ") + " |"
}
