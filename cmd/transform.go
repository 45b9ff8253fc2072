package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/pipeline"
	"github.com/derickschaefer/kwchart/internal/render"
	"github.com/derickschaefer/kwchart/internal/transform"
	"github.com/derickschaefer/kwchart/internal/util"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Transform chart series (reads JSONL from stdin)",
	Long: `Transform operators read JSONL points from stdin and write to stdout.
Output is JSONL when piped and a table on a terminal, unless --format is set.

Pipeline example:
  kwchart load energy.json --format jsonl | kwchart transform fill --policy linear
  kwchart load energy.json --format jsonl | kwchart transform since --cutoff 2h | kwchart chart plot`,
}

// ─── fill ─────────────────────────────────────────────────────────────────────

var transformFillPolicy string

var transformFillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Fill missing values: locf (carry forward), linear, or null (keep gaps)",
	Example: `  kwchart load energy.json --format jsonl | kwchart transform fill
  kwchart load energy.json --format jsonl | kwchart transform fill --policy linear`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := pipeline.ReadSeries(os.Stdin)
		if err != nil {
			return err
		}
		for i := range series {
			if series[i].Points, err = transform.FillMissing(series[i].Points, transformFillPolicy); err != nil {
				return err
			}
		}
		return writeTransformOutput(cmd, "transform fill", series)
	},
}

// ─── since ────────────────────────────────────────────────────────────────────

var transformSinceCutoff string

var transformSinceCmd = &cobra.Command{
	Use:   "since",
	Short: "Keep points at or after a cutoff",
	Long: `Since drops every point before --cutoff. The cutoff is either an instant
(now, Unix seconds, RFC 3339, YYYY-MM-DD[THH:MM]) or a duration such as 2h or
1d, counted back from the latest timestamp in the input.`,
	Example: `  kwchart load energy.json --format jsonl | kwchart transform since --cutoff 2h
  kwchart load energy.json --format jsonl | kwchart transform since --cutoff 2024-03-15T12:00`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := pipeline.ReadSeries(os.Stdin)
		if err != nil {
			return err
		}
		cutoff, err := resolveCutoff(transformSinceCutoff, series)
		if err != nil {
			return err
		}
		for i := range series {
			series[i].Points = transform.Since(series[i].Points, cutoff)
		}
		return writeTransformOutput(cmd, "transform since", series)
	},
}

// ─── align ────────────────────────────────────────────────────────────────────

var transformAlignCmd = &cobra.Command{
	Use:   "align",
	Short: "Put every series on the union of all timestamps, padding with null",
	Example: `  cat a.jsonl b.jsonl | kwchart transform align --format csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := pipeline.ReadSeries(os.Stdin)
		if err != nil {
			return err
		}
		pts := make([][]model.Point, len(series))
		for i, s := range series {
			pts[i] = s.Points
		}
		for i, p := range transform.Align(pts...) {
			series[i].Points = p
		}
		return writeTransformOutput(cmd, "transform align", series)
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(transformCmd)
	transformCmd.AddCommand(transformFillCmd)
	transformCmd.AddCommand(transformSinceCmd)
	transformCmd.AddCommand(transformAlignCmd)

	transformFillCmd.Flags().StringVar(&transformFillPolicy, "policy", model.MissLOCF,
		"missing-value policy: "+strings.Join(model.MissingPolicies, "|"))
	transformSinceCmd.Flags().StringVar(&transformSinceCutoff, "cutoff", "",
		"instant or look-back duration (required)")
	transformSinceCmd.MarkFlagRequired("cutoff")
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// resolveCutoff returns the cutoff in Unix milliseconds. A duration counts
// back from the latest timestamp in series.
func resolveCutoff(s string, series []model.Series) (int64, error) {
	if d, err := str2duration.ParseDuration(s); err == nil {
		var latest int64
		for _, se := range series {
			if n := len(se.Points); n > 0 && se.Points[n-1].T > latest {
				latest = se.Points[n-1].T
			}
		}
		return latest - d.Milliseconds(), nil
	}
	t, err := util.ParseInstant(s, time.UTC, time.Now())
	if err != nil {
		return 0, fmt.Errorf("invalid --cutoff: %w", err)
	}
	return t.UnixMilli(), nil
}

// writeTransformOutput writes JSONL when piped and a table on a terminal,
// unless --format says otherwise.
func writeTransformOutput(cmd *cobra.Command, command string, series []model.Series) error {
	format := resolveFormat("")
	if globalFlags.Format == "" {
		if pipeline.IsTTY() {
			format = render.FormatTable
		} else {
			format = render.FormatJSONL
		}
	}
	result := &model.Result{
		Kind:        model.KindChart,
		GeneratedAt: time.Now(),
		Command:     command,
		Data:        model.ChartData{Name: strings.TrimPrefix(command, "transform "), Series: series},
		Stats:       model.ResultStats{Items: len(series)},
	}
	return emit(cmd.OutOrStdout(), result, format, nil)
}
