package cmd

import (
	"fmt"
	"os"

	"github.com/derickschaefer/kwchart/internal/analyze"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/pipeline"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var analyzeSeries string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze chart series (reads JSONL from stdin)",
	Long: `Analyze operators read JSONL points from stdin and print results.

Examples:
  kwchart load energy.json --format jsonl | kwchart analyze summary
  kwchart load energy.json --format jsonl | kwchart transform fill --policy linear | kwchart analyze trend`,
}

// ─── analyze summary ─────────────────────────────────────────────────────────

var analyzeSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Descriptive statistics per series: count, missing, mean, std, min, median, max",
	Example: `  kwchart load energy.json --format jsonl | kwchart analyze summary
  kwchart load energy.json --format jsonl | kwchart analyze summary --format csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := readAnalyzed()
		if err != nil {
			return err
		}
		t := analyze.SummaryTable(analyze.SummarizeAll(series))
		return emit(cmd.OutOrStdout(), tableResult("analyze summary", t), resolveFormat(""), nil)
	},
}

// ─── analyze trend ────────────────────────────────────────────────────────────

var analyzeTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Fit a linear trend per series: slope per hour, intercept, R², direction",
	Example: `  kwchart load energy.json --period week --format jsonl | kwchart analyze trend
  kwchart load energy.json --format jsonl | kwchart analyze trend --series pv_power`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := readAnalyzed()
		if err != nil {
			return err
		}

		t := model.Table{
			Title:   "trend",
			Headers: []string{"SERIES", "DIRECTION", "SLOPE/H", "INTERCEPT", "R2", "POINTS"},
		}
		for _, s := range series {
			if s.Type == model.SeriesThreshold {
				continue
			}
			tr, err := analyze.Trend(s)
			if err != nil {
				if !globalFlags.Quiet {
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠  %v\n", err)
				}
				continue
			}
			t.Rows = append(t.Rows, []string{
				tr.Label,
				tr.Direction,
				fmt.Sprintf("%.6f", tr.SlopePerHour),
				fmt.Sprintf("%.4f", tr.Intercept),
				fmt.Sprintf("%.4f", tr.R2),
				fmt.Sprintf("%d", tr.FittedPoints),
			})
		}
		if len(t.Rows) == 0 {
			return fmt.Errorf("no series with at least 2 non-missing points")
		}
		return emit(cmd.OutOrStdout(), tableResult("analyze trend", t), resolveFormat(""), nil)
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.AddCommand(analyzeSummaryCmd)
	analyzeCmd.AddCommand(analyzeTrendCmd)

	analyzeCmd.PersistentFlags().StringVar(&analyzeSeries, "series", "", "analyze only the series with this label")
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// readAnalyzed reads stdin and applies --series.
func readAnalyzed() ([]model.Series, error) {
	series, err := pipeline.ReadSeries(os.Stdin)
	if err != nil {
		return nil, err
	}
	return selectSeries(series, analyzeSeries)
}

// selectSeries keeps the series labelled label; empty keeps all.
func selectSeries(series []model.Series, label string) ([]model.Series, error) {
	if label == "" {
		return series, nil
	}
	picked := lo.Filter(series, func(s model.Series, _ int) bool { return s.Label == label })
	if len(picked) == 0 {
		labels := lo.Map(series, func(s model.Series, _ int) string { return s.Label })
		return nil, fmt.Errorf("no series %q in input (have: %v)", label, labels)
	}
	return picked, nil
}
