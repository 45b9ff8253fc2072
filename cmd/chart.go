package cmd

import (
	"os"

	"github.com/derickschaefer/kwchart/internal/chart"
	"github.com/derickschaefer/kwchart/internal/pipeline"
	"github.com/spf13/cobra"
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render chart series in the terminal (reads JSONL from stdin)",
	Long: `Chart commands read JSONL points from stdin and render to the terminal.

Pipeline examples:
  kwchart load energy.json --format jsonl | kwchart chart plot
  kwchart load energy.json --format jsonl | kwchart transform fill --policy linear | kwchart chart plot --title "PV"
  kwchart snapshot show <key> --format jsonl | kwchart chart bar`,
}

// ─── chart bar ───────────────────────────────────────────────────────────────

var chartBarWidth int

var chartBarCmd = &cobra.Command{
	Use:   "bar",
	Short: "Horizontal bar chart of the latest value of each series",
	Long: `Renders one labelled bar per series, sized by its latest non-missing
value. Negative values extend left from a zero baseline. Series with no
values are skipped.`,
	Example: `  kwchart load energy.json --period live --format jsonl | kwchart chart bar`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := pipeline.ReadSeries(os.Stdin)
		if err != nil {
			return err
		}
		return chart.Bar(cmd.OutOrStdout(), series, chart.BarOptions{Width: chartBarWidth})
	},
}

// ─── chart plot ──────────────────────────────────────────────────────────────

var (
	chartPlotWidth  int
	chartPlotHeight int
	chartPlotTitle  string
)

var chartPlotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Multi-series ASCII chart with labeled axes",
	Long: `Renders every series on one shared Y scale with tick labels and time
labels on the X axis. Each series gets its own marker; thresholds are drawn
as dashed lines.

Missing values appear as gaps in the curve, not zeros. Width auto-detects from
$COLUMNS (falls back to 80). Override with --width and --height.`,
	Example: `  kwchart load energy.json --format jsonl | kwchart chart plot
  kwchart load energy.json --format jsonl | kwchart chart plot --height 8
  kwchart load energy.json --period week --format jsonl | kwchart chart plot --width 100 --height 16`,
	RunE: func(cmd *cobra.Command, args []string) error {
		series, err := pipeline.ReadSeries(os.Stdin)
		if err != nil {
			return err
		}
		return chart.Plot(cmd.OutOrStdout(), series, chart.PlotOptions{
			Width:  chartPlotWidth,
			Height: chartPlotHeight,
			Title:  chartPlotTitle,
		})
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(chartCmd)
	chartCmd.AddCommand(chartBarCmd)
	chartCmd.AddCommand(chartPlotCmd)

	chartBarCmd.Flags().IntVar(&chartBarWidth, "width", 0,
		"total chart width in characters (default: auto-detect from $COLUMNS, fallback 80)")

	chartPlotCmd.Flags().IntVar(&chartPlotWidth, "width", 0,
		"chart width in characters (default: auto-detect from $COLUMNS, fallback 80)")
	chartPlotCmd.Flags().IntVar(&chartPlotHeight, "height", 12,
		"chart height in rows")
	chartPlotCmd.Flags().StringVar(&chartPlotTitle, "title", "",
		"chart title")
}
