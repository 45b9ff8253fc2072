package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/derickschaefer/kwchart/internal/analyze"
	"github.com/derickschaefer/kwchart/internal/chart"
	"github.com/derickschaefer/kwchart/internal/controller"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/derickschaefer/kwchart/internal/render"
	"github.com/derickschaefer/kwchart/internal/store"
	"github.com/spf13/cobra"
)

var (
	loadPeriod   string
	loadRef      string
	loadInterval string
	loadSave     bool
	loadPlot     bool
	loadSummary  bool
)

var loadCmd = &cobra.Command{
	Use:   "load <definition>",
	Short: "Assemble every series of a chart for one period",
	Long: `Load computes the period window, fetches each distinct (variable,
aggregation) pair once, evaluates calculations and aligns all series on one
timestamp axis. Timestamps in the output are Unix milliseconds; missing
values are null (JSON) or "." (tables).

<definition> is a JSON definition file or the ID or name of a definition
imported with 'kwchart def import'.`,
	Example: `  kwchart load energy.json
  kwchart load energy.json --period week --ref 2024-03-11 --interval 1d
  kwchart load energy --period last:24h --format csv --out energy.csv
  kwchart load energy --period month --format xlsx --out march.xlsx
  kwchart load energy --plot
  kwchart load energy --summary --save`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		def, err := loadDefinition(deps, args[0])
		if err != nil {
			return err
		}

		var result *model.Result
		c, err := deps.NewChart(def, controller.SinkFunc(func(res model.Result) error {
			result = &res
			return nil
		}))
		if err != nil {
			return err
		}
		defer c.Destroy()

		ref, err := parseRef(loadRef, deps.Location)
		if err != nil {
			return err
		}
		m := c.Mode()
		if loadPeriod != "" {
			if m, err = period.ParseMode(loadPeriod); err != nil {
				return err
			}
		}
		if err := c.SwitchPeriod(m, ref); err != nil {
			return err
		}
		if loadInterval != "" {
			if err := c.SwitchInterval(period.Interval(loadInterval)); err != nil {
				return err
			}
		}

		ctx, cancel := signalContext()
		defer cancel()
		if err := c.Load(ctx); err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("load of %q was interrupted", def.Name)
		}

		if loadSave {
			if err := saveSnapshot(deps.OpenStore, result, c.Bounds()); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if loadPlot {
			if err := (&chart.Sink{W: out, Options: chart.PlotOptions{Location: deps.Location}}).Render(*result); err != nil {
				return err
			}
		} else if err := emit(out, result, resolveFormat(deps.Config.Format), deps.Location); err != nil {
			return err
		}

		if loadSummary {
			cd := result.Data.(model.ChartData)
			sums := tableResult("load summary", analyze.SummaryTable(analyze.SummarizeAll(cd.Series)))
			if err := render.Render(out, sums, render.FormatTable, deps.Location); err != nil {
				return err
			}
		}
		if !deps.Config.Quiet {
			render.PrintFooter(cmd.ErrOrStderr(), result, deps.Config.Verbose)
		}
		return nil
	},
}

// saveSnapshot persists an assembled chart under its definition, period,
// window start and interval. A later save of the same window replaces it.
func saveSnapshot(open func() (*store.Store, error), result *model.Result, b period.Bounds) error {
	st, err := open()
	if err != nil {
		return err
	}
	cd, ok := result.Data.(model.ChartData)
	if !ok {
		return fmt.Errorf("save: result carries no chart data")
	}
	snap := store.Snapshot{
		Key:     store.SnapshotKey(cd.Name, cd.Period, b.Start, cd.Interval),
		SavedAt: time.Now().UTC(),
		Ref:     b.Start,
		Chart:   cd,
	}
	if err := st.PutSnapshot(snap); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	if !globalFlags.Quiet {
		fmt.Fprintf(os.Stderr, "✓ Saved snapshot %s\n", snap.Key)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(loadCmd)
	f := loadCmd.Flags()
	f.StringVar(&loadPeriod, "period", "", "period mode (default: the definition's period, else day)")
	f.StringVar(&loadRef, "ref", "", "reference instant (default: now)")
	f.StringVar(&loadInterval, "interval", "", "sampling interval; must be on the period's menu")
	f.BoolVar(&loadSave, "save", false, "save the assembled chart to the local store")
	f.BoolVar(&loadPlot, "plot", false, "render an ASCII plot instead of a table")
	f.BoolVar(&loadSummary, "summary", false, "append per-series statistics")
	loadCmd.RegisterFlagCompletionFunc("period", completePeriods)
}
