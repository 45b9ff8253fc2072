package cmd

import (
	"time"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/spf13/cobra"
)

var boundsRef string

var boundsCmd = &cobra.Command{
	Use:   "bounds <period>",
	Short: "Print the time window and interval menu of a period",
	Long: `Compute the [start, end] window a chart would query for a period mode and
reference instant, together with the sampling intervals the period offers.

Periods: live, hour, day, week, month, year, forecast6h, forecast24h and
last:<N><unit> with unit one of h, d, w, mo, y (e.g. last:7d).

Absolute periods are clamped to now; the display end stays at the natural
end of the unit.`,
	Example: `  kwchart bounds day --ref 2024-03-15
  kwchart bounds last:7d
  kwchart bounds month --tz Europe/Berlin --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := period.ParseMode(args[0])
		if err != nil {
			return err
		}
		deps, err := buildLocalDeps()
		if err != nil {
			return err
		}
		ref, err := parseRef(boundsRef, deps.Location)
		if err != nil {
			return err
		}

		calc := period.NewCalculator(deps.Location)
		result := &model.Result{
			Kind:        model.KindBounds,
			GeneratedAt: time.Now(),
			Command:     "bounds " + m.String(),
			Data:        calc.Describe(m, ref),
		}
		return emit(cmd.OutOrStdout(), result, resolveFormat(deps.Config.Format), deps.Location)
	},
}

func init() {
	rootCmd.AddCommand(boundsCmd)
	boundsCmd.Flags().StringVar(&boundsRef, "ref", "",
		"reference instant: now, Unix seconds, RFC 3339 or YYYY-MM-DD[THH:MM] (default: now)")
}
