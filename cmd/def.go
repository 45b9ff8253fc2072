package cmd

import (
	"fmt"
	"strings"

	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var defCmd = &cobra.Command{
	Use:   "def",
	Short: "Manage chart definitions in the local database",
	Long: `Chart definitions are JSON documents listing a chart's options:

  {"name": "energy", "period": "day", "interval": "15m", "options": [
    {"seriesType": "view", "variable": "pv_power", "aggregation": "avg"},
    {"seriesType": "calculation", "label": "net", "expression": "pv_power - load"},
    {"seriesType": "threshold", "label": "limit", "value": 5000}
  ]}

The legacy flat form {"name", "mapping": {label: variable}, "aggregation",
"missing", "thresholds"} is accepted and converted on import.

Imported definitions can be referenced by ID or name in 'load' and 'live'.`,
}

// ─── def import ───────────────────────────────────────────────────────────────

var defImportCmd = &cobra.Command{
	Use:   "import <file...>",
	Short: "Validate and store one or more definition files",
	Example: `  kwchart def import energy.json
  kwchart def import charts/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openLocalStore()
		if err != nil {
			return err
		}
		defer closeFn()

		for _, path := range args {
			def, err := chartdef.LoadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if err := def.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			id, err := st.PutDefinition(def)
			if err != nil {
				return fmt.Errorf("%s: storing definition: %w", path, err)
			}
			if !globalFlags.Quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %s as %s  (%s)\n", path, id, def.Name)
			}
		}
		return nil
	},
}

// ─── def list ─────────────────────────────────────────────────────────────────

var defListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List stored definitions",
	Example: `  kwchart def list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openLocalStore()
		if err != nil {
			return err
		}
		defer closeFn()

		defs, err := st.ListDefinitions()
		if err != nil {
			return fmt.Errorf("listing definitions: %w", err)
		}
		if len(defs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No definitions stored.")
			fmt.Fprintln(cmd.OutOrStdout(), "  Use: kwchart def import <file>")
			return nil
		}
		printSimpleTable(cmd.OutOrStdout(), []string{"ID", "NAME", "PERIOD", "INTERVAL", "OPTIONS", "VARIABLES"}, func(add func(...string)) {
			for _, d := range defs {
				add(d.ID, d.Name, lo.Ternary(d.Period == "", "day", d.Period), d.Interval,
					optionSummary(d), strings.Join(d.Variables(), ","))
			}
		})
		return nil
	},
}

// ─── def show ─────────────────────────────────────────────────────────────────

var defShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Print a stored definition as JSON",
	Example: `  kwchart def show energy
  kwchart def show energy --out energy.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openLocalStore()
		if err != nil {
			return err
		}
		defer closeFn()

		def, err := st.FindDefinition(args[0])
		if err != nil {
			return err
		}
		data, err := def.JSON()
		if err != nil {
			return err
		}
		out, closeOut, err := outputWriter(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return finishWrite(err, closeOut)
	},
}

// ─── def rm ───────────────────────────────────────────────────────────────────

var defRmCmd = &cobra.Command{
	Use:     "rm <id|name>",
	Aliases: []string{"delete"},
	Short:   "Delete a stored definition",
	Example: `  kwchart def rm energy`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openLocalStore()
		if err != nil {
			return err
		}
		defer closeFn()

		def, err := st.FindDefinition(args[0])
		if err != nil {
			return err
		}
		if err := st.DeleteDefinition(def.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted definition %s  (%s)\n", def.ID, def.Name)
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(defCmd)
	defCmd.AddCommand(defImportCmd)
	defCmd.AddCommand(defListCmd)
	defCmd.AddCommand(defShowCmd)
	defCmd.AddCommand(defRmCmd)
}

// optionSummary counts options by series type, e.g. "2 view, 1 calc".
func optionSummary(d *chartdef.Definition) string {
	counts := lo.CountValuesBy(d.Options, func(o model.ChartOption) model.SeriesType { return o.SeriesType })
	var parts []string
	for _, t := range []struct {
		typ   model.SeriesType
		short string
	}{
		{model.SeriesView, "view"},
		{model.SeriesCalculation, "calc"},
		{model.SeriesThreshold, "threshold"},
	} {
		if n := counts[t.typ]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, t.short))
		}
	}
	return strings.Join(parts, ", ")
}
