package cmd

import (
	"fmt"
	"time"

	"github.com/derickschaefer/kwchart/internal/chart"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/store"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Browse and replay saved chart results",
	Long: `Snapshots are assembled charts saved with 'kwchart load --save'. They
render offline, with no API access, in any output format.

Keys have the form chart:<name>|period:<p>|ref:<unix>|int:<interval>.

  kwchart snapshot list
  kwchart snapshot show "chart:energy|period:day|ref:1710460800|int:15m"`,
}

// ─── snapshot list ────────────────────────────────────────────────────────────

var snapshotListCmd = &cobra.Command{
	Use:   "list [chart-name]",
	Short: "List saved snapshots, optionally of one chart",
	Example: `  kwchart snapshot list
  kwchart snapshot list energy`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openLocalStore()
		if err != nil {
			return err
		}
		defer closeFn()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		keys, err := st.ListSnapshotKeys(name)
		if err != nil {
			return fmt.Errorf("listing snapshots: %w", err)
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No snapshots saved.")
			fmt.Fprintln(cmd.OutOrStdout(), "  Use: kwchart load <definition> --save")
			return nil
		}

		printSimpleTable(cmd.OutOrStdout(), []string{"KEY", "WINDOW START", "SERIES", "SAVED"}, func(add func(...string)) {
			for _, k := range keys {
				snap, ok, err := st.GetSnapshot(k)
				if err != nil || !ok {
					add(k, "?", "?", "?")
					continue
				}
				add(k,
					time.Unix(snap.Ref, 0).UTC().Format("2006-01-02 15:04"),
					fmt.Sprintf("%d", len(snap.Chart.Series)),
					snap.SavedAt.Format("2006-01-02 15:04"))
			}
		})
		return nil
	},
}

// ─── snapshot show ────────────────────────────────────────────────────────────

var snapshotShowPlot bool

var snapshotShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Render a saved snapshot",
	Example: `  kwchart snapshot show "chart:energy|period:day|ref:1710460800|int:15m"
  kwchart snapshot show "chart:energy|period:day|ref:1710460800|int:15m" --format xlsx --out day.xlsx
  kwchart snapshot show "chart:energy|period:day|ref:1710460800|int:15m" --plot`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildLocalDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.OpenStore()
		if err != nil {
			return err
		}

		snap, err := getSnapshot(st, args[0])
		if err != nil {
			return err
		}
		result := model.Result{
			Kind:        model.KindChart,
			GeneratedAt: snap.SavedAt,
			Command:     "snapshot show",
			Data:        snap.Chart,
			Stats:       model.ResultStats{Items: len(snap.Chart.Series)},
		}
		if snapshotShowPlot {
			return (&chart.Sink{W: cmd.OutOrStdout(), Options: chart.PlotOptions{Location: deps.Location}}).Render(result)
		}
		return emit(cmd.OutOrStdout(), &result, resolveFormat(deps.Config.Format), deps.Location)
	},
}

// ─── snapshot rm ──────────────────────────────────────────────────────────────

var snapshotRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Delete a saved snapshot",
	Example: `  kwchart snapshot rm "chart:energy|period:day|ref:1710460800|int:15m"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeFn, err := openLocalStore()
		if err != nil {
			return err
		}
		defer closeFn()

		if _, err := getSnapshot(st, args[0]); err != nil {
			return err
		}
		if err := st.DeleteSnapshot(args[0]); err != nil {
			return fmt.Errorf("deleting snapshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted snapshot %s\n", args[0])
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotRmCmd)

	snapshotShowCmd.Flags().BoolVar(&snapshotShowPlot, "plot", false, "render an ASCII plot instead of a table")
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func getSnapshot(st *store.Store, key string) (store.Snapshot, error) {
	snap, ok, err := st.GetSnapshot(key)
	if err != nil {
		return snap, fmt.Errorf("reading snapshot: %w", err)
	}
	if !ok {
		return snap, fmt.Errorf("snapshot %q: %w", key, store.ErrNotFound)
	}
	return snap, nil
}

// openLocalStore opens the store without requiring API settings. The
// returned function closes it.
func openLocalStore() (*store.Store, func() error, error) {
	deps, err := buildLocalDeps()
	if err != nil {
		return nil, nil, err
	}
	st, err := deps.OpenStore()
	if err != nil {
		return nil, nil, err
	}
	return st, deps.Close, nil
}
