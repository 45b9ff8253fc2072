package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/derickschaefer/kwchart/internal/store"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and manage the local database",
	Long: `Commands for inspecting and clearing the local bbolt database.

The database holds imported chart definitions ('kwchart def import') and
saved chart snapshots ('kwchart load --save'). Entries persist until you
explicitly clear them.`,
}

// ─── store stats ──────────────────────────────────────────────────────────────

var storeStatsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show row counts and sizes for each bucket",
	Example: `  kwchart store stats`,
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

		stats, err := st.Stats()
		if err != nil {
			return fmt.Errorf("reading store stats: %w", err)
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n\n", st.Path())
		printSimpleTable(cmd.OutOrStdout(), []string{"BUCKET", "ROWS", "SIZE"}, func(add func(...string)) {
			for _, s := range stats {
				add(s.Name, fmt.Sprintf("%d", s.Count), humanBytes(s.Bytes))
			}
		})
		return nil
	},
}

// ─── store clear ──────────────────────────────────────────────────────────────

var (
	storeClearAll    bool
	storeClearBucket string
)

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete entries from the local database",
	Long: `Delete entries from one or all buckets.

bbolt does not shrink the database file after clearing; freed pages are
reused on the next write.`,
	Example: `  kwchart store clear --all
  kwchart store clear --bucket snapshots`,
	RunE: func(cmd *cobra.Command, args []string) error {
		buckets := strings.Join(store.AllBuckets, ", ")
		if !storeClearAll && storeClearBucket == "" {
			return fmt.Errorf("specify --all or --bucket <name>\n\nBuckets: %s", buckets)
		}
		if storeClearBucket != "" && !lo.Contains(store.AllBuckets, storeClearBucket) {
			return fmt.Errorf("unknown bucket %q (use one of: %s)", storeClearBucket, buckets)
		}

		deps, err := buildLocalDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.OpenStore()
		if err != nil {
			return err
		}

		if storeClearAll {
			if err := st.ClearAll(); err != nil {
				return fmt.Errorf("clearing all buckets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Cleared all buckets")
			return nil
		}
		if err := st.ClearBucket(storeClearBucket); err != nil {
			return fmt.Errorf("clearing bucket %q: %w", storeClearBucket, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared bucket %q\n", storeClearBucket)
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeClearCmd)

	storeClearCmd.Flags().BoolVar(&storeClearAll, "all", false, "clear all buckets")
	storeClearCmd.Flags().StringVar(&storeClearBucket, "bucket", "", "clear one bucket: definitions|snapshots")
}
