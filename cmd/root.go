// Package cmd implements the kwchart CLI command tree.
// This file defines the root command and registers all global persistent flags.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/derickschaefer/kwchart/internal/app"
	"github.com/derickschaefer/kwchart/internal/config"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

// globalFlags holds the parsed values of all persistent (global) flags.
// Commands read from this struct via the deps they receive.
var globalFlags struct {
	Token   string
	BaseURL string
	TZ      string
	Format  string
	Out     string
	Timeout string
	Rate    float64
	DB      string
	Quiet   bool
	Verbose bool
	Debug   bool
}

// rootCmd is the base command. Running `kwchart` with no subcommand
// prints help.
var rootCmd = &cobra.Command{
	Use:   "kwchart",
	Short: "kwchart: time-series chart data engine for energy measurements",
	Long: `kwchart turns chart definitions into ready-to-render series of
[timestamp, value] pairs fetched from a measurement REST API.

A chart definition lists views (one variable + aggregation), calculations
(arithmetic over several variables) and thresholds (static reference lines).
kwchart computes the period window, fetches each distinct variable once,
evaluates calculations and aligns everything on one timestamp axis.

Quick start:
  kwchart config init                          # create a config.json
  kwchart bounds day --ref 2024-03-15          # inspect a period window
  kwchart load energy.json --period day        # assemble a chart
  kwchart live energy.json --mqtt tcp://host:1883`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stderr)
	},
}

// Execute is the entry point called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging installs the process-wide slog handler. Level is Warn by
// default, Info with --verbose and Debug with --debug. --quiet keeps errors
// only.
func setupLogging(w io.Writer) {
	level := slog.LevelWarn
	switch {
	case globalFlags.Debug:
		level = slog.LevelDebug
	case globalFlags.Verbose:
		level = slog.LevelInfo
	case globalFlags.Quiet:
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// resolveConfig loads config and applies CLI flag overrides.
func resolveConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.Token)
	if err != nil {
		return nil, err
	}

	cfg.Quiet = globalFlags.Quiet
	cfg.Verbose = globalFlags.Verbose
	cfg.Debug = globalFlags.Debug

	if globalFlags.BaseURL != "" {
		cfg.BaseURL = globalFlags.BaseURL
	}
	if globalFlags.TZ != "" {
		cfg.Timezone = globalFlags.TZ
	}
	if globalFlags.Format != "" {
		cfg.Format = globalFlags.Format
	}
	if globalFlags.DB != "" {
		cfg.DBPath = globalFlags.DB
	}
	if globalFlags.Timeout != "" {
		d, err := str2duration.ParseDuration(globalFlags.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout %q: %w", globalFlags.Timeout, err)
		}
		cfg.Timeout = d
	}
	if globalFlags.Rate > 0 {
		cfg.Rate = globalFlags.Rate
	}
	return cfg, nil
}

// buildDeps resolves config and constructs the dependency container.
// Called at the start of each command's RunE that talks to the API.
func buildDeps() (*app.Deps, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(cfg, slog.Default())
}

// buildLocalDeps is buildDeps without requiring a reachable API, for
// commands that only touch the local store or the clock.
func buildLocalDeps() (*app.Deps, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, slog.Default())
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&globalFlags.Token, "token", "",
		"API bearer token (overrides env KWCHART_TOKEN and config.json)")
	pf.StringVar(&globalFlags.BaseURL, "base-url", "",
		"measurement API base URL (overrides env KWCHART_BASE_URL)")
	pf.StringVar(&globalFlags.TZ, "tz", "",
		"IANA timezone for period boundaries (default: UTC)")
	pf.StringVar(&globalFlags.Format, "format", "",
		"output format: table|json|jsonl|csv|tsv|md|xlsx (default: table)")
	pf.StringVar(&globalFlags.Out, "out", "",
		"write output to file instead of stdout")
	pf.StringVar(&globalFlags.Timeout, "timeout", "",
		"HTTP request timeout (e.g. 30s, 2m)")
	pf.Float64Var(&globalFlags.Rate, "rate", 0,
		"max API requests per second (default: 5.0)")
	pf.StringVar(&globalFlags.DB, "db", "",
		"path of the local bbolt database (default: ~/.kwchart/kwchart.db)")
	pf.BoolVar(&globalFlags.Quiet, "quiet", false,
		"suppress all non-error output")
	pf.BoolVar(&globalFlags.Verbose, "verbose", false,
		"show fetch/timing stats after output")
	pf.BoolVar(&globalFlags.Debug, "debug", false,
		"log HTTP requests and responses (token redacted)")
}
