package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/derickschaefer/kwchart/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveAddr      string
	serveAccessLog string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve chart definitions and assembled series over HTTP",
	Long: `Serve exposes the chart engine as a JSON API backed by the local
definition store:

  GET    /health
  GET    /bounds?period=day&ref=2024-03-15
  POST   /expressions/validate      {"expression": "...", "aggregations": [...]}
  GET    /charts
  POST   /charts                    a chart definition
  GET    /charts/{id}
  DELETE /charts/{id}
  GET    /charts/{id}/series?period=week&ref=...&interval=1d
  GET    /metrics                   Prometheus metrics

The server stops gracefully on Ctrl-C.`,
	Example: `  kwchart serve
  kwchart serve --addr :9090 --access-log -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.OpenStore()
		if err != nil {
			return err
		}

		var access io.Writer
		switch serveAccessLog {
		case "":
		case "-":
			access = cmd.OutOrStdout()
		default:
			f, err := os.OpenFile(serveAccessLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("opening access log: %w", err)
			}
			defer f.Close()
			access = f
		}

		srv, err := server.New(server.Config{
			Source:      deps.Client,
			Definitions: st,
			Location:    deps.Location,
			Metrics:     deps.Metrics,
			Logger:      deps.Logger,
			AccessLog:   access,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		if !globalFlags.Quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Serving on %s  (store: %s)\n", serveAddr, st.Path())
		}
		return srv.ListenAndServe(ctx, serveAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveAccessLog, "access-log", "", "write access logs to a file, or - for stdout")
}
