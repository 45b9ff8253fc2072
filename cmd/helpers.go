package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/derickschaefer/kwchart/internal/app"
	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/render"
	"github.com/derickschaefer/kwchart/internal/util"
	"github.com/olekukonko/tablewriter"
)

// resolveFormat returns the effective format string, falling back to "table".
func resolveFormat(cfgFormat string) string {
	if globalFlags.Format != "" {
		return globalFlags.Format
	}
	if cfgFormat != "" {
		return cfgFormat
	}
	return render.FormatTable
}

// outputWriter returns the --out file when set, otherwise def. The returned
// close function is always safe to call.
func outputWriter(def io.Writer) (io.Writer, func() error, error) {
	if globalFlags.Out == "" {
		return def, func() error { return nil }, nil
	}
	f, err := os.Create(globalFlags.Out)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// finishWrite closes an outputWriter target and reports the first of the
// write error and the close error.
func finishWrite(err error, closeFn func() error) error {
	if cerr := closeFn(); err == nil && cerr != nil {
		return fmt.Errorf("closing output: %w", cerr)
	}
	return err
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadDefinition resolves ref as a definition file when one exists at that
// path, otherwise as a stored definition ID or name.
func loadDefinition(deps *app.Deps, ref string) (*chartdef.Definition, error) {
	if _, err := os.Stat(ref); err == nil {
		return chartdef.LoadFile(ref)
	}
	if strings.HasSuffix(ref, ".json") {
		return nil, fmt.Errorf("definition file %s not found", ref)
	}
	st, err := deps.OpenStore()
	if err != nil {
		return nil, err
	}
	return st.FindDefinition(ref)
}

// parseRef parses the --ref flag in loc; empty means now.
func parseRef(s string, loc *time.Location) (time.Time, error) {
	return util.ParseInstant(s, loc, time.Now().In(loc))
}

// printSimpleTable renders a simple table with headers using tablewriter.
// The add callback is called with row values as variadic strings.
func printSimpleTable(w io.Writer, headers []string, fill func(add func(...string))) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)

	fill(func(cols ...string) {
		tw.Append(cols)
	})
	tw.Render()
}

// printKVTableTo renders a two-column key/value listing with aligned keys.
func printKVTableTo(w io.Writer, rows [][]string) {
	maxKey := 0
	for _, r := range rows {
		if len(r[0]) > maxKey {
			maxKey = len(r[0])
		}
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s%s  %s\n", r[0], strings.Repeat(" ", maxKey-len(r[0])), r[1])
	}
}

// tableResult wraps a model.Table in a Result envelope.
func tableResult(command string, t model.Table) *model.Result {
	return &model.Result{
		Kind:        model.KindTable,
		GeneratedAt: time.Now(),
		Command:     command,
		Data:        t,
		Stats:       model.ResultStats{Items: len(t.Rows)},
	}
}

// emit renders result in the resolved format to --out or w.
func emit(w io.Writer, result *model.Result, format string, loc *time.Location) error {
	out, closeFn, err := outputWriter(w)
	if err != nil {
		return err
	}
	return finishWrite(render.Render(out, result, format, loc), closeFn)
}

func humanBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
