package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/derickschaefer/kwchart/internal/app"
	"github.com/derickschaefer/kwchart/internal/chart"
	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/controller"
	"github.com/derickschaefer/kwchart/internal/feed"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/derickschaefer/kwchart/internal/render"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
)

var (
	liveMQTT     string
	liveWatch    bool
	livePlot     bool
	liveBars     bool
	liveDuration string
	livePoll     string
)

var liveCmd = &cobra.Command{
	Use:   "live <definition>",
	Short: "Follow a chart over the rolling live window",
	Long: `Live loads the last 15 minutes of every series and then keeps the
window rolling. By default the latest values are polled from the API every
live_poll (config) or --poll. With --mqtt, readings pushed to
<mqtt_prefix>/<variable> are applied as they arrive instead.

Every update is rendered in the chosen format, or as a plot or bar chart.
Stop with Ctrl-C or --duration.`,
	Example: `  kwchart live energy.json
  kwchart live energy.json --bars --poll 5s
  kwchart live energy --mqtt tcp://broker:1883 --plot
  kwchart live energy.json --watch --duration 10m`,
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

		var sink controller.Sink
		out := cmd.OutOrStdout()
		switch {
		case liveBars || livePlot:
			sink = &chart.Sink{W: out, Bars: liveBars, Options: chart.PlotOptions{Location: deps.Location}}
		default:
			sink = &render.Sink{W: out, Format: resolveFormat(deps.Config.Format), Location: deps.Location, Verbose: deps.Config.Verbose}
		}

		c, err := deps.NewChart(def, sink)
		if err != nil {
			return err
		}
		defer c.Destroy()
		if err := c.SwitchPeriod(period.ModeLive, time.Now()); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		if liveDuration != "" {
			d, err := str2duration.ParseDuration(liveDuration)
			if err != nil {
				return fmt.Errorf("invalid --duration %q: %w", liveDuration, err)
			}
			var stop context.CancelFunc
			ctx, stop = context.WithTimeout(ctx, d)
			defer stop()
		}

		if err := c.Load(ctx); err != nil {
			return err
		}

		reloaded := make(chan struct{}, 1)
		if liveWatch {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("--watch needs a definition file, got %q", args[0])
			}
			go watchDefinition(ctx, c, args[0], reloaded, deps.Logger)
		}

		broker := liveMQTT
		if broker == "" {
			broker = deps.Config.MQTTBroker
		}
		if broker != "" {
			return followFeed(ctx, deps, c, broker, reloaded)
		}

		interval := deps.Config.LivePoll
		if livePoll != "" {
			if interval, err = str2duration.ParseDuration(livePoll); err != nil {
				return fmt.Errorf("invalid --poll %q: %w", livePoll, err)
			}
		}
		return pollLive(ctx, c, interval, deps.Logger)
	},
}

// pollLive calls LiveTick every interval until ctx ends. Failed ticks are
// retried with exponential backoff, capped at the poll interval.
func pollLive(ctx context.Context, c *controller.Chart, interval time.Duration, log *slog.Logger) error {
	b := &backoff.Backoff{Min: time.Second, Max: interval, Factor: 2, Jitter: true}
	wait := interval
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		err := c.LiveTick(ctx)
		switch {
		case err == nil:
			b.Reset()
			wait = interval
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, controller.ErrDestroyed), errors.Is(err, controller.ErrNotLive):
			return err
		default:
			wait = b.Duration()
			log.Warn("live tick failed", "err", err, "retry_in", wait)
		}
	}
}

// topicSubscriber is the part of feed.Subscriber followFeed needs.
type topicSubscriber interface {
	Subscribe(variables []string, h feed.Handler) error
	Unsubscribe(variables []string) error
}

// followFeed applies MQTT readings to c until ctx ends. Each signal on
// reloaded brings the subscriptions in line with the chart's variables.
func followFeed(ctx context.Context, deps *app.Deps, c *controller.Chart, broker string, reloaded <-chan struct{}) error {
	sub, err := feed.Dial(broker, "kwchart-"+uuid.NewString()[:8], deps.Config.MQTTPrefix, deps.Config.Timeout, deps.Logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	handler := func(r feed.Reading) {
		if err := c.Ingest(r.Variable, r.TS, r.Value); err != nil {
			deps.Logger.Warn("ingest failed", "variable", r.Variable, "err", err)
		}
	}
	subscribed, err := resubscribe(sub, nil, c.Variables(), handler)
	if err != nil {
		return err
	}
	deps.Logger.Info("following telemetry", "broker", broker, "variables", len(subscribed))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reloaded:
			if subscribed, err = resubscribe(sub, subscribed, c.Variables(), handler); err != nil {
				deps.Logger.Warn("resubscribe failed", "err", err)
			}
		}
	}
}

// resubscribe subscribes variables in next but not in current and drops
// those only in current. It returns the set now subscribed.
func resubscribe(sub topicSubscriber, current, next []string, h feed.Handler) ([]string, error) {
	added := lo.Without(next, current...)
	removed := lo.Without(current, next...)
	if err := sub.Subscribe(added, h); err != nil {
		return current, err
	}
	if err := sub.Unsubscribe(removed); err != nil {
		return lo.Union(current, next), err
	}
	return next, nil
}

// watchDefinition reloads the chart whenever the definition file is
// rewritten and signals reloaded without blocking. Editors that replace
// the file are handled by watching its directory.
func watchDefinition(ctx context.Context, c *controller.Chart, path string, reloaded chan<- struct{}, log *slog.Logger) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("definition watch unavailable", "err", err)
		return
	}
	defer w.Close()

	abs, _ := filepath.Abs(path)
	if err := w.Add(filepath.Dir(abs)); err != nil {
		log.Warn("definition watch unavailable", "path", path, "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("definition watch", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if evAbs, _ := filepath.Abs(ev.Name); evAbs != abs || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			def, err := chartdef.LoadFile(path)
			if err != nil {
				log.Warn("definition reload skipped", "path", path, "err", err)
				continue
			}
			if err := c.SetDefinition(def); err != nil {
				log.Warn("definition reload rejected", "path", path, "err", err)
				continue
			}
			log.Info("definition reloaded", "name", def.Name)
			select {
			case reloaded <- struct{}{}:
			default:
			}
			if err := c.Load(ctx); err != nil && ctx.Err() == nil {
				log.Warn("reload failed", "err", err)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(liveCmd)
	f := liveCmd.Flags()
	f.StringVar(&liveMQTT, "mqtt", "", "MQTT broker URL for pushed readings (default: config mqtt_broker)")
	f.StringVar(&livePoll, "poll", "", "poll interval when no broker is set (default: config live_poll)")
	f.BoolVar(&liveWatch, "watch", false, "reload when the definition file changes")
	f.BoolVar(&livePlot, "plot", false, "render each update as an ASCII plot")
	f.BoolVar(&liveBars, "bars", false, "render each update as bars of the latest values")
	f.StringVar(&liveDuration, "duration", "", "stop after this long (e.g. 10m, 1h)")
}
