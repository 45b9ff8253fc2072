// Package controller implements the chart facade: one Chart owns the
// period calculator, the fetch cache, the assembler and the live updater of
// a single chart, and hands every finished result to a Sink.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/derickschaefer/kwchart/internal/assemble"
	"github.com/derickschaefer/kwchart/internal/chartdef"
	"github.com/derickschaefer/kwchart/internal/expr"
	"github.com/derickschaefer/kwchart/internal/fetchcache"
	"github.com/derickschaefer/kwchart/internal/live"
	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/period"
)

var (
	// ErrDestroyed is returned by every method after Destroy.
	ErrDestroyed = errors.New("chart destroyed")
	// ErrNotLive is returned by live operations outside the live period.
	ErrNotLive = errors.New("chart is not in live mode")
)

// Sink receives every result the chart produces.
type Sink interface {
	Render(res model.Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(res model.Result) error

func (f SinkFunc) Render(res model.Result) error { return f(res) }

type discard struct{}

func (discard) Render(model.Result) error { return nil }

// Options configures a Chart. Source is required.
type Options struct {
	Source   assemble.Source
	Sink     Sink
	Location *time.Location
	LiveCap  int
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Now replaces the wall clock in tests.
	Now func() time.Time
}

// Chart is safe for concurrent use.
type Chart struct {
	calc    *period.Calculator
	cache   *fetchcache.Cache
	asm     *assemble.Assembler
	sink    Sink
	metrics *metrics.Metrics
	log     *slog.Logger

	mu        sync.Mutex
	def       *chartdef.Definition
	progs     map[int]*expr.Program // calculation options, plain variable names
	mode      period.Mode
	ref       time.Time
	interval  period.Interval
	epoch     uint64
	bounds    period.Bounds
	series    []model.Series
	updater   *live.Updater
	latest    map[string]float64
	destroyed bool
}

// New validates def and returns a Chart on def's period and interval, or on
// the day period with its default interval. The reference instant is now.
func New(def *chartdef.Definition, opts Options) (*Chart, error) {
	if opts.Source == nil {
		return nil, errors.New("controller: a measurement source is required")
	}
	if opts.Sink == nil {
		opts.Sink = discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	calc := period.NewCalculator(opts.Location)
	if opts.Now != nil {
		calc.Now = opts.Now
	}
	cache := fetchcache.New(opts.Metrics, opts.Logger)

	c := &Chart{
		calc:    calc,
		cache:   cache,
		asm:     assemble.New(opts.Source, cache, calc.Location, opts.Metrics, opts.Logger),
		sink:    opts.Sink,
		metrics: opts.Metrics,
		log:     opts.Logger,
		updater: live.New(opts.LiveCap),
		latest:  make(map[string]float64),
		mode:    period.ModeDay,
		ref:     calc.Now(),
	}
	if err := c.setDefinition(def); err != nil {
		return nil, err
	}
	if def.Period != "" {
		m, err := period.ParseMode(def.Period)
		if err != nil {
			return nil, err
		}
		c.mode = m
	}
	c.interval = period.ResolveInterval(c.mode, period.Interval(def.Interval))
	return c, nil
}

// ─── State changes ────────────────────────────────────────────────────────────

// invalidate drops cached data and supersedes any load in flight. Callers
// hold c.mu.
func (c *Chart) invalidate() {
	c.epoch++
	c.asm.Cancel()
	c.cache.Clear()
	c.latest = make(map[string]float64)
}

// SwitchPeriod changes the period and reference instant. The interval is
// kept when the new period offers it, otherwise it falls back to the
// period's default.
func (c *Chart) SwitchPeriod(m period.Mode, ref time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.mode, c.ref = m, ref
	c.interval = period.ResolveInterval(m, c.interval)
	c.invalidate()
	return nil
}

// SwitchInterval changes the sampling interval. It must be on the current
// period's menu.
func (c *Chart) SwitchInterval(iv period.Interval) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if !period.Allowed(c.mode, iv) {
		return fmt.Errorf("interval %s is not offered for period %s (choose from %v)", iv, c.mode, period.Intervals(c.mode))
	}
	c.interval = iv
	c.invalidate()
	return nil
}

// SetDefinition replaces the chart definition after validating it.
func (c *Chart) SetDefinition(def *chartdef.Definition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	if err := c.setDefinition(def); err != nil {
		return err
	}
	c.invalidate()
	return nil
}

func (c *Chart) setDefinition(def *chartdef.Definition) error {
	if def == nil {
		return errors.New("controller: nil chart definition")
	}
	def = def.Clone()
	def.Normalize()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("chart %q: %w", def.Name, err)
	}
	progs := make(map[int]*expr.Program)
	for i, o := range def.Options {
		if o.SeriesType != model.SeriesCalculation {
			continue
		}
		p, err := expr.Compile(o.Expression)
		if err != nil {
			return fmt.Errorf("chart %q: %w", def.Name, err)
		}
		progs[i] = p
	}
	c.def, c.progs = def, progs
	return nil
}

// ─── Loading ──────────────────────────────────────────────────────────────────

// Load computes the bounds, assembles every series and renders the result.
// A load overtaken by a newer Load or by a state change returns nil without
// rendering. On failure the previous series are kept.
func (c *Chart) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	def, mode, iv, epoch := c.def, c.mode, c.interval, c.epoch
	b := c.calc.Bounds(mode, c.ref)
	c.mu.Unlock()

	start := time.Now()
	before := c.cache.Fetches()
	series, err := c.asm.LoadAll(ctx, assemble.Request{
		Options:  def.Options,
		Bounds:   b,
		Interval: iv,
		Live:     mode.IsLive(),
	})
	if errors.Is(err, assemble.ErrSuperseded) {
		return nil
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("load overtaken by state change", "chart", def.Name)
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Warn("chart load failed", "chart", def.Name, "period", mode.String(), "err", err)
		return fmt.Errorf("load chart %q: %w", def.Name, err)
	}
	c.bounds, c.series = b, series
	if mode.IsLive() {
		c.updater.Reset(series)
		for i, o := range def.Options {
			if o.SeriesType == model.SeriesThreshold {
				c.updater.SetThreshold(i, o.Value)
			}
		}
	}
	res := c.result("load", def, mode, iv, b, series, start)
	c.mu.Unlock()

	res.Stats.Fetches = c.cache.Fetches() - before
	return c.sink.Render(res)
}

func (c *Chart) result(command string, def *chartdef.Definition, mode period.Mode, iv period.Interval, b period.Bounds, series []model.Series, start time.Time) model.Result {
	out := make([]model.Series, len(series))
	for i, s := range series {
		out[i] = s.Clone()
	}
	return model.Result{
		Kind:        model.KindChart,
		GeneratedAt: time.Now().UTC(),
		Command:     command,
		Data: model.ChartData{
			Name:       def.Name,
			Period:     mode.String(),
			Interval:   string(iv),
			Start:      b.Start,
			End:        b.End,
			DisplayEnd: b.DisplayEnd,
			Series:     out,
		},
		Stats: model.ResultStats{
			DurationMs: time.Since(start).Milliseconds(),
			Items:      len(out),
		},
	}
}

// ─── Live ─────────────────────────────────────────────────────────────────────

// LiveTick fetches the latest value of every option, appends the values at
// now and renders the rolling window.
func (c *Chart) LiveTick(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if !c.mode.IsLive() {
		c.mu.Unlock()
		return ErrNotLive
	}
	def, iv, epoch := c.def, c.interval, c.epoch
	now := c.calc.Now()
	c.mu.Unlock()

	step, err := iv.Duration()
	if err != nil {
		return err
	}
	start := time.Now()
	b := period.Bounds{Start: now.Add(-2 * step).Unix(), End: now.Unix(), DisplayEnd: now.Unix()}
	vals, err := c.asm.Latest(ctx, assemble.Request{Options: def.Options, Bounds: b, Interval: iv})
	if err != nil {
		return fmt.Errorf("live tick %q: %w", def.Name, err)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	n := c.updater.AppendAll(now.UnixMilli(), vals)
	c.updater.EvictBefore(now.Add(-period.LiveWindow).UnixMilli())
	c.series = c.updater.Snapshot()
	res := c.result("live", def, c.mode, iv, c.calc.Bounds(c.mode, now), c.series, start)
	c.mu.Unlock()

	c.metrics.LivePoints(n)
	return c.sink.Render(res)
}

// Ingest applies one pushed reading (Unix seconds). Views of variable get
// the point directly. Calculations that reference it get a point once every
// variable they read has a latest value. Nothing is rendered when no series
// changed.
func (c *Chart) Ingest(variable string, ts int64, value float64) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if !c.mode.IsLive() {
		c.mu.Unlock()
		return ErrNotLive
	}
	c.latest[variable] = value
	ms := ts * 1000

	n := 0
	for i, o := range c.def.Options {
		switch o.SeriesType {
		case model.SeriesView:
			if o.Variable == variable && c.updater.Append(i, ms, value) {
				n++
			}
		case model.SeriesCalculation:
			p := c.progs[i]
			if !references(p, variable) || !haveAll(p, c.latest) {
				continue
			}
			if c.updater.Append(i, ms, p.EvalScope(c.latest)) {
				n++
			}
		}
	}
	if n == 0 {
		c.mu.Unlock()
		return nil
	}
	c.updater.EvictBefore(time.UnixMilli(ms).Add(-period.LiveWindow).UnixMilli())
	c.series = c.updater.Snapshot()
	res := c.result("ingest", c.def, c.mode, c.interval, c.calc.Bounds(c.mode, c.calc.Now()), c.series, time.Now())
	c.mu.Unlock()

	c.metrics.LivePoints(n)
	return c.sink.Render(res)
}

func references(p *expr.Program, variable string) bool {
	for _, v := range p.Vars() {
		if v == variable {
			return true
		}
	}
	return false
}

func haveAll(p *expr.Program, latest map[string]float64) bool {
	for _, v := range p.Vars() {
		if _, ok := latest[v]; !ok {
			return false
		}
	}
	return true
}

// ─── Lifecycle & accessors ────────────────────────────────────────────────────

// Destroy cancels work in flight and releases every resource. It is safe to
// call more than once.
func (c *Chart) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.asm.Cancel()
	c.cache.Close()
	c.series = nil
	c.updater = nil
	c.latest = nil
}

// Series returns copies of the last rendered series.
func (c *Chart) Series() []model.Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Series, len(c.series))
	for i, s := range c.series {
		out[i] = s.Clone()
	}
	return out
}

// Bounds returns the window of the last successful load.
func (c *Chart) Bounds() period.Bounds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bounds
}

// Mode returns the current period mode.
func (c *Chart) Mode() period.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Interval returns the current sampling interval.
func (c *Chart) Interval() period.Interval {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Definition returns a copy of the current definition.
func (c *Chart) Definition() *chartdef.Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def.Clone()
}

// Variables lists every variable the chart reads.
func (c *Chart) Variables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def.Variables()
}
