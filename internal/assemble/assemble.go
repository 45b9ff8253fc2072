// Package assemble builds the output series of a chart: it fetches every
// referenced (variable, aggregation) pair through the fetch cache in
// parallel, evaluates calculation expressions index by index, aligns all
// series on one timestamp axis and converts the axis to milliseconds.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/derickschaefer/kwchart/internal/expr"
	"github.com/derickschaefer/kwchart/internal/fetchcache"
	"github.com/derickschaefer/kwchart/internal/measure"
	"github.com/derickschaefer/kwchart/internal/metrics"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/period"
	"github.com/derickschaefer/kwchart/internal/transform"
)

// ErrSuperseded is returned by LoadAll when a newer LoadAll started before
// this one finished. It is not a failure; callers drop the result.
var ErrSuperseded = errors.New("load superseded")

// Source is the measurement API as the assembler sees it.
type Source interface {
	Chart(ctx context.Context, variable string, q measure.Query) ([]model.Point, error)
}

// Request describes one load cycle.
type Request struct {
	Options  []model.ChartOption
	Bounds   period.Bounds
	Interval period.Interval
	// Live forces agg=last and miss=locf on every fetch.
	Live bool
}

// Assembler runs load cycles for one chart. It is safe for concurrent use,
// but only the most recent LoadAll can succeed.
type Assembler struct {
	source   Source
	cache    *fetchcache.Cache
	location *time.Location
	metrics  *metrics.Metrics
	log      *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// New creates an Assembler. loc is used for the tz query parameter.
func New(src Source, cache *fetchcache.Cache, loc *time.Location, m *metrics.Metrics, log *slog.Logger) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assembler{source: src, cache: cache, location: loc, metrics: m, log: log}
}

// fetchSpec is one unique measurement request within a cycle.
type fetchSpec struct {
	variable string
	agg      string
	miss     string
}

func (f fetchSpec) key() string { return model.CacheKey(f.variable, f.agg) }

// plan is the resolved form of one option.
type plan struct {
	opt   model.ChartOption
	key   string       // view
	prog  *expr.Program // calculation, over annotated names
	names []string
	aggs  []string
}

// LoadAll returns one series per option, in option order. Every series
// shares the same millisecond timestamps. The first fetch error cancels the
// rest of the cycle and is returned wrapped; no partial result is returned.
func (a *Assembler) LoadAll(ctx context.Context, req Request) ([]model.Series, error) {
	ctx, gen, done := a.begin(ctx)
	defer done()

	out, err := a.load(ctx, req)
	if !a.current(gen) {
		a.metrics.Load(metrics.LoadSuperseded)
		a.log.Debug("load superseded", "generation", gen)
		return nil, ErrSuperseded
	}
	if err != nil {
		a.metrics.Load(metrics.LoadError)
		return nil, err
	}
	a.metrics.Load(metrics.LoadOK)
	return out, nil
}

// Cancel aborts the cycle in flight, if any. Its LoadAll returns
// ErrSuperseded.
func (a *Assembler) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Assembler) begin(ctx context.Context) (context.Context, uint64, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	a.gen++
	cctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return cctx, a.gen, cancel
}

func (a *Assembler) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

func (a *Assembler) load(ctx context.Context, req Request) ([]model.Series, error) {
	plans, specs, err := a.resolve(req)
	if err != nil {
		return nil, err
	}
	if req.Bounds.Empty() {
		return emptySeries(req.Options), nil
	}

	fetched, err := a.fetchAll(ctx, req, specs)
	if err != nil {
		return nil, err
	}
	return build(plans, fetched, req), nil
}

// resolve turns options into plans and the deduplicated fetch list.
func (a *Assembler) resolve(req Request) ([]plan, []fetchSpec, error) {
	plans := make([]plan, len(req.Options))
	seen := make(map[string]bool)
	var specs []fetchSpec
	add := func(f fetchSpec) {
		if !seen[f.key()] {
			seen[f.key()] = true
			specs = append(specs, f)
		}
	}

	for i, opt := range req.Options {
		p := plan{opt: opt}
		switch opt.SeriesType {
		case model.SeriesView:
			f := fetchSpec{variable: opt.Variable, agg: opt.Aggregation, miss: opt.Missing}
			if f.agg == "" {
				f.agg = model.DefaultAggregation
			}
			if f.miss == "" {
				f.miss = model.DefaultMissing
			}
			if req.Live {
				f.agg, f.miss = model.AggLast, model.MissLOCF
			}
			p.key = f.key()
			add(f)

		case model.SeriesCalculation:
			src, err := expr.Compile(opt.Expression)
			if err != nil {
				return nil, nil, fmt.Errorf("calculation %q: %w", opt.Expression, err)
			}
			names := src.Vars()
			aggs := make([]string, len(names))
			for j := range names {
				switch {
				case req.Live:
					aggs[j] = model.AggLast
				case j < len(opt.Aggregations) && opt.Aggregations[j] != "":
					aggs[j] = opt.Aggregations[j]
				default:
					return nil, nil, fmt.Errorf("calculation %q: %d variable(s) but %d aggregation(s)",
						opt.Expression, len(names), len(opt.Aggregations))
				}
			}
			annotated, err := src.Annotate(aggs)
			if err != nil {
				return nil, nil, err
			}
			prog, err := expr.Compile(annotated)
			if err != nil {
				return nil, nil, fmt.Errorf("calculation %q: %w", opt.Expression, err)
			}
			p.prog, p.names, p.aggs = prog, names, aggs
			for j, name := range names {
				add(fetchSpec{variable: name, agg: aggs[j], miss: model.MissLOCF})
			}

		case model.SeriesThreshold:
			// Drawn on the shared axis once it is known.

		default:
			return nil, nil, fmt.Errorf("option %d: unknown series type %q", i, opt.SeriesType)
		}
		plans[i] = p
	}
	return plans, specs, nil
}

func (a *Assembler) fetchAll(ctx context.Context, req Request, specs []fetchSpec) (map[string][]model.Point, error) {
	var mu sync.Mutex
	fetched := make(map[string][]model.Point, len(specs))
	tz := measure.ZoneAbbrev(a.location, req.Bounds.Start)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range specs {
		f := f
		g.Go(func() error {
			q := measure.Query{
				Start:    req.Bounds.Start,
				End:      req.Bounds.End,
				Agg:      f.agg,
				Interval: string(req.Interval),
				Miss:     f.miss,
				TZ:       tz,
			}
			pts, err := a.cache.Get(gctx, f.variable, f.agg, func(fctx context.Context) ([]model.Point, error) {
				return a.source.Chart(fctx, f.variable, q)
			})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", f.key(), err)
			}
			mu.Lock()
			fetched[f.key()] = pts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}

// build evaluates calculations, aligns every data series on one axis,
// draws constants on it and converts to milliseconds.
func build(plans []plan, fetched map[string][]model.Point, req Request) []model.Series {
	raw := make([][]model.Point, len(plans))
	var dataIdx []int
	for i, p := range plans {
		switch p.opt.SeriesType {
		case model.SeriesView:
			raw[i] = fetched[p.key]
			dataIdx = append(dataIdx, i)
		case model.SeriesCalculation:
			if len(p.names) == 0 {
				continue
			}
			raw[i] = evaluate(p, fetched)
			dataIdx = append(dataIdx, i)
		}
	}

	var axis []int64
	if len(dataIdx) > 0 {
		in := make([][]model.Point, len(dataIdx))
		for j, i := range dataIdx {
			in[j] = raw[i]
		}
		aligned := transform.Align(in...)
		for j, i := range dataIdx {
			raw[i] = aligned[j]
		}
		axis = model.Series{Points: aligned[0]}.Timestamps()
	} else {
		axis = boundsAxis(req.Bounds, req.Interval)
	}

	out := make([]model.Series, len(plans))
	for i, p := range plans {
		pts := raw[i]
		switch {
		case p.opt.SeriesType == model.SeriesThreshold:
			pts = transform.OnAxis(axis, p.opt.Value)
		case p.opt.SeriesType == model.SeriesCalculation && len(p.names) == 0:
			pts = transform.OnAxis(axis, p.prog.EvalScope(nil))
		}
		out[i] = model.Series{
			Label:  p.opt.DisplayLabel(),
			Type:   p.opt.SeriesType,
			Points: transform.ToMillis(pts),
		}
	}
	return out
}

// evaluate zips a calculation's inputs by timestamp and evaluates the
// expression at every index.
func evaluate(p plan, fetched map[string][]model.Point) []model.Point {
	inputs := make([][]model.Point, len(p.names))
	for j, name := range p.names {
		inputs[j] = fetched[model.CacheKey(name, p.aggs[j])]
	}
	aligned := transform.Align(inputs...)
	byKey := make(map[string][]model.Point, len(p.names))
	for j, name := range p.names {
		byKey[model.CacheKey(name, p.aggs[j])] = aligned[j]
	}

	axis := aligned[0]
	out := make([]model.Point, len(axis))
	for i := range axis {
		scope := expr.BuildScope(i, p.names, p.aggs, byKey)
		out[i] = model.Point{T: axis[i].T, V: p.prog.EvalScope(scope)}
	}
	return out
}

// boundsAxis steps from Start to End by the interval. It is only used when
// a chart has no data series to borrow timestamps from.
func boundsAxis(b period.Bounds, iv period.Interval) []int64 {
	d, err := iv.Duration()
	step := int64(d / time.Second)
	if err != nil || step <= 0 || b.Empty() {
		return nil
	}
	var axis []int64
	for t := b.Start; t <= b.End; t += step {
		axis = append(axis, t)
	}
	return axis
}

func emptySeries(opts []model.ChartOption) []model.Series {
	out := make([]model.Series, len(opts))
	for i, o := range opts {
		out[i] = model.Series{Label: o.DisplayLabel(), Type: o.SeriesType, Points: []model.Point{}}
	}
	return out
}
