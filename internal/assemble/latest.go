package assemble

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/derickschaefer/kwchart/internal/measure"
	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/transform"
)

// Latest returns the most recent value of each option over req.Bounds, in
// option order, for one live tick. Fetches bypass the cycle cache but are
// still coalesced within the call. Thresholds and options with no data in
// the window yield NaN. Latest does not take part in supersession.
func (a *Assembler) Latest(ctx context.Context, req Request) ([]float64, error) {
	req.Live = true
	plans, specs, err := a.resolve(req)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	last := make(map[string]float64, len(specs))
	tz := measure.ZoneAbbrev(a.location, req.Bounds.Start)

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range specs {
		f := f
		g.Go(func() error {
			pts, err := a.source.Chart(gctx, f.variable, measure.Query{
				Start:    req.Bounds.Start,
				End:      req.Bounds.End,
				Agg:      f.agg,
				Interval: string(req.Interval),
				Miss:     f.miss,
				TZ:       tz,
			})
			if err != nil {
				return fmt.Errorf("latest %s: %w", f.variable, err)
			}
			v := math.NaN()
			if p, ok := transform.Last(pts); ok {
				v = p.V
			}
			mu.Lock()
			last[f.key()] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]float64, len(plans))
	for i, p := range plans {
		switch p.opt.SeriesType {
		case model.SeriesView:
			out[i] = last[p.key]
		case model.SeriesCalculation:
			out[i] = p.prog.EvalScope(last)
		default:
			out[i] = math.NaN()
		}
	}
	return out, nil
}
