// Package live keeps the rolling in-memory series of a chart in live mode.
// New points are pushed to the back of each series and the oldest are
// dropped from the front once a series holds more than Cap points.
package live

import (
	"sync"

	"github.com/gammazero/deque"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/transform"
)

// DefaultCap is the point budget per series.
const DefaultCap = 1100

type track struct {
	label string
	typ   model.SeriesType
	value float64 // threshold only
	pts   *deque.Deque[model.Point]
}

// Updater is safe for concurrent use. Timestamps are Unix milliseconds.
type Updater struct {
	mu     sync.Mutex
	cap    int
	tracks []*track
}

// New returns an empty Updater. A capacity of zero or less uses DefaultCap.
func New(capacity int) *Updater {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Updater{cap: capacity}
}

// Cap returns the per-series point budget.
func (u *Updater) Cap() int { return u.cap }

// Reset replaces all series with copies of series, trimmed to Cap.
func (u *Updater) Reset(series []model.Series) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.tracks = make([]*track, len(series))
	for i, s := range series {
		t := &track{label: s.Label, typ: s.Type, pts: deque.New[model.Point](0, 64)}
		if s.Type == model.SeriesThreshold && len(s.Points) > 0 {
			t.value = s.Points[0].V
		}
		for _, p := range s.Points {
			t.pts.PushBack(p)
		}
		u.trim(t)
		u.tracks[i] = t
	}
}

// SetThreshold sets the constant drawn by threshold series i. Reset takes it
// from the seeded points, which are absent when the window was empty.
func (u *Updater) SetThreshold(i int, v float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if i >= 0 && i < len(u.tracks) && u.tracks[i].typ == model.SeriesThreshold {
		u.tracks[i].value = v
	}
}

// Append pushes one point to series i. It reports false, and does nothing,
// for threshold series and for an index out of range.
func (u *Updater) Append(i int, ts int64, v float64) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if i < 0 || i >= len(u.tracks) || u.tracks[i].typ == model.SeriesThreshold {
		return false
	}
	t := u.tracks[i]
	t.pts.PushBack(model.Point{T: ts, V: v})
	u.trim(t)
	return true
}

// AppendAll appends values[i] to series i at ts and returns how many points
// were appended.
func (u *Updater) AppendAll(ts int64, values []float64) int {
	n := 0
	for i, v := range values {
		if u.Append(i, ts, v) {
			n++
		}
	}
	return n
}

func (u *Updater) trim(t *track) {
	for t.pts.Len() > u.cap {
		t.pts.PopFront()
	}
}

// EvictCount drops the oldest points until every series holds at most n.
// It returns the number of points dropped.
func (u *Updater) EvictCount(n int) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	if n < 0 {
		n = 0
	}
	dropped := 0
	for _, t := range u.tracks {
		if t.typ == model.SeriesThreshold {
			continue
		}
		for t.pts.Len() > n {
			t.pts.PopFront()
			dropped++
		}
	}
	return dropped
}

// EvictBefore drops every point older than ts and returns how many were
// dropped.
func (u *Updater) EvictBefore(ts int64) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	dropped := 0
	for _, t := range u.tracks {
		if t.typ == model.SeriesThreshold {
			continue
		}
		for t.pts.Len() > 0 && t.pts.Front().T < ts {
			t.pts.PopFront()
			dropped++
		}
	}
	return dropped
}

// Len returns the number of points in series i.
func (u *Updater) Len(i int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if i < 0 || i >= len(u.tracks) {
		return 0
	}
	return u.tracks[i].pts.Len()
}

// Snapshot returns copies of all series. Threshold series are redrawn on the
// timestamps of the first data series so they span the current window.
func (u *Updater) Snapshot() []model.Series {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]model.Series, len(u.tracks))
	var axis []int64
	haveAxis := false
	for i, t := range u.tracks {
		pts := make([]model.Point, t.pts.Len())
		for j := range pts {
			pts[j] = t.pts.At(j)
		}
		out[i] = model.Series{Label: t.label, Type: t.typ, Points: pts}
		if !haveAxis && t.typ != model.SeriesThreshold {
			axis = out[i].Timestamps()
			haveAxis = true
		}
	}
	if haveAxis {
		for i, t := range u.tracks {
			if t.typ == model.SeriesThreshold {
				out[i].Points = transform.OnAxis(axis, t.value)
			}
		}
	}
	return out
}
