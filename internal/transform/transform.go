// Package transform implements stateless operators over point slices. Each
// operator is a pure function that returns a new slice; inputs are never
// modified. NaN marks a missing value throughout.
package transform

import (
	"fmt"
	"math"
	"sort"

	"github.com/derickschaefer/kwchart/internal/model"
)

// ─── Align ────────────────────────────────────────────────────────────────────

// Aligned reports whether every slice has the same length and the same
// timestamps position by position.
func Aligned(series ...[]model.Point) bool {
	if len(series) < 2 {
		return true
	}
	ref := series[0]
	for _, s := range series[1:] {
		if len(s) != len(ref) {
			return false
		}
		for i := range s {
			if s[i].T != ref[i].T {
				return false
			}
		}
	}
	return true
}

// Align puts every input on the union of all timestamps, ascending.
// Positions a series has no point for are NaN. Already-aligned input is
// returned as copies without reshuffling.
func Align(series ...[]model.Point) [][]model.Point {
	out := make([][]model.Point, len(series))
	if Aligned(series...) {
		for i, s := range series {
			out[i] = append([]model.Point(nil), s...)
		}
		return out
	}

	seen := make(map[int64]bool)
	var axis []int64
	for _, s := range series {
		for _, p := range s {
			if !seen[p.T] {
				seen[p.T] = true
				axis = append(axis, p.T)
			}
		}
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i] < axis[j] })

	for i, s := range series {
		byT := make(map[int64]float64, len(s))
		for _, p := range s {
			byT[p.T] = p.V
		}
		pts := make([]model.Point, len(axis))
		for j, t := range axis {
			v, ok := byT[t]
			if !ok {
				v = math.NaN()
			}
			pts[j] = model.Point{T: t, V: v}
		}
		out[i] = pts
	}
	return out
}

// OnAxis returns a series with the given timestamps and value v at each one.
func OnAxis(axis []int64, v float64) []model.Point {
	out := make([]model.Point, len(axis))
	for i, t := range axis {
		out[i] = model.Point{T: t, V: v}
	}
	return out
}

// ─── Units ────────────────────────────────────────────────────────────────────

// ToMillis converts Unix-second timestamps to Unix milliseconds.
func ToMillis(pts []model.Point) []model.Point {
	out := make([]model.Point, len(pts))
	for i, p := range pts {
		out[i] = model.Point{T: p.T * 1000, V: p.V}
	}
	return out
}

// ─── Missing values ───────────────────────────────────────────────────────────

// FillLOCF carries the last observed value forward over gaps. Leading gaps
// stay NaN since there is nothing to carry.
func FillLOCF(pts []model.Point) []model.Point {
	out := make([]model.Point, len(pts))
	last := math.NaN()
	for i, p := range pts {
		if !math.IsNaN(p.V) {
			last = p.V
		}
		out[i] = model.Point{T: p.T, V: last}
	}
	return out
}

// FillLinear interpolates interior gaps linearly in time. Leading and
// trailing gaps stay NaN.
func FillLinear(pts []model.Point) []model.Point {
	out := make([]model.Point, len(pts))
	copy(out, pts)
	prev := -1
	for i, p := range pts {
		if math.IsNaN(p.V) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			a, b := pts[prev], p
			span := float64(b.T - a.T)
			for j := prev + 1; j < i; j++ {
				if span == 0 {
					out[j].V = a.V
					continue
				}
				frac := float64(pts[j].T-a.T) / span
				out[j].V = a.V + (b.V-a.V)*frac
			}
		}
		prev = i
	}
	return out
}

// FillMissing applies a missing-value policy by name.
func FillMissing(pts []model.Point, policy string) ([]model.Point, error) {
	switch policy {
	case model.MissLOCF:
		return FillLOCF(pts), nil
	case model.MissLinear:
		return FillLinear(pts), nil
	case model.MissNull, "":
		return append([]model.Point(nil), pts...), nil
	default:
		return nil, fmt.Errorf("fill: unknown missing-value policy %q (use locf, linear, null)", policy)
	}
}

// ─── Window ───────────────────────────────────────────────────────────────────

// Since keeps the points with T >= cutoff.
func Since(pts []model.Point, cutoff int64) []model.Point {
	i := sort.Search(len(pts), func(i int) bool { return pts[i].T >= cutoff })
	return append([]model.Point(nil), pts[i:]...)
}

// Last returns the last non-missing point, or false when every value is NaN.
func Last(pts []model.Point) (model.Point, bool) {
	for i := len(pts) - 1; i >= 0; i-- {
		if !math.IsNaN(pts[i].V) {
			return pts[i], true
		}
	}
	return model.Point{}, false
}
