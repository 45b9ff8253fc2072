package transform_test

import (
	"math"
	"testing"

	"github.com/derickschaefer/kwchart/internal/model"
	"github.com/derickschaefer/kwchart/internal/transform"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// pts builds points at t0, t0+step, ... from values.
func pts(t0, step int64, values ...float64) []model.Point {
	out := make([]model.Point, len(values))
	for i, v := range values {
		out[i] = model.Point{T: t0 + int64(i)*step, V: v}
	}
	return out
}

func isNaN(v float64) bool { return math.IsNaN(v) }

func approxEqual(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

var nan = math.NaN()

// ─── Align ────────────────────────────────────────────────────────────────────

func TestAlignAlreadyAligned(t *testing.T) {
	a := pts(0, 60, 1, 2, 3)
	b := pts(0, 60, 4, 5, 6)
	out := transform.Align(a, b)
	if len(out[0]) != 3 || len(out[1]) != 3 {
		t.Fatalf("lengths: %d, %d", len(out[0]), len(out[1]))
	}
	out[0][0].V = 99
	if a[0].V != 1 {
		t.Error("Align must not alias its input")
	}
}

func TestAlignUnionPadsNaN(t *testing.T) {
	a := []model.Point{{T: 0, V: 1}, {T: 120, V: 3}}
	b := []model.Point{{T: 60, V: 5}, {T: 120, V: 6}}
	out := transform.Align(a, b)

	if !transform.Aligned(out...) {
		t.Fatal("output should be aligned")
	}
	if len(out[0]) != 3 {
		t.Fatalf("expected 3-point axis, got %d", len(out[0]))
	}
	wantT := []int64{0, 60, 120}
	for i, w := range wantT {
		if out[0][i].T != w {
			t.Errorf("axis[%d]: expected %d, got %d", i, w, out[0][i].T)
		}
	}
	if !isNaN(out[0][1].V) || !isNaN(out[1][0].V) {
		t.Errorf("gaps should be NaN: a=%v b=%v", out[0], out[1])
	}
	if out[1][2].V != 6 {
		t.Errorf("b[2]: got %g", out[1][2].V)
	}
}

func TestAlignEmpty(t *testing.T) {
	out := transform.Align(nil, pts(0, 60, 1))
	if len(out[0]) != 1 || !isNaN(out[0][0].V) {
		t.Errorf("empty input should be padded with NaN, got %v", out[0])
	}
}

// ─── Fill ─────────────────────────────────────────────────────────────────────

func TestFillLOCF(t *testing.T) {
	out := transform.FillLOCF(pts(0, 60, nan, 1, nan, nan, 4))
	if !isNaN(out[0].V) {
		t.Error("leading gap should stay NaN")
	}
	want := []float64{1, 1, 1, 4}
	for i, w := range want {
		if out[i+1].V != w {
			t.Errorf("out[%d]: expected %g, got %g", i+1, w, out[i+1].V)
		}
	}
}

func TestFillLinear(t *testing.T) {
	out := transform.FillLinear(pts(0, 60, 0, nan, nan, 30, nan))
	if !approxEqual(out[1].V, 10, 1e-9) || !approxEqual(out[2].V, 20, 1e-9) {
		t.Errorf("interior gaps: got %g, %g", out[1].V, out[2].V)
	}
	if !isNaN(out[4].V) {
		t.Error("trailing gap should stay NaN")
	}
}

func TestFillMissingUnknownPolicy(t *testing.T) {
	if _, err := transform.FillMissing(nil, "zero"); err == nil {
		t.Error("expected error for unknown policy")
	}
	out, err := transform.FillMissing(pts(0, 1, nan), model.MissNull)
	if err != nil || !isNaN(out[0].V) {
		t.Errorf("null policy should keep gaps: %v %v", out, err)
	}
}

// ─── Units & windows ──────────────────────────────────────────────────────────

func TestToMillis(t *testing.T) {
	out := transform.ToMillis(pts(1710460800, 60, 1, nan))
	if out[0].T != 1710460800000 || out[1].T != 1710460860000 {
		t.Errorf("unexpected timestamps: %v", out)
	}
	if !isNaN(out[1].V) {
		t.Error("missing values must survive unit conversion")
	}
}

func TestSinceAndLast(t *testing.T) {
	in := pts(0, 60, 1, 2, nan)
	if got := transform.Since(in, 60); len(got) != 2 || got[0].T != 60 {
		t.Errorf("Since: got %v", got)
	}
	p, ok := transform.Last(in)
	if !ok || p.V != 2 {
		t.Errorf("Last: got %v %v", p, ok)
	}
	if _, ok := transform.Last(pts(0, 1, nan)); ok {
		t.Error("Last of all-NaN should report false")
	}
}

func TestOnAxis(t *testing.T) {
	out := transform.OnAxis([]int64{0, 60}, 42)
	if len(out) != 2 || out[1].T != 60 || out[1].V != 42 {
		t.Errorf("OnAxis: got %v", out)
	}
}
