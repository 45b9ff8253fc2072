package live_test

import (
	"testing"

	"github.com/derickschaefer/kwchart/internal/live"
	"github.com/derickschaefer/kwchart/internal/model"
)

func seed() []model.Series {
	return []model.Series{
		{Label: "pv", Type: model.SeriesView, Points: []model.Point{{T: 0, V: 1}}},
		{Label: "limit", Type: model.SeriesThreshold, Points: []model.Point{{T: 0, V: 5}}},
		{Label: "net", Type: model.SeriesCalculation, Points: []model.Point{{T: 0, V: 2}}},
	}
}

func TestRollingCapFIFO(t *testing.T) {
	u := live.New(1100)
	u.Reset([]model.Series{{Label: "v", Type: model.SeriesView}})

	for i := 0; i < 1200; i++ {
		u.Append(0, int64(i)*1000, float64(i))
		want := i + 1
		if want > 1100 {
			want = 1100
		}
		if got := u.Len(0); got != want {
			t.Fatalf("after %d appends: expected len %d, got %d", i+1, want, got)
		}
	}

	pts := u.Snapshot()[0].Points
	if pts[0].V != 100 || pts[len(pts)-1].V != 1199 {
		t.Errorf("oldest points should be evicted first: front=%g back=%g", pts[0].V, pts[len(pts)-1].V)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].T <= pts[i-1].T {
			t.Fatalf("series not time-ascending at %d", i)
		}
	}
}

func TestThresholdsExcludedFromAppends(t *testing.T) {
	u := live.New(10)
	u.Reset(seed())

	if u.Append(1, 1000, 99) {
		t.Error("Append to a threshold series should report false")
	}
	if n := u.AppendAll(1000, []float64{3, 99, 4}); n != 2 {
		t.Errorf("AppendAll: expected 2 appended, got %d", n)
	}

	snap := u.Snapshot()
	if len(snap[0].Points) != 2 || len(snap[2].Points) != 2 {
		t.Fatalf("data series should have 2 points: %+v", snap)
	}
	th := snap[1].Points
	if len(th) != 2 || th[1].T != 1000 || th[1].V != 5 {
		t.Errorf("threshold should follow the data axis with its constant value, got %v", th)
	}
}

func TestAppendOutOfRange(t *testing.T) {
	u := live.New(0)
	if u.Cap() != live.DefaultCap {
		t.Errorf("expected default cap, got %d", u.Cap())
	}
	if u.Append(3, 0, 1) {
		t.Error("append to unknown series should report false")
	}
}

func TestEvict(t *testing.T) {
	u := live.New(100)
	u.Reset(seed())
	for i := 1; i <= 5; i++ {
		u.AppendAll(int64(i)*1000, []float64{float64(i), 0, float64(i)})
	}

	if dropped := u.EvictBefore(3000); dropped != 6 {
		t.Errorf("EvictBefore: expected 6 dropped, got %d", dropped)
	}
	if u.Len(0) != 3 {
		t.Errorf("expected 3 points left, got %d", u.Len(0))
	}
	if dropped := u.EvictCount(1); dropped != 4 {
		t.Errorf("EvictCount: expected 4 dropped, got %d", dropped)
	}
	if p := u.Snapshot()[0].Points; len(p) != 1 || p[0].T != 5000 {
		t.Errorf("expected only the newest point, got %v", p)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	u := live.New(10)
	u.Reset(seed())
	s := u.Snapshot()
	s[0].Points[0].V = 42
	if u.Snapshot()[0].Points[0].V != 1 {
		t.Error("Snapshot must not expose internal storage")
	}
}

func TestSetThresholdOnEmptySeed(t *testing.T) {
	u := live.New(10)
	u.Reset([]model.Series{
		{Label: "v", Type: model.SeriesView},
		{Label: "limit", Type: model.SeriesThreshold},
	})
	u.SetThreshold(1, 7)
	u.Append(0, 1000, 1)
	th := u.Snapshot()[1].Points
	if len(th) != 1 || th[0].V != 7 {
		t.Errorf("threshold should be drawn with the configured value, got %v", th)
	}
}
