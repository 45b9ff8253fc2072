package period

import (
	"fmt"
	"time"
)

// LiveWindow is the fixed lookback of the live mode.
const LiveWindow = 15 * time.Minute

// Bounds is a chart window in Unix seconds.
// Start ≤ End ≤ DisplayEnd always holds. End is what gets queried;
// DisplayEnd is the unclamped end used only for the axis.
type Bounds struct {
	Start      int64 `json:"start"`
	End        int64 `json:"end"`
	DisplayEnd int64 `json:"display_end"`
}

// Empty reports whether the queried window holds no time at all, which
// happens when the now-clamp lands at or before Start.
func (b Bounds) Empty() bool {
	return b.End <= b.Start
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d, %d] display %d", b.Start, b.End, b.DisplayEnd)
}

// Calculator computes Bounds. Location defines calendar units; Now is the
// wall clock and may be replaced in tests.
type Calculator struct {
	Location *time.Location
	Now      func() time.Time
}

// NewCalculator returns a Calculator for loc using the real clock.
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{Location: loc, Now: time.Now}
}

func (c *Calculator) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Calculator) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Bounds maps (mode, ref) to a window.
func (c *Calculator) Bounds(m Mode, ref time.Time) Bounds {
	now := c.now()
	ref = ref.In(c.loc())

	switch m.Kind {
	case Live:
		return Bounds{
			Start:      now.Add(-LiveWindow).Unix(),
			End:        now.Unix(),
			DisplayEnd: now.Unix(),
		}

	case Hour, Day, Week, Month, Year:
		start := Floor(ref, m.Kind)
		displayEnd := next(start, m.Kind).Unix() - 1
		return clamp(start.Unix(), displayEnd, displayEnd, now)

	case LastN:
		start := back(ref, m.Amount, m.Unit)
		return clamp(start.Unix(), ref.Unix(), ref.Unix(), now)

	case Forecast6h:
		return Bounds{Start: ref.Unix(), End: ref.Add(6 * time.Hour).Unix(), DisplayEnd: ref.Add(6 * time.Hour).Unix()}

	case Forecast24h:
		return Bounds{Start: ref.Unix(), End: ref.Add(24 * time.Hour).Unix(), DisplayEnd: ref.Add(24 * time.Hour).Unix()}
	}
	// Unknown kinds get an empty window at ref.
	return Bounds{Start: ref.Unix(), End: ref.Unix(), DisplayEnd: ref.Unix()}
}

// clamp builds Bounds with end = min(end, now), never letting end drop
// below start.
func clamp(start, end, displayEnd int64, now time.Time) Bounds {
	if n := now.Unix(); end > n {
		end = n
	}
	if end < start {
		end = start
	}
	return Bounds{Start: start, End: end, DisplayEnd: displayEnd}
}

// Floor returns the start of the calendar unit containing t, in t's location.
// Weeks start on Monday. Hours are floored in absolute time so the repeated
// hour of a DST fall-back still contains t.
func Floor(t time.Time, k Kind) time.Time {
	y, mo, d := t.Date()
	loc := t.Location()
	switch k {
	case Hour:
		return t.Add(-time.Duration(t.Minute())*time.Minute -
			time.Duration(t.Second())*time.Second -
			time.Duration(t.Nanosecond()))
	case Day:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case Week:
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, mo, d-offset, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	case Year:
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// next returns the start of the unit following the one starting at start.
func next(start time.Time, k Kind) time.Time {
	switch k {
	case Hour:
		return start.Add(time.Hour)
	case Day:
		return start.AddDate(0, 0, 1)
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	case Year:
		return start.AddDate(1, 0, 0)
	}
	return start
}

// back steps n calendar units back from t. n is capped at the unit's
// maximum lookback.
func back(t time.Time, n int, u Unit) time.Time {
	if limit, ok := maxAmount[u]; ok && n > limit {
		n = limit
	}
	switch u {
	case UnitHour:
		return t.Add(-time.Duration(n) * time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, -n)
	case UnitWeek:
		return t.AddDate(0, 0, -7*n)
	case UnitMonth:
		return t.AddDate(0, -n, 0)
	case UnitYear:
		return t.AddDate(-n, 0, 0)
	}
	return t
}
