package period

import (
	"fmt"
	"slices"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// Interval is a sampling granularity code as sent in the int= query
// parameter: 10s, 1m, 15m, 1h, 1d, 1w.
type Interval string

// Duration parses the interval code. Day and week suffixes are accepted.
func (iv Interval) Duration() (time.Duration, error) {
	d, err := str2duration.ParseDuration(string(iv))
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", string(iv), err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q: must be positive", string(iv))
	}
	return d, nil
}

// menus is the static interval table. The first entry of each menu is
// not necessarily the default; see defaults.
var menus = map[Kind][]Interval{
	Live:        {"10s", "30s", "1m"},
	Hour:        {"1m", "5m", "15m"},
	Day:         {"1m", "15m", "1h"},
	Week:        {"15m", "1h", "1d"},
	Month:       {"1h", "1d", "1w"},
	Year:        {"1d", "1w"},
	Forecast6h:  {"15m", "1h"},
	Forecast24h: {"15m", "1h"},
}

var defaults = map[Kind]Interval{
	Live:        "10s",
	Hour:        "1m",
	Day:         "15m",
	Week:        "1h",
	Month:       "1d",
	Year:        "1d",
	Forecast6h:  "15m",
	Forecast24h: "1h",
}

// unitKind maps a LastN unit to the absolute mode whose menu it shares.
var unitKind = map[Unit]Kind{
	UnitHour:  Hour,
	UnitDay:   Day,
	UnitWeek:  Week,
	UnitMonth: Month,
	UnitYear:  Year,
}

func menuKind(m Mode) Kind {
	if m.Kind == LastN {
		return unitKind[m.Unit]
	}
	return m.Kind
}

// Intervals returns the restricted interval menu for m.
func Intervals(m Mode) []Interval {
	return slices.Clone(menus[menuKind(m)])
}

// DefaultInterval returns the default sampling interval for m.
func DefaultInterval(m Mode) Interval {
	return defaults[menuKind(m)]
}

// Allowed reports whether iv is on m's menu.
func Allowed(m Mode, iv Interval) bool {
	return slices.Contains(menus[menuKind(m)], iv)
}

// ResolveInterval returns requested when it is on m's menu, otherwise the
// default for m.
func ResolveInterval(m Mode, requested Interval) Interval {
	if requested != "" && Allowed(m, requested) {
		return requested
	}
	return DefaultInterval(m)
}
