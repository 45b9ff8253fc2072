// Package period maps a chart time mode and a reference instant to the
// {start, end, displayEnd} window the chart queries and displays, and holds
// the static per-mode interval menus.
package period

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the closed set of period modes.
type Kind int

const (
	Live Kind = iota
	Hour
	Day
	Week
	Month
	Year
	Forecast6h
	Forecast24h
	LastN
)

// Unit is the calendar unit of a LastN lookback.
type Unit int

const (
	UnitHour Unit = iota
	UnitDay
	UnitWeek
	UnitMonth
	UnitYear
)

var unitCodes = map[Unit]string{
	UnitHour:  "h",
	UnitDay:   "d",
	UnitWeek:  "w",
	UnitMonth: "mo",
	UnitYear:  "y",
}

// maxAmount caps a lookback at roughly a century so the window start
// stays representable.
var maxAmount = map[Unit]int{
	UnitHour:  876600,
	UnitDay:   36525,
	UnitWeek:  5218,
	UnitMonth: 1200,
	UnitYear:  100,
}

func (u Unit) String() string {
	if s, ok := unitCodes[u]; ok {
		return s
	}
	return "?"
}

// Mode is a period mode. Amount and Unit are only meaningful for LastN.
type Mode struct {
	Kind   Kind
	Amount int
	Unit   Unit
}

// Fixed modes, for convenience.
var (
	ModeLive        = Mode{Kind: Live}
	ModeHour        = Mode{Kind: Hour}
	ModeDay         = Mode{Kind: Day}
	ModeWeek        = Mode{Kind: Week}
	ModeMonth       = Mode{Kind: Month}
	ModeYear        = Mode{Kind: Year}
	ModeForecast6h  = Mode{Kind: Forecast6h}
	ModeForecast24h = Mode{Kind: Forecast24h}
)

// Last returns a LastN mode.
func Last(amount int, unit Unit) Mode {
	return Mode{Kind: LastN, Amount: amount, Unit: unit}
}

var kindNames = map[Kind]string{
	Live:        "live",
	Hour:        "hour",
	Day:         "day",
	Week:        "week",
	Month:       "month",
	Year:        "year",
	Forecast6h:  "forecast6h",
	Forecast24h: "forecast24h",
}

// Names returns the fixed period names in display order.
func Names() []string {
	return []string{"live", "hour", "day", "week", "month", "year", "forecast6h", "forecast24h"}
}

// String returns the canonical textual form accepted by ParseMode.
func (m Mode) String() string {
	if m.Kind == LastN {
		return fmt.Sprintf("last:%d%s", m.Amount, m.Unit)
	}
	if s, ok := kindNames[m.Kind]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m.Kind))
}

// IsLive reports whether m is the live mode.
func (m Mode) IsLive() bool { return m.Kind == Live }

// IsForecast reports whether m looks into the future.
func (m Mode) IsForecast() bool { return m.Kind == Forecast6h || m.Kind == Forecast24h }

// ParseMode parses live|hour|day|week|month|year|forecast6h|forecast24h|last:<N><unit>.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if s == name {
			return Mode{Kind: k}, nil
		}
	}
	rest, ok := strings.CutPrefix(s, "last:")
	if !ok {
		return Mode{}, fmt.Errorf("unknown period %q (use live, hour, day, week, month, year, forecast6h, forecast24h or last:<N><h|d|w|mo|y>)", s)
	}
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(rest[:i])
	if err != nil || n < 1 {
		return Mode{}, fmt.Errorf("period %q: amount must be a positive integer", s)
	}
	for u, code := range unitCodes {
		if rest[i:] == code {
			if n > maxAmount[u] {
				return Mode{}, fmt.Errorf("period %q: amount exceeds %d%s", s, maxAmount[u], code)
			}
			return Last(n, u), nil
		}
	}
	return Mode{}, fmt.Errorf("period %q: unknown unit %q (use h, d, w, mo, y)", s, rest[i:])
}
