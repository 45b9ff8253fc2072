package util_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/derickschaefer/kwchart/internal/util"
)

func TestParseInstantForms(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Time
	}{
		{"", now},
		{"now", now},
		{"1710496800", time.Unix(1710496800, 0)},
		{"2024-03-15T10:00:00Z", now},
		{"2024-03-15", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-03-15T08:30", time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got, err := util.ParseInstant(c.in, time.UTC, now)
		if err != nil {
			t.Errorf("ParseInstant(%q): %v", c.in, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("ParseInstant(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestParseInstantInvalid(t *testing.T) {
	if _, err := util.ParseInstant("yesterday-ish", time.UTC, time.Now()); err == nil {
		t.Error("expected error for unparseable instant")
	}
}

func TestFormatValue(t *testing.T) {
	if got := util.FormatValue(math.NaN()); got != "." {
		t.Errorf("NaN: got %q", got)
	}
	if got := util.FormatValue(3.25); got != "3.25" {
		t.Errorf("3.25: got %q", got)
	}
}

func TestMultiError(t *testing.T) {
	var m util.MultiError
	if m.Err() != nil {
		t.Fatal("empty MultiError should be nil")
	}
	sentinel := errors.New("boom")
	m.Add(nil)
	m.Add(errors.New("first"))
	m.Add(sentinel)
	err := m.Err()
	if err == nil || err.Error() != "first; boom" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should see through MultiError")
	}
}
