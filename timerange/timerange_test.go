package timerange

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// A Wednesday afternoon.
var now = time.Date(2024, time.May, 15, 13, 45, 30, 0, time.Local)

func midnight(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		want Range
	}{
		{"1h", Range{From: now.Add(-time.Hour)}},
		{"3h", Range{From: now.Add(-3 * time.Hour)}},
		{"48h", Range{From: now.Add(-48 * time.Hour)}},
		{"today", Range{From: midnight(2024, time.May, 15)}},
		{
			"yesterday",
			Range{
				From: midnight(2024, time.May, 14),
				To:   midnight(2024, time.May, 15).Add(-time.Microsecond),
			},
		},
		// "last N days" includes today.
		{"last 3d", Range{From: midnight(2024, time.May, 13)}},
		{"last 7d", Range{From: midnight(2024, time.May, 9)}},
		// 364 whole days back from today's midnight, crossing the leap day.
		{"last 365d", Range{From: midnight(2023, time.May, 17)}},
		// The week starts on Monday.
		{"this week", Range{From: midnight(2024, time.May, 13)}},
		{
			"last week",
			Range{
				From: midnight(2024, time.May, 6),
				To:   midnight(2024, time.May, 13).Add(-time.Microsecond),
			},
		},
		{"this month", Range{From: midnight(2024, time.May, 1)}},
		{
			"last month",
			Range{
				From: midnight(2024, time.April, 1),
				To:   midnight(2024, time.May, 1).Add(-time.Microsecond),
			},
		},
		{"this year", Range{From: midnight(2024, time.January, 1)}},
		{
			"last year",
			Range{
				From: midnight(2023, time.January, 1),
				To:   midnight(2024, time.January, 1).Add(-time.Microsecond),
			},
		},
		{"all", Range{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Resolve(c.name, now)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", c.name, err)
			}
			if diff := cmp.Diff(got, c.want); diff != "" {
				t.Errorf("Resolve(%q) mismatch (-got +want):\n%s", c.name, diff)
			}
		})
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, name := range []string{"", "5m", "last things", "yesterweek", "3H"} {
		if _, err := Resolve(name, now); err == nil {
			t.Errorf("Resolve(%q) succeeded, want error", name)
		}
	}
}

func TestKeyboardNamesAllResolve(t *testing.T) {
	for _, row := range Keyboard() {
		for _, name := range row {
			if _, err := Resolve(name, now); err != nil {
				t.Errorf("keyboard range %q does not resolve: %v", name, err)
			}
		}
	}
}
