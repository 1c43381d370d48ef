// Package timerange resolves the named time ranges offered by the plot
// keyboard ("3h", "yesterday", "last month", ...) into concrete intervals.
package timerange

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Range is a request interval. A zero From means "from the beginning of
// the series"; a zero To means "up to now".
type Range struct {
	From time.Time
	To   time.Time
}

var (
	hoursRe = regexp.MustCompile(`^([0-9]+)h$`)
	daysRe  = regexp.MustCompile(`^last ([0-9]+)d$`)
)

// Keyboard returns the range names grouped into rows, in presentation
// order. Every name resolves.
func Keyboard() [][]string {
	return [][]string{
		{"1h", "3h", "6h", "12h", "24h", "48h"},
		{"today", "yesterday", "last 3d"},
		{"this week", "last week", "last 7d"},
		{"this month", "last month", "last 31d"},
		{"this year", "last year", "last 365d"},
		{"all"},
	}
}

// Resolve maps a range name to an interval relative to now. Day-based
// ranges snap to local midnight, hour-based ranges are exact offsets, and
// "last N days" includes today, matching how the ranges have always
// behaved.
func Resolve(name string, now time.Time) (Range, error) {
	if name == "all" {
		return Range{}, nil
	}

	if m := hoursRe.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Range{}, fmt.Errorf("timerange: bad range %q", name)
		}
		return Range{From: now.Add(-time.Duration(n) * time.Hour)}, nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := daysRe.FindStringSubmatch(name); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Range{}, fmt.Errorf("timerange: bad range %q", name)
		}
		return Range{From: today.AddDate(0, 0, -(n - 1))}, nil
	}

	switch name {
	case "today":
		return Range{From: today}, nil
	case "yesterday":
		return Range{
			From: today.AddDate(0, 0, -1),
			To:   today.Add(-time.Microsecond),
		}, nil
	case "this week":
		return Range{From: today.AddDate(0, 0, -weekday(now))}, nil
	case "last week":
		return Range{
			From: today.AddDate(0, 0, -weekday(now)-7),
			To:   today.AddDate(0, 0, -weekday(now)).Add(-time.Microsecond),
		}, nil
	case "this month":
		return Range{From: today.AddDate(0, 0, -(now.Day() - 1))}, nil
	case "last month":
		thisMonth := today.AddDate(0, 0, -(now.Day() - 1))
		return Range{
			From: thisMonth.AddDate(0, -1, 0),
			To:   thisMonth.Add(-time.Microsecond),
		}, nil
	case "this year":
		return Range{From: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())}, nil
	case "last year":
		thisYear := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
		return Range{
			From: thisYear.AddDate(-1, 0, 0),
			To:   thisYear.Add(-time.Microsecond),
		}, nil
	}

	return Range{}, fmt.Errorf("timerange: unknown range %q", name)
}

// weekday returns the day offset within the week, with Monday as 0.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
