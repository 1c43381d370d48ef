package reading

import (
	"math"
	"time"
)

// Stat tracks the extremes of one signal and when they occurred.
type Stat struct {
	Min     float64
	Max     float64
	MinTime time.Time
	MaxTime time.Time
}

func newStat() Stat {
	return Stat{
		Min: math.Inf(1),
		Max: math.Inf(-1),
	}
}

func (s *Stat) update(ts time.Time, v float64) {
	if v < s.Min {
		s.Min = v
		s.MinTime = ts
	}
	if v > s.Max {
		s.Max = v
		s.MaxTime = ts
	}
}

// Stats holds per-signal extremes over a set of records.
type Stats struct {
	Temperature Stat
	Humidity    Stat
}

// CollectStats computes min/max statistics over records. Gap markers are
// skipped. If records contains no real data the zero-count stats have
// Min=+Inf and Max=-Inf.
func CollectStats(records []Record) Stats {
	stats := Stats{
		Temperature: newStat(),
		Humidity:    newStat(),
	}

	for _, r := range records {
		if r.IsGap() {
			continue
		}
		stats.Temperature.update(r.Timestamp, r.Temperature)
		stats.Humidity.update(r.Timestamp, r.Humidity)
	}

	return stats
}
