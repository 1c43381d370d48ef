// Package query is the read-only view over the time series used by the
// chat layer. It never surfaces "no data yet" as an error: callers get an
// empty snapshot and decide how to phrase that.
package query

import (
	"time"

	"github.com/mweigel/dhtbot/reading"
	"github.com/mweigel/dhtbot/store"
)

// Snapshot is a materialized range of records plus the per-signal extremes
// used in plot captions. Gap markers are included in Records (plots need
// them) but excluded from Stats.
type Snapshot struct {
	Records []reading.Record
	Stats   reading.Stats
}

// Empty reports whether the snapshot contains any real (non-gap) records.
func (s Snapshot) Empty() bool {
	for _, r := range s.Records {
		if !r.IsGap() {
			return false
		}
	}
	return true
}

type Facade struct {
	store *store.Store
}

func New(s *store.Store) Facade {
	return Facade{store: s}
}

// Last returns the most recent record, or false if there is no data yet.
func (f Facade) Last() (reading.Record, bool) {
	return f.store.Last()
}

// Range returns a consistent snapshot of [from, to]. It is safe to call
// while the sampling loop is appending; records published after the
// snapshot was started are simply not part of it.
func (f Facade) Range(from, to time.Time) (Snapshot, error) {
	it, err := f.store.Range(from, to)
	if err != nil {
		return Snapshot{}, err
	}
	defer it.Close()

	var records []reading.Record
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		records = append(records, rec)
	}
	if err := it.Err(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Records: records,
		Stats:   reading.CollectStats(records),
	}, nil
}
