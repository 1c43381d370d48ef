package query

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/mweigel/dhtbot/reading"
	"github.com/mweigel/dhtbot/store"
)

var cmpFloats = cmp.Options{cmpopts.EquateApprox(0, 0.0001), cmpopts.EquateNaNs()}

func newFacade(t *testing.T) Facade {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.rec"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func append_(t *testing.T, f Facade, records ...reading.Record) {
	t.Helper()
	for _, r := range records {
		if err := f.store.Append(r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func TestLastEmpty(t *testing.T) {
	f := newFacade(t)
	if _, ok := f.Last(); ok {
		t.Error("Last() reported data on an empty store")
	}
}

func TestRangeEmpty(t *testing.T) {
	f := newFacade(t)

	// "No data yet" is an empty snapshot, not an error.
	snap, err := f.Range(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if !snap.Empty() {
		t.Errorf("snapshot of empty store is not empty: %+v", snap)
	}
}

func TestRangeSnapshot(t *testing.T) {
	f := newFacade(t)

	base := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.Local)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }
	records := []reading.Record{
		{Timestamp: at(0), Temperature: 20, Humidity: 50},
		reading.Gap(at(1)),
		{Timestamp: at(2), Temperature: 25, Humidity: 40},
		{Timestamp: at(3), Temperature: 18, Humidity: 60},
	}
	append_(t, f, records...)

	snap, err := f.Range(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}

	// Gap markers are part of the snapshot (plots need them)...
	if diff := cmp.Diff(snap.Records, records, cmpFloats); diff != "" {
		t.Errorf("Unexpected records (-got +want):\n%s", diff)
	}
	if snap.Empty() {
		t.Error("snapshot with data reports Empty")
	}

	// ...but not of the stats.
	wantStats := reading.Stats{
		Temperature: reading.Stat{Min: 18, Max: 25, MinTime: at(3), MaxTime: at(2)},
		Humidity:    reading.Stat{Min: 40, Max: 60, MinTime: at(2), MaxTime: at(3)},
	}
	if diff := cmp.Diff(snap.Stats, wantStats, cmpFloats); diff != "" {
		t.Errorf("Unexpected stats (-got +want):\n%s", diff)
	}
}

func TestGapOnlySnapshotIsEmpty(t *testing.T) {
	f := newFacade(t)
	append_(t, f, reading.Gap(time.Date(2024, time.May, 1, 10, 0, 0, 0, time.Local)))

	snap, err := f.Range(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if !snap.Empty() {
		t.Error("gap-only snapshot reports data")
	}
}
