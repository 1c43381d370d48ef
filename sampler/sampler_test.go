package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mweigel/dhtbot/outlier"
	"github.com/mweigel/dhtbot/reading"
	"github.com/mweigel/dhtbot/sensor"
)

// fakeSensor returns queued temperatures, optionally failing the first few
// reads, and records when each successful read happened.
type fakeSensor struct {
	mu          sync.Mutex
	failures    int
	temps       []float64
	next        int
	readTimes   []time.Time
	minInterval time.Duration
}

func (f *fakeSensor) Init() error     { return nil }
func (f *fakeSensor) Shutdown() error { return nil }

func (f *fakeSensor) MinInterval() time.Duration {
	return f.minInterval
}

func (f *fakeSensor) Sense(r *reading.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("%w: checksum mismatch", sensor.ErrTransient)
	}

	r.Temperature = f.temps[f.next%len(f.temps)]
	r.Humidity = 50
	f.next++
	f.readTimes = append(f.readTimes, time.Now())
	return nil
}

func (f *fakeSensor) reads() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.readTimes...)
}

// memRecorder collects appended records.
type memRecorder struct {
	mu      sync.Mutex
	records []reading.Record
	err     error
}

func (m *memRecorder) Append(rec reading.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecorder) all() []reading.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]reading.Record(nil), m.records...)
}

func newFilter(t *testing.T, cfg outlier.Config) *outlier.Filter {
	t.Helper()
	f, err := outlier.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// runFor runs the sampler until the condition is met or the deadline
// passes, then cancels and waits for Run to return.
func runFor(t *testing.T, s *Sampler, timeout time.Duration, done func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(finished)
	}()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && !done() {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("sampler did not stop after cancellation")
	}
}

func TestSamplesFlowToRecorder(t *testing.T) {
	sens := &fakeSensor{temps: []float64{21}, minInterval: time.Millisecond}
	rec := &memRecorder{}
	s := New(Config{}, sens, newFilter(t, outlier.Config{WindowSize: 9}), rec)

	enough := func() bool { return len(rec.all()) >= 5 }
	runFor(t, s, 5*time.Second, enough)

	records := rec.all()
	if len(records) < 5 {
		t.Fatalf("got %d records, want at least 5", len(records))
	}

	// The first record marks the restart boundary so plots show a gap.
	if !records[0].IsGap() {
		t.Errorf("first record is not a gap marker: %+v", records[0])
	}
	for i, r := range records[1:] {
		if r.IsGap() {
			continue
		}
		if r.Temperature != 21 || r.Humidity != 50 {
			t.Errorf("record %d has unexpected values: %+v", i+1, r)
		}
		if r.Timestamp.IsZero() {
			t.Errorf("record %d has no timestamp", i+1)
		}
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	sens := &fakeSensor{failures: 10, temps: []float64{21}, minInterval: time.Millisecond}
	rec := &memRecorder{}
	s := New(Config{}, sens, newFilter(t, outlier.Config{WindowSize: 9}), rec)

	gotData := func() bool {
		for _, r := range rec.all() {
			if !r.IsGap() {
				return true
			}
		}
		return false
	}
	runFor(t, s, 10*time.Second, gotData)

	if !gotData() {
		t.Fatal("no data recorded despite transient failures clearing")
	}
}

func TestStoreFailureDoesNotStopSampling(t *testing.T) {
	sens := &fakeSensor{temps: []float64{21}, minInterval: time.Millisecond}
	rec := &memRecorder{err: errors.New("disk full")}
	s := New(Config{}, sens, newFilter(t, outlier.Config{WindowSize: 9}), rec)

	kept := func() bool { return len(sens.reads()) >= 5 }
	runFor(t, s, 5*time.Second, kept)

	// The loop must keep reading for future ticks even though every
	// append fails and every sample is dropped.
	if got := len(sens.reads()); got < 5 {
		t.Errorf("sensor read %d times, want at least 5", got)
	}
	if got := len(rec.all()); got != 0 {
		t.Errorf("%d records stored through a failing recorder", got)
	}
}

func TestRejectedOutliersAreNotStored(t *testing.T) {
	// Window size 1: after the first accepted read the median is simply
	// the previous temperature.
	sens := &fakeSensor{temps: []float64{20, 95, 20.5}, minInterval: time.Millisecond}
	rec := &memRecorder{}
	filter := newFilter(t, outlier.Config{Enabled: true, WindowSize: 1, MaxDiff: 5})
	s := New(Config{}, sens, filter, rec)

	enough := func() bool {
		n := 0
		for _, r := range rec.all() {
			if !r.IsGap() {
				n++
			}
		}
		return n >= 2
	}
	runFor(t, s, 5*time.Second, enough)

	for _, r := range rec.all() {
		if !r.IsGap() && r.Temperature == 95 {
			t.Fatalf("outlier reached the store: %+v", r)
		}
	}
}

func TestContinuousModeRespectsHardwareMinimum(t *testing.T) {
	const minInterval = 20 * time.Millisecond
	sens := &fakeSensor{temps: []float64{21}, minInterval: minInterval}
	rec := &memRecorder{}
	// ReadInterval 0 is the continuous-mode sentinel.
	s := New(Config{ReadInterval: 0}, sens, newFilter(t, outlier.Config{WindowSize: 9}), rec)

	enough := func() bool { return len(sens.reads()) >= 5 }
	runFor(t, s, 10*time.Second, enough)

	reads := sens.reads()
	if len(reads) < 2 {
		t.Fatalf("got %d reads, want at least 2", len(reads))
	}
	for i := 1; i < len(reads); i++ {
		if spacing := reads[i].Sub(reads[i-1]); spacing < minInterval {
			t.Errorf("reads %d and %d spaced %v apart, want at least %v",
				i-1, i, spacing, minInterval)
		}
	}
}
