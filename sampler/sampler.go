// Package sampler runs the long-lived loop that drives the sensor, the
// outlier filter, and the store. It is the only writer to both the rolling
// window and the time series, so there are no write-write races to manage:
// readers go through the store's own locking.
package sampler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mweigel/dhtbot/outlier"
	"github.com/mweigel/dhtbot/reading"
	"github.com/mweigel/dhtbot/sensor"
)

const (
	// retryPause is how long to wait after a transient read failure
	// before trying the hardware again.
	retryPause = 200 * time.Millisecond

	// complainEvery rate-limits the "sensor not delivering" warning and
	// the gap markers that go with it.
	complainEvery = 5 * time.Minute
)

var (
	readsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhtbot_sampler_reads_total",
		Help: "The total number of successful sensor reads.",
	})
	readErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhtbot_sampler_read_errors_total",
		Help: "The total number of transient sensor read failures.",
	})
	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dhtbot_sampler_rejected_outliers_total",
		Help: "The total number of readings rejected by the outlier filter.",
	})
)

// Recorder is where accepted records go. *store.Store satisfies it.
type Recorder interface {
	Append(rec reading.Record) error
}

type Config struct {
	// ReadInterval is the spacing between samples. 0 means continuous:
	// sample as fast as the sensor's hardware minimum allows.
	ReadInterval time.Duration

	// Verbose enables per-failure debug logging. Transient read failures
	// are so common on DHT sensors that they are not worth logging by
	// default.
	Verbose bool
}

// Sampler drives read → filter → append at the configured cadence.
type Sampler struct {
	cfg    Config
	sensor sensor.Sensor
	filter *outlier.Filter
	rec    Recorder

	// OnAccept, if set, is called after each successfully appended
	// record. Used to fan accepted records out to publishers.
	OnAccept func(reading.Record)

	// now and sleep are replaced in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func New(cfg Config, s sensor.Sensor, f *outlier.Filter, rec Recorder) *Sampler {
	return &Sampler{
		cfg:    cfg,
		sensor: s,
		filter: f,
		rec:    rec,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Run samples until ctx is canceled. The in-flight read/filter/append cycle
// always completes before Run returns, so cancellation never leaves partial
// state behind. Sensor and store failures are contained here; Run only
// returns on cancellation.
func (s *Sampler) Run(ctx context.Context) {
	interval := s.cfg.ReadInterval
	if floor := s.sensor.MinInterval(); interval < floor {
		// Covers both continuous mode (interval 0) and configurations
		// more ambitious than the hardware.
		interval = floor
	}

	log.Printf("sampler: starting, interval %v", interval)

	// Mark the boundary so a plot spanning the restart shows a gap
	// rather than a line through downtime.
	s.append(reading.Gap(s.now()))

	firstRead := true
	nextRead := s.now()
	lastComplain := s.now()

	for {
		if ctx.Err() != nil {
			log.Print("sampler: stopped")
			return
		}

		// Complain if the sensor has not delivered for a whole
		// interval past the scheduled read, but not too often.
		if now := s.now(); now.After(nextRead.Add(interval)) && now.Sub(lastComplain) > complainEvery {
			log.Print("sampler: could not read from sensor within time")
			lastComplain = now
			s.append(reading.Gap(now))
		}

		rec := reading.Record{}
		if err := s.sensor.Sense(&rec); err != nil {
			readErrorsTotal.Inc()
			if !errors.Is(err, sensor.ErrTransient) || s.cfg.Verbose {
				log.Printf("sampler: read failed: %v", err)
			}
			if !s.sleep(ctx, retryPause) {
				log.Print("sampler: stopped")
				return
			}
			continue
		}
		rec.Timestamp = s.now()
		readsTotal.Inc()

		if firstRead {
			firstRead = false
			log.Print("sampler: sensor working")
		}

		if s.filter.Accept(rec) {
			s.append(rec)
		} else {
			rejectedTotal.Inc()
			log.Printf("sampler: rejected outlier: %.2f °C (window median %.2f °C)",
				rec.Temperature, s.filter.Median())
		}

		// Keep the configured cadence, but never re-read faster than
		// the hardware minimum even when we are behind schedule.
		nextRead = nextRead.Add(interval)
		earliest := rec.Timestamp.Add(s.sensor.MinInterval())
		if earliest.After(nextRead) {
			nextRead = earliest
		}
		if d := nextRead.Sub(s.now()); d > 0 {
			if !s.sleep(ctx, d) {
				log.Print("sampler: stopped")
				return
			}
		}
	}
}

// append writes a record to the store. Persistence failures are reported
// and the sample dropped; the loop keeps running for future ticks.
func (s *Sampler) append(rec reading.Record) {
	if err := s.rec.Append(rec); err != nil {
		log.Printf("sampler: failed to store record: %v", err)
		return
	}
	if s.OnAccept != nil {
		s.OnAccept(rec)
	}
}

// sleepCtx sleeps for d or until ctx is canceled. It reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
