// Package outlier implements a rolling-median acceptance test for sensor
// readings. DHT-class sensors occasionally deliver wildly wrong values with
// a valid checksum; comparing each candidate against the median of the last
// few accepted temperatures rejects those spikes without tracking the
// signal's absolute level.
//
// Only temperature is filtered. Humidity is recorded as-is: temperature is
// the failure-prone signal on these sensors.
package outlier

import (
	"fmt"
	"math"
	"sort"

	"github.com/mweigel/dhtbot/reading"
)

type Config struct {
	// Enabled turns the filter on. When false every candidate is
	// accepted, but the window is still maintained so the filter has
	// warm history if it is ever enabled.
	Enabled bool

	// WindowSize is the number of accepted temperatures the rolling
	// window holds. Must be odd so the median is the middle element.
	WindowSize int

	// MaxDiff is the largest accepted distance from the window median,
	// in °C. The boundary is inclusive: a candidate exactly MaxDiff away
	// is accepted.
	MaxDiff float64
}

// Filter holds the rolling window of accepted temperatures. It is not safe
// for concurrent use; the sampling loop is its only caller.
type Filter struct {
	cfg    Config
	window []float64
}

func New(cfg Config) (*Filter, error) {
	if cfg.WindowSize < 1 || cfg.WindowSize%2 == 0 {
		return nil, fmt.Errorf("outlier: window size must be a positive odd number, got %d", cfg.WindowSize)
	}
	if cfg.Enabled && (cfg.MaxDiff <= 0 || math.IsNaN(cfg.MaxDiff)) {
		return nil, fmt.Errorf("outlier: max diff must be positive, got %v", cfg.MaxDiff)
	}

	return &Filter{
		cfg:    cfg,
		window: make([]float64, 0, cfg.WindowSize),
	}, nil
}

// Accept decides whether the candidate should be recorded, and on
// acceptance pushes its temperature into the rolling window. Until the
// window is full every candidate is accepted: there is no history to
// compare against yet.
func (f *Filter) Accept(r reading.Record) bool {
	if f.cfg.Enabled && len(f.window) >= f.cfg.WindowSize {
		if math.Abs(r.Temperature-f.Median()) > f.cfg.MaxDiff {
			return false
		}
	}

	f.push(r.Temperature)
	return true
}

// Median returns the middle element of the sorted window. With fewer than
// WindowSize entries it is the middle of what is there; callers only rely
// on it once the window is full.
func (f *Filter) Median() float64 {
	if len(f.window) == 0 {
		return math.NaN()
	}

	sorted := make([]float64, len(f.window))
	copy(sorted, f.window)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

// Len returns the number of entries currently in the window.
func (f *Filter) Len() int {
	return len(f.window)
}

func (f *Filter) push(v float64) {
	if len(f.window) == f.cfg.WindowSize {
		copy(f.window, f.window[1:])
		f.window = f.window[:len(f.window)-1]
	}
	f.window = append(f.window, v)
}
