// Package dummy implements a fake sensor for development on machines
// without real hardware. It produces a slow random walk around room
// conditions.
package dummy

import (
	"math/rand"
	"time"

	"github.com/mweigel/dhtbot/reading"
)

type Dummy struct {
	temp float64
	hum  float64
}

func New() *Dummy {
	return &Dummy{
		temp: 21.0,
		hum:  45.0,
	}
}

func (d *Dummy) Init() error {
	return nil
}

func (d *Dummy) MinInterval() time.Duration {
	return 100 * time.Millisecond
}

func (d *Dummy) Sense(r *reading.Record) error {
	d.temp += rand.Float64()*0.4 - 0.2
	d.hum += rand.Float64()*1.0 - 0.5
	if d.hum < 0 {
		d.hum = 0
	}
	if d.hum > 100 {
		d.hum = 100
	}

	r.Temperature = d.temp
	r.Humidity = d.hum
	return nil
}

func (d *Dummy) Shutdown() error {
	return nil
}
