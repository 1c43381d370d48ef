// Package dht reads DHT11 and DHT22 temperature/humidity sensors over a
// single GPIO line.
//
// The DHT wire protocol is timing-based: after a start signal from the host
// the sensor answers with 40 bits, each encoded in the length of a high
// pulse. Reads fail routinely (bad checksum, missed edges under scheduler
// jitter); callers are expected to retry on their own schedule.
package dht

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"github.com/mweigel/dhtbot/reading"
	"github.com/mweigel/dhtbot/sensor"
)

type Model string

const (
	DHT11 Model = "DHT11"
	DHT22 Model = "DHT22"
)

const (
	// The datasheets specify a minimum of 2s between reads for both
	// models. Faster reads return the previous conversion.
	minInterval = 2 * time.Second

	// A high pulse longer than this encodes a 1 bit. Zeros are specified
	// as 26-28µs and ones as 70µs.
	oneThreshold = 50 * time.Microsecond

	// Upper bound on waiting for any single level transition.
	edgeTimeout = time.Millisecond
)

type DHT struct {
	pin   gpio.PinIO
	model Model
}

// New creates a driver for the given model on the named GPIO pin, e.g.
// "GPIO4". The pin is looked up via the periph gpio registry, so host.Init
// must have been called first.
func New(pinName string, model Model) (*DHT, error) {
	if model != DHT11 && model != DHT22 {
		return nil, fmt.Errorf("dht: unknown model %q", model)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("dht: no such pin %q", pinName)
	}

	return &DHT{
		pin:   pin,
		model: model,
	}, nil
}

func (d *DHT) Init() error {
	// Idle high until the first read.
	return d.pin.Out(gpio.High)
}

func (d *DHT) MinInterval() time.Duration {
	return minInterval
}

func (d *DHT) Sense(r *reading.Record) error {
	b, err := d.readBits()
	if err != nil {
		return fmt.Errorf("%w: %v", sensor.ErrTransient, err)
	}

	if sum := b[0] + b[1] + b[2] + b[3]; sum != b[4] {
		return fmt.Errorf("%w: checksum mismatch (got %#x, want %#x)", sensor.ErrTransient, sum, b[4])
	}

	switch d.model {
	case DHT11:
		r.Humidity = float64(b[0]) + float64(b[1])*0.1
		r.Temperature = float64(b[2]) + float64(b[3])*0.1
	case DHT22:
		r.Humidity = float64(uint16(b[0])<<8|uint16(b[1])) / 10
		t := float64(uint16(b[2]&0x7f)<<8|uint16(b[3])) / 10
		if b[2]&0x80 != 0 {
			t = -t
		}
		r.Temperature = t
	}

	return nil
}

func (d *DHT) Shutdown() error {
	// Release the line.
	return d.pin.In(gpio.PullNoChange, gpio.NoEdge)
}

// readBits performs the start handshake and samples the 40-bit response.
// It busy-polls the pin; edge-interrupt latency through the kernel is too
// variable to time 30µs pulses.
func (d *DHT) readBits() ([5]byte, error) {
	var b [5]byte

	// Start signal: hold the line low, then hand it back to the sensor.
	if err := d.pin.Out(gpio.Low); err != nil {
		return b, err
	}
	if d.model == DHT11 {
		time.Sleep(18 * time.Millisecond)
	} else {
		time.Sleep(2 * time.Millisecond)
	}
	if err := d.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return b, err
	}

	// Sensor response: ~80µs low, ~80µs high, then the bit stream.
	if _, err := d.waitLevel(gpio.Low); err != nil {
		return b, fmt.Errorf("no response: %v", err)
	}
	if _, err := d.waitLevel(gpio.High); err != nil {
		return b, fmt.Errorf("response stuck low: %v", err)
	}
	if _, err := d.waitLevel(gpio.Low); err != nil {
		return b, fmt.Errorf("response stuck high: %v", err)
	}

	for i := 0; i < 40; i++ {
		// ~50µs low sync, then the data pulse.
		if _, err := d.waitLevel(gpio.High); err != nil {
			return b, fmt.Errorf("bit %d: %v", i, err)
		}
		high, err := d.waitLevel(gpio.Low)
		if err != nil {
			return b, fmt.Errorf("bit %d: %v", i, err)
		}

		b[i/8] <<= 1
		if high > oneThreshold {
			b[i/8] |= 1
		}
	}

	return b, nil
}

// waitLevel polls until the pin reads l and returns how long it took.
func (d *DHT) waitLevel(l gpio.Level) (time.Duration, error) {
	start := time.Now()
	for d.pin.Read() != l {
		if elapsed := time.Since(start); elapsed > edgeTimeout {
			return elapsed, fmt.Errorf("timeout waiting for %s", l)
		}
	}
	return time.Since(start), nil
}
