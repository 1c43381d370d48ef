// Package bme280 reads a Bosch BME280 temperature/humidity sensor over I²C.
package bme280

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"

	"github.com/mweigel/dhtbot/reading"
	"github.com/mweigel/dhtbot/sensor"
)

// DefaultAddr is the common BME280 breakout board address.
const DefaultAddr uint16 = 0x76

type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// New opens the named I²C bus (empty string for the default bus) and
// configures the sensor at addr. host.Init must have been called first.
func New(busName string, addr uint16) (*BME280, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("bme280: failed to open I²C bus: %v", err)
	}

	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("bme280: %v", err)
	}

	return &BME280{
		bus: bus,
		dev: dev,
	}, nil
}

func (s *BME280) Init() error {
	return nil
}

func (s *BME280) MinInterval() time.Duration {
	return time.Second
}

func (s *BME280) Sense(r *reading.Record) error {
	var env physic.Env
	if err := s.dev.Sense(&env); err != nil {
		return fmt.Errorf("%w: %v", sensor.ErrTransient, err)
	}

	r.Temperature = env.Temperature.Celsius()
	r.Humidity = float64(env.Humidity) / float64(physic.PercentRH)
	return nil
}

func (s *BME280) Shutdown() error {
	if err := s.dev.Halt(); err != nil {
		s.bus.Close()
		return err
	}
	return s.bus.Close()
}
