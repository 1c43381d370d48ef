// Package sensor defines the interface implemented by all hardware drivers.
package sensor

import (
	"errors"
	"time"

	"github.com/mweigel/dhtbot/reading"
)

// ErrTransient indicates that a single read attempt failed and that the
// caller should simply try again on its own schedule. Checksum mismatches
// and wire timeouts are routine for the sensors this program targets, so
// there is no fatal read error, only repeated transient ones.
var ErrTransient = errors.New("sensor: transient read failure")

type Sensor interface {
	// Init performs any sensor-specific initialization.
	Init() error
	// Sense performs one blocking hardware read and sets the temperature
	// and humidity fields of the given Record. The caller owns the
	// timestamp. A failed read returns an error wrapping ErrTransient.
	Sense(r *reading.Record) error
	// MinInterval returns the shortest spacing between successive reads
	// the hardware supports. Reads issued faster than this return stale
	// or garbage data on these sensor families.
	MinInterval() time.Duration
	// Shutdown performs any sensor-specific shutdown or cleanup operations.
	Shutdown() error
}
