// Package reading defines the value type produced by sensors and stored in
// the time series, along with its line-oriented persisted encoding.
package reading

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the timestamp layout used in record lines. It contains a
// space, so a marshaled record is always at least four fields.
const TimeFormat = "2006-01-02 15:04:05"

// Record is a single sensor sample: a timestamp, a temperature in °C, and a
// relative humidity in percent. It is never mutated after creation.
type Record struct {
	Timestamp   time.Time
	Temperature float64
	Humidity    float64
}

// Gap returns a record that marks a span of time in which the sensor
// produced no data. Plots break their lines at gap records.
func Gap(ts time.Time) Record {
	return Record{
		Timestamp:   ts,
		Temperature: math.NaN(),
		Humidity:    math.NaN(),
	}
}

// IsGap reports whether r is a gap marker.
func (r Record) IsGap() bool {
	return math.IsNaN(r.Temperature) || math.IsNaN(r.Humidity)
}

// MarshalLine encodes r as a single record line, without a trailing newline.
func (r Record) MarshalLine() string {
	return fmt.Sprintf("%s %.2f %.2f", r.Timestamp.Format(TimeFormat), r.Temperature, r.Humidity)
}

func (r Record) String() string {
	return fmt.Sprintf("%s\nTemperature: %.2f °C\nHumidity: %.2f %%",
		r.Timestamp.Format(TimeFormat), r.Temperature, r.Humidity)
}

// ParseLine decodes a record line. Tokens beyond the first four are ignored
// so that new optional fields can be appended without breaking old readers.
func ParseLine(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Record{}, fmt.Errorf("reading: record line has %d fields, want at least 4", len(fields))
	}

	ts, err := time.ParseInLocation(TimeFormat, fields[0]+" "+fields[1], time.Local)
	if err != nil {
		return Record{}, fmt.Errorf("reading: bad timestamp: %v", err)
	}

	temp, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Record{}, fmt.Errorf("reading: bad temperature: %v", err)
	}

	hum, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Record{}, fmt.Errorf("reading: bad humidity: %v", err)
	}

	return Record{
		Timestamp:   ts,
		Temperature: temp,
		Humidity:    hum,
	}, nil
}
