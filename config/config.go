// Package config loads and validates the JSON config file. Validation is
// strict and happens once at startup: a bad config is fatal immediately,
// never at runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/mweigel/dhtbot/publish/influx"
	"github.com/mweigel/dhtbot/publish/mqttpub"
)

// SensorTypes are the accepted values for dht.type.
var SensorTypes = []string{"DHT11", "DHT22", "BME280", "dummy"}

// Error describes an invalid configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

type Config struct {
	General struct {
		// RecordPath is the active record file; day segments live
		// next to it.
		RecordPath string `json:"record_path"`
		// RecordDays is the retention in days. 0 keeps records forever.
		RecordDays int    `json:"record_days"`
		LogPath    string `json:"log_path"`
		// DebugPort serves the status page and /metrics. 0 disables.
		DebugPort int `json:"debug_port"`
	} `json:"general"`

	DHT struct {
		// ReadInterval is the sampling interval in seconds. 0 means
		// continuous, limited only by the sensor hardware.
		ReadInterval float64 `json:"read_interval"`
		Type         string  `json:"type"`
		// GPIO names the data pin for DHT sensors, e.g. "GPIO4".
		GPIO string `json:"gpio"`
		// I2CBus and I2CAddr locate BME280 sensors. An empty bus
		// means the platform default.
		I2CBus  string `json:"i2c_bus"`
		I2CAddr uint16 `json:"i2c_addr"`
	} `json:"dht"`

	Outlier struct {
		Enable            bool    `json:"enable"`
		RollingMedianSize int     `json:"rolling_median_size"`
		MedianMaxDiff     float64 `json:"median_max_diff"`
	} `json:"outlier"`

	Telegram struct {
		Token    string  `json:"token"`
		OwnerIDs []int64 `json:"owner_ids"`
	} `json:"telegram"`

	Plot struct {
		Path   string  `json:"path"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		DPI    int     `json:"dpi"`
	} `json:"plot"`

	Publish struct {
		MQTT   *mqttpub.Config `json:"mqtt"`
		Influx *influx.Config  `json:"influx"`
	} `json:"publish"`
}

// Load reads, defaults, and validates the config file at path.
func Load(path string) (Config, error) {
	var cfg Config

	// Defaults for everything a minimal config may omit.
	cfg.General.RecordPath = "dhtbot.rec"
	cfg.General.LogPath = "dhtbot.log"
	cfg.Outlier.RollingMedianSize = 9
	cfg.Outlier.MedianMaxDiff = 5
	cfg.Plot.Path = "dhtbot.png"
	cfg.Plot.Width = 8
	cfg.Plot.Height = 5
	cfg.Plot.DPI = 100

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %v", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %v", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	for _, p := range []*string{&cfg.General.RecordPath, &cfg.General.LogPath, &cfg.Plot.Path} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return Config{}, fmt.Errorf("config: %v", err)
		}
		*p = expanded
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.General.RecordDays < 0 {
		return &Error{"general.record_days", "must not be negative"}
	}

	if c.DHT.ReadInterval < 0 {
		return &Error{"dht.read_interval", "must not be negative"}
	}
	if !validSensorType(c.DHT.Type) {
		return &Error{"dht.type", fmt.Sprintf("must be one of %s", strings.Join(SensorTypes, ", "))}
	}
	if (c.DHT.Type == "DHT11" || c.DHT.Type == "DHT22") && c.DHT.GPIO == "" {
		return &Error{"dht.gpio", "required for DHT sensors"}
	}

	if c.Outlier.RollingMedianSize < 1 || c.Outlier.RollingMedianSize%2 == 0 {
		return &Error{"outlier.rolling_median_size", "must be a positive odd number"}
	}
	if c.Outlier.Enable && c.Outlier.MedianMaxDiff <= 0 {
		return &Error{"outlier.median_max_diff", "must be positive"}
	}

	if c.Telegram.Token == "" {
		return &Error{"telegram.token", "required"}
	}
	if len(c.Telegram.OwnerIDs) == 0 {
		return &Error{"telegram.owner_ids", "at least one owner required"}
	}

	if c.Plot.Width <= 0 || c.Plot.Height <= 0 {
		return &Error{"plot.width", "width and height must be positive"}
	}
	if c.Plot.DPI <= 0 {
		return &Error{"plot.dpi", "must be positive"}
	}

	if c.Publish.MQTT != nil && (c.Publish.MQTT.Broker == "" || c.Publish.MQTT.Topic == "") {
		return &Error{"publish.mqtt", "broker and topic required"}
	}
	if c.Publish.Influx != nil && c.Publish.Influx.ServerURL == "" {
		return &Error{"publish.influx", "server_url required"}
	}

	return nil
}

func validSensorType(t string) bool {
	for _, s := range SensorTypes {
		if t == s {
			return true
		}
	}
	return false
}

// ReadInterval returns the configured sampling interval as a duration.
func (c *Config) ReadInterval() time.Duration {
	return time.Duration(c.DHT.ReadInterval * float64(time.Second))
}

// RetentionAge returns how old a record may become before purging, or 0 if
// retention is disabled.
func (c *Config) RetentionAge() time.Duration {
	return time.Duration(c.General.RecordDays) * 24 * time.Hour
}
