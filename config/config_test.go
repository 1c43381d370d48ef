package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `{
	"dht": {"type": "dummy"},
	"telegram": {"token": "123:abc", "owner_ids": [42]}
}`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Everything omitted gets a sane default.
	if cfg.General.RecordPath == "" {
		t.Error("no default record path")
	}
	if cfg.Outlier.RollingMedianSize%2 == 0 {
		t.Errorf("default rolling median size %d is even", cfg.Outlier.RollingMedianSize)
	}
	if cfg.Plot.Width <= 0 || cfg.Plot.Height <= 0 || cfg.Plot.DPI <= 0 {
		t.Errorf("bad default plot geometry: %+v", cfg.Plot)
	}
	if got := cfg.ReadInterval(); got != 0 {
		t.Errorf("ReadInterval() = %v, want 0 (continuous)", got)
	}
	if got := cfg.RetentionAge(); got != 0 {
		t.Errorf("RetentionAge() = %v, want 0 (keep forever)", got)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{
		"general": {"record_path": "data/dht.rec", "record_days": 30, "log_path": "dht.log", "debug_port": 8080},
		"dht": {"read_interval": 60, "type": "DHT22", "gpio": "GPIO4"},
		"outlier": {"enable": true, "rolling_median_size": 9, "median_max_diff": 5},
		"telegram": {"token": "123:abc", "owner_ids": [42, 43]},
		"plot": {"path": "dht.png", "width": 10, "height": 6, "dpi": 120},
		"publish": {"mqtt": {"broker": "tcp://localhost:1883", "topic": "home/dht"}}
	}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got, want := cfg.ReadInterval(), time.Minute; got != want {
		t.Errorf("ReadInterval() = %v, want %v", got, want)
	}
	if got, want := cfg.RetentionAge(), 30*24*time.Hour; got != want {
		t.Errorf("RetentionAge() = %v, want %v", got, want)
	}
	if cfg.Publish.MQTT == nil {
		t.Error("MQTT publish config not loaded")
	}
	if cfg.Publish.Influx != nil {
		t.Error("Influx publish config loaded from nothing")
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			"bad_sensor_type",
			`{"dht": {"type": "DHT99"}, "telegram": {"token": "t", "owner_ids": [1]}}`,
		},
		{
			"missing_gpio",
			`{"dht": {"type": "DHT22"}, "telegram": {"token": "t", "owner_ids": [1]}}`,
		},
		{
			"even_median_size",
			`{"dht": {"type": "dummy"}, "outlier": {"enable": true, "rolling_median_size": 4, "median_max_diff": 5}, "telegram": {"token": "t", "owner_ids": [1]}}`,
		},
		{
			"zero_max_diff",
			`{"dht": {"type": "dummy"}, "outlier": {"enable": true, "rolling_median_size": 9, "median_max_diff": 0}, "telegram": {"token": "t", "owner_ids": [1]}}`,
		},
		{
			"negative_read_interval",
			`{"dht": {"type": "dummy", "read_interval": -1}, "telegram": {"token": "t", "owner_ids": [1]}}`,
		},
		{
			"negative_record_days",
			`{"general": {"record_days": -1}, "dht": {"type": "dummy"}, "telegram": {"token": "t", "owner_ids": [1]}}`,
		},
		{
			"missing_token",
			`{"dht": {"type": "dummy"}, "telegram": {"owner_ids": [1]}}`,
		},
		{
			"no_owners",
			`{"dht": {"type": "dummy"}, "telegram": {"token": "t", "owner_ids": []}}`,
		},
		{
			"unknown_field",
			`{"dht": {"type": "dummy"}, "telegram": {"token": "t", "owner_ids": [1]}, "typo_section": {}}`,
		},
		{
			"not_json",
			`read_interval = 60`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, c.content)); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestErrorNamesField(t *testing.T) {
	_, err := Load(writeConfig(t, `{"dht": {"type": "dummy"}, "telegram": {"owner_ids": [1]}}`))

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("error is %T, want *Error", err)
	}
	if cerr.Field != "telegram.token" {
		t.Errorf("Error.Field = %q, want %q", cerr.Field, "telegram.token")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
