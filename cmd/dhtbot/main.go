// Program dhtbot periodically samples a temperature/humidity sensor,
// filters outlier readings, records the time series to disk, and serves it
// over a Telegram bot with on-demand plotting.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"
	"periph.io/x/host/v3"

	"github.com/mweigel/dhtbot/bot"
	"github.com/mweigel/dhtbot/config"
	"github.com/mweigel/dhtbot/outlier"
	"github.com/mweigel/dhtbot/plot"
	"github.com/mweigel/dhtbot/publish"
	"github.com/mweigel/dhtbot/publish/influx"
	"github.com/mweigel/dhtbot/publish/mqttpub"
	"github.com/mweigel/dhtbot/query"
	"github.com/mweigel/dhtbot/sampler"
	"github.com/mweigel/dhtbot/sensor"
	"github.com/mweigel/dhtbot/sensor/bme280"
	"github.com/mweigel/dhtbot/sensor/dht"
	"github.com/mweigel/dhtbot/sensor/dummy"
	"github.com/mweigel/dhtbot/store"
)

// connectAttempts bounds how long we wait at boot for the network and the
// Telegram API to come up.
const connectAttempts = 60

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "config.json", "path to the JSON config file")
}

func newSensor(cfg config.Config) (sensor.Sensor, error) {
	switch cfg.DHT.Type {
	case "DHT11", "DHT22":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize periph: %v", err)
		}
		return dht.New(cfg.DHT.GPIO, dht.Model(cfg.DHT.Type))
	case "BME280":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize periph: %v", err)
		}
		addr := cfg.DHT.I2CAddr
		if addr == 0 {
			addr = bme280.DefaultAddr
		}
		return bme280.New(cfg.DHT.I2CBus, addr)
	case "dummy":
		return dummy.New(), nil
	}
	return nil, fmt.Errorf("unknown sensor type %q", cfg.DHT.Type)
}

func newPublishers(cfg config.Config) (publish.Fanout, error) {
	var fanout publish.Fanout
	if cfg.Publish.MQTT != nil {
		p, err := mqttpub.New(*cfg.Publish.MQTT)
		if err != nil {
			return nil, err
		}
		fanout = append(fanout, p)
	}
	if cfg.Publish.Influx != nil {
		fanout = append(fanout, influx.New(*cfg.Publish.Influx))
	}
	return fanout, nil
}

// connectBot retries bot creation so a boot-time start works even while the
// network is still coming up.
func connectBot(cfg config.Config, facade query.Facade) (*bot.Bot, error) {
	botCfg := bot.Config{
		Token:    cfg.Telegram.Token,
		OwnerIDs: cfg.Telegram.OwnerIDs,
		PlotPath: cfg.Plot.Path,
		PlotOpts: plot.Options{
			Width:  cfg.Plot.Width,
			Height: cfg.Plot.Height,
			DPI:    cfg.Plot.DPI,
		},
		LogPath: cfg.General.LogPath,
	}

	var err error
	for i := 0; i < connectAttempts; i++ {
		var b *bot.Bot
		if b, err = bot.New(botCfg, facade); err == nil {
			return b, nil
		}
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("could not reach the Telegram API: %v", err)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	// Log both to stdout and to the file /log tails.
	logFile, err := os.OpenFile(cfg.General.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	log.Print("Starting")

	st, err := store.Open(cfg.General.RecordPath)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}

	filter, err := outlier.New(outlier.Config{
		Enabled:    cfg.Outlier.Enable,
		WindowSize: cfg.Outlier.RollingMedianSize,
		MaxDiff:    cfg.Outlier.MedianMaxDiff,
	})
	if err != nil {
		log.Fatal(err)
	}

	sens, err := newSensor(cfg)
	if err != nil {
		log.Fatalf("Failed to set up sensor: %v", err)
	}
	if err := sens.Init(); err != nil {
		log.Fatalf("Failed to initialize sensor: %v", err)
	}

	fanout, err := newPublishers(cfg)
	if err != nil {
		log.Fatalf("Failed to set up publishers: %v", err)
	}

	smp := sampler.New(sampler.Config{ReadInterval: cfg.ReadInterval()}, sens, filter, st)
	if len(fanout) > 0 {
		smp.OnAccept = fanout.Publish
	}

	facade := query.New(st)

	log.Print("Waiting for the Telegram API to become accessible...")
	b, err := connectBot(cfg, facade)
	if err != nil {
		log.Fatal(err)
	}
	log.Print("Telegram API access working")

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	// Retention: enforce at startup, then daily shortly after the store
	// has rotated at midnight.
	if err := st.PurgeOlderThan(cfg.RetentionAge()); err != nil {
		log.Printf("Purge failed: %v", err)
	}
	cr := cron.New()
	cr.AddFunc("5 0 * * *", func() {
		if err := st.PurgeOlderThan(cfg.RetentionAge()); err != nil {
			log.Printf("Purge failed: %v", err)
		}
	})
	cr.Start()

	samplerDone := make(chan struct{})
	go func() {
		smp.Run(ctx)
		close(samplerDone)
	}()
	go b.Run(ctx)

	if cfg.General.DebugPort != 0 {
		go serveDebug(cfg.General.DebugPort, facade)
	}

	b.NotifyOwners("Hello there, I'm back!")

	<-ctx.Done()
	log.Print("Shutting down")
	b.NotifyOwners("Terminating now.")

	// Let the in-flight read/append cycle finish so nothing is half
	// written, then release everything in dependency order.
	<-samplerDone
	cr.Stop()
	if err := sens.Shutdown(); err != nil {
		log.Printf("Sensor shutdown failed: %v", err)
	}
	fanout.Close()
	if err := st.Close(); err != nil {
		log.Printf("Store close failed: %v", err)
	}
	log.Print("Cleanup done")
}
