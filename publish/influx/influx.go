// Package influx mirrors accepted records into an InfluxDB bucket.
package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mweigel/dhtbot/reading"
)

type Config struct {
	ServerURL string `json:"server_url"`
	Token     string `json:"token"`
	Org       string `json:"org"`
	Bucket    string `json:"bucket"`
}

type Publisher struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func New(cfg Config) *Publisher {
	client := influxdb2.NewClient(cfg.ServerURL, cfg.Token)
	return &Publisher{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (p *Publisher) Publish(ctx context.Context, rec reading.Record) error {
	if rec.IsGap() {
		return nil
	}

	point := influxdb2.NewPoint("dht",
		nil,
		map[string]interface{}{
			"temperature": rec.Temperature,
			"humidity":    rec.Humidity,
		},
		rec.Timestamp)

	if err := p.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influx: %v", err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Close()
}
