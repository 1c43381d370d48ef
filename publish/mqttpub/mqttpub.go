// Package mqttpub publishes accepted records to an MQTT topic as JSON.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mweigel/dhtbot/reading"
)

const connectTimeout = 10 * time.Second

type Config struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Publisher struct {
	client mqtt.Client
	topic  string
}

// message is the wire shape of one record. Fields are only ever added, so
// downstream consumers can rely on the existing ones.
type message struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

func New(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts = opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(connectTimeout); !ok {
		return nil, fmt.Errorf("mqttpub: connect to %s timed out after %v", cfg.Broker, connectTimeout)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("mqttpub: failed to connect to %s: %v", cfg.Broker, token.Error())
	}

	return &Publisher{
		client: client,
		topic:  cfg.Topic,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, rec reading.Record) error {
	if rec.IsGap() {
		// NaN is not valid JSON; gaps stay local.
		return nil
	}

	b, err := json.Marshal(message{
		Timestamp:   rec.Timestamp,
		Temperature: rec.Temperature,
		Humidity:    rec.Humidity,
	})
	if err != nil {
		return fmt.Errorf("mqttpub: %v", err)
	}

	token := p.client.Publish(p.topic, 1, false, b)
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(connectTimeout)
	}
	if ok := token.WaitTimeout(time.Until(deadline)); !ok {
		return fmt.Errorf("mqttpub: publish timed out")
	} else if token.Error() != nil {
		return fmt.Errorf("mqttpub: failed to publish: %v", token.Error())
	}

	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
