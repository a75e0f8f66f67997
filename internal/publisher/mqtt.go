// Package publisher pushes written reports to an MQTT broker as retained
// messages, so dashboards subscribing late still get the latest report.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/bwusage/internal/config"
)

// client is the part of mqtt.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher is a report sink backed by MQTT
type Publisher struct {
	client      client
	topicPrefix string
	logger      *slog.Logger
}

// New connects to the broker in cfg
func New(cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTT.Broker))
	opts.SetClientID("bwusage")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", cfg.MQTT.Broker, "err", err)
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	logger.Info("connected to MQTT broker", "broker", cfg.MQTT.Broker)

	return newPublisher(c, cfg.GetTopicPrefix(), logger), nil
}

func newPublisher(c client, topicPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{client: c, topicPrefix: topicPrefix, logger: logger}
}

// Topic returns the topic a report is published on
func (p *Publisher) Topic(name string) string {
	return p.topicPrefix + "/" + name
}

// Publish sends payload retained at QoS 1 and waits for the broker ack or ctx
func (p *Publisher) Publish(ctx context.Context, name string, payload []byte) error {
	topic := p.Topic(name)
	token := p.client.Publish(topic, 1, true, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	p.logger.Debug("report published", "topic", topic, "bytes", len(payload))
	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
