package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

const publishTimeout = 2 * time.Second

// MQTTPublisher publishes to a broker through a paho client
type MQTTPublisher struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	logger    *logger.Logger
	connected atomic.Bool
}

// NewMQTTPublisher creates a publisher. The bridge status topic doubles as
// the broker's last will.
func NewMQTTPublisher(cfg config.MQTTConfig, log *logger.Logger) *MQTTPublisher {
	p := &MQTTPublisher{cfg: cfg, logger: log.Named("mqtt")}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(StatusTopic(cfg.TopicPrefix), "offline", cfg.QoS, true)

	opts.OnConnect = func(mqtt.Client) {
		p.connected.Store(true)
		p.logger.Info("MQTT connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.connected.Store(false)
		p.logger.Warn("MQTT connection lost, reconnecting", "broker", cfg.Broker, "error", err)
	}

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect waits for the first connection, bounded by ctx
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.logger.Info("Connecting to MQTT broker", "broker", p.cfg.Broker)
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.connected.Store(true)
	return nil
}

// Connected reports whether the client currently holds a connection
func (p *MQTTPublisher) Connected() bool {
	return p.connected.Load()
}

// Publish sends one message
func (p *MQTTPublisher) Publish(topic string, retained bool, payload []byte) error {
	if !p.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}
	token := p.client.Publish(topic, p.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.connected.Store(false)
	p.client.Disconnect(250)
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
