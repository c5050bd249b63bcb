package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig contains MQTT publisher settings
type MQTTConfig struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://)
	Broker string
	// ClientID identifies this bridge on the broker
	ClientID string
	// QoS for frame messages (0 recommended for live video)
	QoS byte
	// QueueDepth is the outbound queue size (DefaultQueueDepth if <= 0)
	QueueDepth int
	// PublishTimeout bounds each broker acknowledgement wait
	PublishTimeout time.Duration
}

// MQTTPublisher publishes frames to an MQTT broker.
// Each (topic, body) pair becomes a single MQTT publish, which is atomic.
type MQTTPublisher struct {
	*queue

	cfg    MQTTConfig
	client mqtt.Client

	connected atomic.Bool
}

// NewMQTTPublisher creates an unconnected MQTT publisher
func NewMQTTPublisher(cfg MQTTConfig) *MQTTPublisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}

	p := &MQTTPublisher{cfg: cfg}
	p.queue = newQueue("mqtt", cfg.QueueDepth, p.write)

	return p
}

// Connect establishes connection to the broker
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		p.connected.Store(true)
		slog.Info("mqtt publisher connected",
			"broker", p.cfg.Broker,
			"client_id", p.cfg.ClientID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.connected.Store(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", p.cfg.Broker,
		)
	}

	p.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", p.cfg.Broker)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	p.connected.Store(true)
	return nil
}

// Client returns the underlying MQTT client (nil before Connect)
func (p *MQTTPublisher) Client() mqtt.Client {
	return p.client
}

// IsConnected reports the broker connection state
func (p *MQTTPublisher) IsConnected() bool {
	return p.connected.Load()
}

// Close stops the writer and disconnects
func (p *MQTTPublisher) Close() error {
	p.queue.close()

	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		slog.Info("mqtt publisher disconnected")
	}
	p.connected.Store(false)

	return nil
}

func (p *MQTTPublisher) write(m Message) error {
	if p.client == nil || !p.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}

	token := p.client.Publish(m.Topic, p.cfg.QoS, false, m.Body)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	return nil
}

// brokerURL accepts bare host:port the way the orion config does
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
