package relay

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/observability/metrics"
)

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	QoS           byte
	Subscriptions []string
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	MessageBuffer     int
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		MessageBuffer:     64,
	}
}

// Client is an MQTT connection that subscribes to the relay topics and
// publishes results. Inbound messages are delivered on Messages.
type Client struct {
	config   Config
	internal mqtt.Client
	mu       sync.Mutex
	metrics  *metrics.MQTTMetrics

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client for the bridge settings. It does not connect.
func NewClient(settings *conf.BridgeSettings, m *metrics.MQTTMetrics) *Client {
	cfg := DefaultConfig()
	cfg.Broker = settings.Broker
	cfg.ClientID = settings.ClientID
	if cfg.ClientID == "" {
		cfg.ClientID = "foodnet-relay-" + uuid.NewString()[:8]
	}
	cfg.Username = settings.Username
	cfg.Password = settings.Password
	cfg.QoS = byte(settings.QoS)
	cfg.Subscriptions = []string{settings.Topics.Images, settings.Topics.ConfirmedLabels}
	return NewClientWithConfig(cfg, m)
}

// NewClientWithConfig creates a client from an explicit Config.
func NewClientWithConfig(cfg Config, m *metrics.MQTTMetrics) *Client {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = def.MessageBuffer
	}
	return &Client{
		config:   cfg,
		metrics:  m,
		messages: make(chan Message, cfg.MessageBuffer),
		done:     make(chan struct{}),
	}
}

// Messages returns the inbound message channel. It is never closed; stop
// reading when the relay context ends.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Connect resolves the broker host and connects. Subscriptions are
// (re)established on every successful connect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid broker URL %q", c.config.Broker).
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(fmt.Errorf("failed to resolve broker host %s: %w", host, err)).
				Category(errors.CategoryMQTTConnection).
				NetworkContext(c.config.Broker, c.config.ConnectTimeout).
				Build()
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internal = mqtt.NewClient(opts)

	token := c.internal.Connect()
	if err := waitToken(ctx, token, c.config.ConnectTimeout); err != nil {
		return errors.New(fmt.Errorf("connect to %s: %w", c.config.Broker, err)).
			Category(errors.CategoryMQTTConnection).
			NetworkContext(c.config.Broker, c.config.ConnectTimeout).
			Build()
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	client := c.internal
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		err := errors.Newf("not connected to MQTT broker").Category(errors.CategoryMQTTPublish).Build()
		c.metrics.RecordPublish(0, err)
		return err
	}

	start := time.Now()
	token := client.Publish(topic, c.config.QoS, false, payload)
	err := waitToken(ctx, token, c.config.PublishTimeout)
	if err != nil {
		err = errors.New(fmt.Errorf("publish to %s: %w", topic, err)).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	c.metrics.RecordPublish(time.Since(start), err)

	GetLogger().Debug("published message",
		logger.String("topic", topic),
		logger.Int("bytes", len(payload)),
		logger.Bool("ok", err == nil))
	return err
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil && c.internal.IsConnected() {
		c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.UpdateConnectionStatus(false)
	}
}

func (c *Client) onConnect(client mqtt.Client) {
	log := GetLogger()
	log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.UpdateConnectionStatus(true)

	if len(c.config.Subscriptions) == 0 {
		return
	}
	filters := make(map[string]byte, len(c.config.Subscriptions))
	for _, topic := range c.config.Subscriptions {
		filters[topic] = c.config.QoS
	}
	token := client.SubscribeMultiple(filters, c.onMessage)
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		log.Error("subscribe timed out", logger.Any("topics", c.config.Subscriptions))
		return
	}
	if err := token.Error(); err != nil {
		log.Error("subscribe failed", logger.Any("topics", c.config.Subscriptions), logger.Error(err))
		return
	}
	log.Info("subscribed to relay topics", logger.Any("topics", c.config.Subscriptions))
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	GetLogger().Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
}

func (c *Client) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	GetLogger().Info("reconnecting to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.IncrementReconnectAttempts()
}

func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	c.deliver(Message{Topic: m.Topic(), Payload: bytes.Clone(m.Payload())})
}

// deliver queues msg for the bridge, blocking while the buffer is full
// unless the client is shutting down.
func (c *Client) deliver(msg Message) {
	c.metrics.RecordReceived(msg.Topic, len(msg.Payload))
	select {
	case c.messages <- msg:
	case <-c.done:
		GetLogger().Debug("dropping message after disconnect", logger.String("topic", msg.Topic))
	}
}

// waitToken waits for token to complete, for timeout, or for ctx.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.Newf("timed out after %s", timeout).Category(errors.CategoryTimeout).Build()
	case <-ctx.Done():
		return ctx.Err()
	}
}
