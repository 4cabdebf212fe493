package mqtt

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/logger"
	"github.com/pneumai/pneumai-go/internal/observability/metrics"
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	connecting      bool
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a new MQTT client. m may be nil.
func NewClient(cfg Config, m *metrics.MQTTMetrics) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.QoS > 2 {
		return nil, errors.Newf("invalid mqtt qos %d", cfg.QoS).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
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
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	return &client{
		config:  cfg,
		metrics: m,
		log:     GetLogger().With(logger.String("broker", cfg.Broker)),
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
// c.mu covers only the attempt bookkeeping, so a slow dial never blocks
// Publish or IsConnected.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		return connectionError(fmt.Errorf("connection attempt already in progress"))
	}
	if !c.lastConnAttempt.IsZero() && time.Since(c.lastConnAttempt) < c.config.ReconnectCooldown {
		last := time.Since(c.lastConnAttempt)
		c.mu.Unlock()
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", last)
	}
	c.lastConnAttempt = time.Now()
	c.connecting = true
	c.mu.Unlock()

	pc, err := c.dial(ctx)

	c.mu.Lock()
	c.connecting = false
	if err == nil {
		c.internalClient = pc
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.updateStatus(true)
	return nil
}

func (c *client) dial(ctx context.Context) (paho.Client, error) {
	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Host == "" {
		return nil, connectionError(fmt.Errorf("invalid broker URL %q", c.config.Broker))
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return nil, connectionError(fmt.Errorf("failed to resolve hostname %s: %w", host, err))
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	// paho owns reconnection once the first connect succeeds
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	pc := paho.NewClient(opts)
	token := pc.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, connectionError(ctx.Err())
	case <-time.After(c.config.ConnectTimeout):
		return nil, connectionError(fmt.Errorf("connection timeout"))
	}
	if err := token.Error(); err != nil {
		return nil, connectionError(fmt.Errorf("connection error: %w", err))
	}
	return pc, nil
}

func (c *client) current() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	pc := c.current()
	if pc == nil || !pc.IsConnected() {
		return publishError(fmt.Errorf("not connected to MQTT broker"), topic)
	}

	if c.metrics != nil {
		timer := c.metrics.StartPublishTimer()
		defer timer.ObserveDuration()
	}

	token := pc.Publish(topic, c.config.QoS, c.config.Retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return publishError(ctx.Err(), topic)
	case <-time.After(c.config.PublishTimeout):
		return publishError(fmt.Errorf("publish timeout"), topic)
	}
	if err := token.Error(); err != nil {
		return publishError(err, topic)
	}

	if c.metrics != nil {
		c.metrics.IncrementMessagesDelivered()
		c.metrics.ObserveMessageSize(float64(len(payload)))
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	pc := c.current()
	return pc != nil && pc.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	pc := c.internalClient
	c.internalClient = nil
	c.mu.Unlock()

	if pc != nil && pc.IsConnected() {
		pc.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.updateStatus(false)
		c.log.Info("disconnected from MQTT broker")
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker")
	c.updateStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.updateStatus(false)
	if c.metrics != nil {
		c.metrics.IncrementErrors()
	}
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.log.Debug("reconnecting to MQTT broker")
	if c.metrics != nil {
		c.metrics.IncrementReconnectAttempts()
	}
}

func (c *client) updateStatus(connected bool) {
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(connected)
	}
}

func connectionError(err error) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTConnection).
		Build()
}

func publishError(err error, topic string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTTPublish).
		Context("topic", topic).
		Build()
}
