package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Client provides a high-level interface to the bus: prefixed topics,
// JSON helpers and statistics on top of a Transport.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	topics    *Topics
	transport Transport

	mu     sync.Mutex
	closed bool

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// New creates a bus client for cfg.
// Call Connect() before publishing when the transport is MQTT.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	t, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		logger:    logger,
		topics:    NewTopics(cfg.Prefix),
		transport: t,
	}, nil
}

// NewWithTransport wraps an existing transport.
func NewWithTransport(t Transport, prefix string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultConfig()
	cfg.Transport = TransportMemory
	cfg.Prefix = prefix

	return &Client{
		cfg:       cfg,
		logger:    logger,
		topics:    NewTopics(prefix),
		transport: t,
	}
}

// Connect establishes the transport connection, retrying per the config.
// It is a no-op for transports that need no connection.
func (c *Client) Connect(ctx context.Context) error {
	if m, ok := c.transport.(*MQTT); ok {
		return m.ConnectWithRetry(ctx)
	}
	return nil
}

// Topics returns the topics helper.
func (c *Client) Topics() *Topics {
	return c.topics
}

// Transport returns the underlying transport.
func (c *Client) Transport() Transport {
	return c.transport
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Publish publishes data to a fully-qualified topic.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	if err := c.transport.Publish(ctx, topic, data); err != nil {
		return err
	}
	c.messagesSent.Add(1)
	return nil
}

// PublishJSON marshals v and publishes it to topic.
func (c *Client) PublishJSON(ctx context.Context, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return c.Publish(ctx, topic, data)
}

// Subscribe subscribes to a topic and calls the handler for each message.
func (c *Client) Subscribe(topic string, handler Handler) (Subscription, error) {
	sub, err := c.transport.Subscribe(topic, func(t string, payload []byte) {
		c.messagesReceived.Add(1)
		handler(t, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.logger.Debug("subscribed to topic", "topic", topic)
	return sub, nil
}

// Close closes the transport and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}

	c.logger.Info("bus client closed")
	return nil
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	connected := !closed
	if m, ok := c.transport.(*MQTT); ok {
		connected = m.IsConnected()
	}

	return ClientStats{
		Connected:        connected,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
}
