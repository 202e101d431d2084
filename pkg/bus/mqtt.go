package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Timeouts for broker operations.
const (
	mqttConnectTimeout = 10 * time.Second
	mqttOpTimeout      = 5 * time.Second
	mqttQuiesceMs      = 250
)

// MQTT is a Transport backed by an MQTT broker.
//
// Subscriptions are remembered and re-issued whenever the client
// (re)connects, so they survive broker restarts.
type MQTT struct {
	cfg       Config
	logger    *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
	subs   map[string][]*mqttSub
	closed bool

	published  atomic.Int64
	received   atomic.Int64
	reconnects atomic.Int64
}

type mqttSub struct {
	m      *MQTT
	filter string
	h      Handler
}

// NewMQTT creates an MQTT transport. Call Connect or ConnectWithRetry
// before publishing.
func NewMQTT(cfg Config, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		cfg:       cfg,
		logger:    logger.With("component", "bus.mqtt"),
		newClient: mqtt.NewClient,
		subs:      make(map[string][]*mqttSub),
	}
}

func (m *MQTT) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false) // Handlers may publish (RPC replies)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	if m.cfg.ReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(m.cfg.ReconnectInterval * 8)
	}
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)
	return opts
}

// Connect opens the broker connection.
func (m *MQTT) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.client != nil && m.client.IsConnected() {
		m.mu.Unlock()
		return nil // Already connected
	}
	m.mu.Unlock()

	m.logger.Info("connecting to MQTT broker", "broker", m.cfg.Broker, "client_id", m.cfg.ClientID)

	client := m.newClient(m.options())
	if err := waitToken(ctx, client.Connect(), mqttConnectTimeout); err != nil {
		return fmt.Errorf("connect to %s: %w", m.cfg.Broker, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Disconnect(mqttQuiesceMs)
		return ErrClosed
	}
	m.client = client
	m.mu.Unlock()

	m.logger.Info("connected to MQTT broker", "broker", m.cfg.Broker)
	return nil
}

// ConnectWithRetry connects with automatic retry on failure.
func (m *MQTT) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := m.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		attempts++
		m.reconnects.Add(1)

		if m.cfg.MaxReconnectAttempts > 0 && attempts >= m.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", m.cfg.MaxReconnectAttempts, err)
		}

		m.logger.Warn("mqtt connection failed, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", m.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.ReconnectInterval):
		}
	}
}

// onConnect runs on every successful (re)connect and restores subscriptions.
func (m *MQTT) onConnect(client mqtt.Client) {
	m.mu.Lock()
	filters := make([]string, 0, len(m.subs))
	for f := range m.subs {
		filters = append(filters, f)
	}
	m.mu.Unlock()

	for _, f := range filters {
		tok := client.Subscribe(f, m.cfg.QoS, m.callback(f))
		go func(filter string) {
			if tok.WaitTimeout(mqttOpTimeout) && tok.Error() != nil {
				m.logger.Warn("resubscribe failed", "topic", filter, "error", tok.Error())
			}
		}(f)
	}
	if len(filters) > 0 {
		m.logger.Info("restored subscriptions", "count", len(filters))
	}
}

func (m *MQTT) onConnectionLost(_ mqtt.Client, err error) {
	m.reconnects.Add(1)
	m.logger.Warn("mqtt connection lost", "error", err)
}

// IsConnected reports whether the broker connection is up.
func (m *MQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil && !m.closed && m.client.IsConnected()
}

func (m *MQTT) current() (mqtt.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// Publish sends payload on topic at the configured QoS.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	client, err := m.current()
	if err != nil {
		return err
	}
	if err := waitToken(ctx, client.Publish(topic, m.cfg.QoS, false, payload), mqttOpTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	m.published.Add(1)
	return nil
}

// Subscribe registers h for topics matching filter.
// The broker subscription is shared by all handlers on the same filter.
func (m *MQTT) Subscribe(filter string, h Handler) (Subscription, error) {
	client, err := m.current()
	if err != nil {
		return nil, err
	}

	s := &mqttSub{m: m, filter: filter, h: h}

	m.mu.Lock()
	first := len(m.subs[filter]) == 0
	m.subs[filter] = append(m.subs[filter], s)
	m.mu.Unlock()

	if first {
		tok := client.Subscribe(filter, m.cfg.QoS, m.callback(filter))
		if err := waitToken(context.Background(), tok, mqttOpTimeout); err != nil {
			m.remove(s)
			return nil, fmt.Errorf("subscribe to %s: %w", filter, err)
		}
		m.logger.Debug("subscribed to topic", "topic", filter)
	}
	return s, nil
}

func (m *MQTT) callback(filter string) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		m.received.Add(1)

		m.mu.Lock()
		handlers := make([]Handler, 0, len(m.subs[filter]))
		for _, s := range m.subs[filter] {
			handlers = append(handlers, s.h)
		}
		m.mu.Unlock()

		for _, h := range handlers {
			h(msg.Topic(), msg.Payload())
		}
	}
}

// remove drops s and reports whether it was the last handler on its filter.
func (m *MQTT) remove(s *mqttSub) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.subs[s.filter]
	for i, other := range list {
		if other == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.subs, s.filter)
		return true
	}
	m.subs[s.filter] = list
	return false
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	client := m.client
	m.client = nil
	m.subs = make(map[string][]*mqttSub)
	m.mu.Unlock()

	if client != nil {
		client.Disconnect(mqttQuiesceMs)
	}
	m.logger.Info("mqtt transport closed")
	return nil
}

// Stats returns transport statistics.
func (m *MQTT) Stats() TransportStats {
	return TransportStats{
		Connected:  m.IsConnected(),
		Published:  m.published.Load(),
		Received:   m.received.Load(),
		Reconnects: m.reconnects.Load(),
	}
}

// TransportStats contains transport statistics.
type TransportStats struct {
	Connected  bool  `json:"connected"`
	Published  int64 `json:"published"`
	Received   int64 `json:"received"`
	Reconnects int64 `json:"reconnects"`
}

func (s *mqttSub) Topic() string {
	return s.filter
}

func (s *mqttSub) Unsubscribe() error {
	if !s.m.remove(s) {
		return nil
	}
	client, err := s.m.current()
	if err != nil {
		return nil // Nothing to undo on a closed or never-connected transport
	}
	if err := waitToken(context.Background(), client.Unsubscribe(s.filter), mqttOpTimeout); err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", s.filter, err)
	}
	return nil
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
