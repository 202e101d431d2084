package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sentinel errors.
var (
	ErrClosed       = errors.New("bus: transport closed")
	ErrNotConnected = errors.New("bus: not connected")
	ErrTimeout      = errors.New("bus: operation timed out")
)

// Handler receives messages for a subscription.
// The payload must not be retained or modified after the handler returns.
type Handler func(topic string, payload []byte)

// Subscription is an active subscription.
type Subscription interface {
	Topic() string
	Unsubscribe() error
}

// Transport moves opaque payloads between topics.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, h Handler) (Subscription, error)
	Close() error
}

// NewTransport builds the transport named by cfg.Transport.
// The MQTT transport is returned unconnected; see MQTT.ConnectWithRetry.
func NewTransport(cfg Config, logger *slog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	switch cfg.Transport {
	case TransportMemory:
		return NewMemory(), nil
	case TransportMQTT:
		return NewMQTT(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
