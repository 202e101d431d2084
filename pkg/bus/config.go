// Package bus provides DDS-style publish/subscribe for robot components.
//
// Components exchange messages on ROS 2 style topic names ("rt/...")
// through a Transport. Two transports are provided:
//   - memory: in-process fan-out, for tests and single-binary setups
//   - mqtt: an MQTT broker, for talking to the robot over the network
//
// On top of the transport the package provides an audio frame codec,
// audio publishers and subscribers, a mic/speaker bridge and a
// request/response RPC layer.
package bus

import (
	"fmt"
	"time"
)

// Transport names.
const (
	TransportMemory = "memory"
	TransportMQTT   = "mqtt"
)

// Config holds bus configuration.
type Config struct {
	// Transport selects the implementation: "memory" or "mqtt".
	Transport string `yaml:"transport" json:"transport" mapstructure:"transport"`

	// Broker is the MQTT broker URL.
	// Examples: "tcp://localhost:1883", "tcp://192.168.123.161:1883"
	Broker string `yaml:"broker" json:"broker" mapstructure:"broker"`

	// ClientID identifies this process to the broker.
	ClientID string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`

	// Prefix namespaces every topic, e.g. one prefix per robot.
	// Empty means bare "rt/..." topics.
	Prefix string `yaml:"prefix" json:"prefix" mapstructure:"prefix"`

	// QoS is the MQTT quality of service (0, 1 or 2).
	QoS byte `yaml:"qos" json:"qos" mapstructure:"qos"`

	// Codec is the audio codec used by publishers: "pcm16" or "opus".
	Codec string `yaml:"codec" json:"codec" mapstructure:"codec"`

	// ReconnectInterval is how often to attempt reconnection on failure.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval" mapstructure:"reconnect_interval"`

	// MaxReconnectAttempts is the maximum number of connection attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Transport:            TransportMQTT,
		Broker:               "tcp://localhost:1883",
		ClientID:             "robospeech",
		QoS:                  1,
		Codec:                "pcm16",
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMemory:
	case TransportMQTT:
		if c.Broker == "" {
			return fmt.Errorf("broker is required for mqtt transport")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for mqtt transport")
		}
	default:
		return fmt.Errorf("transport must be '%s' or '%s', got '%s'", TransportMemory, TransportMQTT, c.Transport)
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.Codec == "" {
		return fmt.Errorf("codec is required")
	}
	if c.ReconnectInterval < 0 {
		return fmt.Errorf("reconnect_interval must not be negative")
	}
	return nil
}
