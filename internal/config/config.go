// Package config loads go-robospeech settings from a YAML file, environment
// variables and command-line flags.
//
// Precedence (highest first): flags bound by the CLI, ROBOSPEECH_* env vars,
// legacy env vars (ROBOT_IP, XFYUN_*), the config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "ROBOSPEECH"

// Settings is the full application configuration.
type Settings struct {
	LogLevel string `mapstructure:"log_level"`

	Audio   AudioSettings   `mapstructure:"audio"`
	Speech  SpeechSettings  `mapstructure:"speech"`
	Robot   RobotSettings   `mapstructure:"robot"`
	Bus     BusSettings     `mapstructure:"bus"`
	Handler HandlerSettings `mapstructure:"handler"`
	Web     WebSettings     `mapstructure:"web"`
	Store   StoreSettings   `mapstructure:"store"`
}

// AudioSettings configures local capture and playback.
type AudioSettings struct {
	Backend        string        `mapstructure:"backend"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Channels       int           `mapstructure:"channels"`
	BufferDuration time.Duration `mapstructure:"buffer_duration"`
	InputDevice    string        `mapstructure:"input_device"`
	OutputDevice   string        `mapstructure:"output_device"`
}

// SpeechSettings configures the cloud speech APIs.
type SpeechSettings struct {
	AppID     string `mapstructure:"app_id"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`

	ASRURL   string `mapstructure:"asr_url"`
	Language string `mapstructure:"language"`
	Domain   string `mapstructure:"domain"`
	Accent   string `mapstructure:"accent"`
	VADEOS   int    `mapstructure:"vad_eos"`

	TTSURL   string        `mapstructure:"tts_url"`
	Voice    string        `mapstructure:"voice"`
	Speed    int           `mapstructure:"speed"`
	Volume   int           `mapstructure:"volume"`
	Pitch    int           `mapstructure:"pitch"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RobotSettings configures how the robot is reached.
type RobotSettings struct {
	IP         string        `mapstructure:"ip"`
	Port       string        `mapstructure:"port"`
	Interface  string        `mapstructure:"interface"`
	Transport  string        `mapstructure:"transport"` // "bus" or "http"
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`
}

// BusSettings configures the publish/subscribe transport.
type BusSettings struct {
	Transport            string        `mapstructure:"transport"` // "memory" or "mqtt"
	Broker               string        `mapstructure:"broker"`
	ClientID             string        `mapstructure:"client_id"`
	Prefix               string        `mapstructure:"prefix"`
	QoS                  int           `mapstructure:"qos"`
	Codec                string        `mapstructure:"codec"` // "pcm16" or "opus"
	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// HandlerSettings configures the speech handler.
type HandlerSettings struct {
	QueueSize        int           `mapstructure:"queue_size"`
	ListenTimeout    time.Duration `mapstructure:"listen_timeout"`
	QuietTime        time.Duration `mapstructure:"quiet_time"`
	SilenceThreshold float64       `mapstructure:"silence_threshold"` // dBFS
}

// WebSettings configures the monitor dashboard.
type WebSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    string `mapstructure:"port"`
}

// StoreSettings configures the speech history database.
type StoreSettings struct {
	Path string `mapstructure:"path"`
}

// New returns a viper instance with defaults and env bindings applied.
// Flags may be bound to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	return v
}

// Load reads the config file (if any) into v and decodes the settings.
// An explicit path must exist; the default search path may be empty.
func Load(v *viper.Viper, path string) (*Settings, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("robospeech")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "robospeech"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks values that have no usable fallback.
// Credentials are checked by the commands that need them.
func (s *Settings) Validate() error {
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", s.Audio.SampleRate)
	}
	if s.Audio.Channels <= 0 {
		return fmt.Errorf("audio.channels must be positive, got %d", s.Audio.Channels)
	}
	switch s.Robot.Transport {
	case "bus", "http":
	default:
		return fmt.Errorf("robot.transport must be 'bus' or 'http', got '%s'", s.Robot.Transport)
	}
	switch s.Bus.Transport {
	case "memory", "mqtt":
	default:
		return fmt.Errorf("bus.transport must be 'memory' or 'mqtt', got '%s'", s.Bus.Transport)
	}
	if s.Bus.QoS < 0 || s.Bus.QoS > 2 {
		return fmt.Errorf("bus.qos must be 0, 1 or 2, got %d", s.Bus.QoS)
	}
	if s.Handler.QueueSize <= 0 {
		return fmt.Errorf("handler.queue_size must be positive, got %d", s.Handler.QueueSize)
	}
	return nil
}

// RobotAPIURL returns the robot daemon's HTTP API URL.
func (s *Settings) RobotAPIURL() string {
	return fmt.Sprintf("http://%s:%s", s.Robot.IP, s.Robot.Port)
}
