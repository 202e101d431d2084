package tts

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/xfauth"
)

// DefaultURL is the public TTS endpoint.
const DefaultURL = "wss://tts-api.xfyun.cn/v2/tts"

// Config holds TTS provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	Credentials xfauth.Credentials
	URL         string

	// Voice configuration
	Voice  string
	Speed  int // 0-100
	Volume int // 0-100
	Pitch  int // 0-100

	// Timeout bounds a whole synthesis, handshake included.
	Timeout time.Duration

	Logger *slog.Logger
	now    func() time.Time
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithCredentials sets the app id and key pair.
func WithCredentials(creds xfauth.Credentials) Option {
	return func(c *Config) {
		c.Credentials = creds
	}
}

// WithURL overrides the default endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithVoice sets the speaker (vcn).
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithProsody sets speed, volume and pitch, each 0-100.
func WithProsody(speed, volume, pitch int) Option {
	return func(c *Config) {
		c.Speed, c.Volume, c.Pitch = speed, volume, pitch
	}
}

// WithTimeout sets the synthesis timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:     DefaultURL,
		Voice:   DefaultVoice,
		Speed:   50,
		Volume:  50,
		Pitch:   50,
		Timeout: 30 * time.Second,
		Logger:  slog.Default(),
		now:     time.Now,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if err := c.Credentials.Validate(); err != nil {
		return ErrNoCredentials
	}
	if c.Voice == "" {
		return ErrNoVoice
	}
	for _, v := range []int{c.Speed, c.Volume, c.Pitch} {
		if v < 0 || v > 100 {
			return ErrInvalidProsody
		}
	}
	return nil
}
