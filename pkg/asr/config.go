package asr

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/xfauth"
)

const (
	// DefaultURL is the public IAT endpoint.
	DefaultURL = "wss://iat-api.xfyun.cn/v2/iat"

	// SampleRate is the only rate the service accepts for raw PCM.
	SampleRate = 16000

	// FrameBytes is one 40 ms frame of 16 kHz PCM16.
	FrameBytes = 1280

	// FrameInterval is the real-time spacing of FrameBytes.
	FrameInterval = 40 * time.Millisecond
)

// Config holds recognizer configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	Credentials xfauth.Credentials
	URL         string

	Language string
	Domain   string
	Accent   string
	// VADEOS is the trailing silence, in milliseconds, after which the
	// service ends the session on its own.
	VADEOS int
	// DynamicCorrection enables "wpgs" rewriting of earlier segments.
	DynamicCorrection bool

	// FrameInterval paces outgoing frames. Zero sends as fast as possible.
	FrameInterval time.Duration

	HandshakeTimeout time.Duration
	// FinalTimeout bounds the wait for the final result after the last frame.
	FinalTimeout time.Duration

	// OnPartial receives the whole transcript so far after every result.
	OnPartial func(text string)

	Logger *slog.Logger
	now    func() time.Time
}

// Option is a functional option for configuring a recognizer.
type Option func(*Config)

// DefaultConfig returns Mandarin dictation defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:               DefaultURL,
		Language:          "zh_cn",
		Domain:            "iat",
		Accent:            "mandarin",
		VADEOS:            3000,
		DynamicCorrection: true,
		FrameInterval:     FrameInterval,
		HandshakeTimeout:  10 * time.Second,
		FinalTimeout:      10 * time.Second,
		Logger:            slog.Default(),
		now:               time.Now,
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if err := c.Credentials.Validate(); err != nil {
		return ErrNoCredentials
	}
	return nil
}

// WithCredentials sets the app id and key pair.
func WithCredentials(creds xfauth.Credentials) Option {
	return func(c *Config) { c.Credentials = creds }
}

// WithURL overrides the service endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithLanguage sets the recognition language (e.g. zh_cn, en_us).
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithDomain sets the recognition domain.
func WithDomain(domain string) Option {
	return func(c *Config) { c.Domain = domain }
}

// WithAccent sets the dialect.
func WithAccent(accent string) Option {
	return func(c *Config) { c.Accent = accent }
}

// WithVADEOS sets the end-of-speech silence in milliseconds.
func WithVADEOS(ms int) Option {
	return func(c *Config) { c.VADEOS = ms }
}

// WithDynamicCorrection toggles incremental segment rewriting.
func WithDynamicCorrection(enabled bool) Option {
	return func(c *Config) { c.DynamicCorrection = enabled }
}

// WithFrameInterval sets outgoing frame pacing.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Config) { c.FrameInterval = d }
}

// WithFinalTimeout bounds the wait for the final result.
func WithFinalTimeout(d time.Duration) Option {
	return func(c *Config) { c.FinalTimeout = d }
}

// WithOnPartial registers a callback for interim transcripts.
func WithOnPartial(fn func(text string)) Option {
	return func(c *Config) { c.OnPartial = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}
