package speech

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/asr"
	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/store"
	"github.com/teslashibe/go-robospeech/pkg/tts"
)

// History persists finished jobs. *store.Store implements it.
type History interface {
	Save(ctx context.Context, u *store.Utterance) error
}

// Config holds speech handler configuration.
type Config struct {
	// QueueSize is the number of jobs that may wait behind the running one.
	QueueSize int

	// ListenTimeout bounds a listen request without MaxDuration.
	ListenTimeout time.Duration

	// QuietTime is how long the level must stay below the threshold
	// after speech before a listen ends.
	QuietTime time.Duration

	// SilenceThreshold is the speech-on level in dBFS.
	SilenceThreshold float64

	// ChunkDuration is the size of the pieces speech is played in.
	// Smaller pieces make stop requests take effect sooner.
	ChunkDuration time.Duration

	// SpeakerEncoding is the codec for audio published on rt/audio/speaker.
	SpeakerEncoding bus.Encoding

	Synthesizer tts.Provider
	Recognizer  asr.Recognizer
	Source      audioio.Source
	Sink        audioio.Sink
	History     History
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Option configures the handler.
type Option func(*Config)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:        16,
		ListenTimeout:    10 * time.Second,
		QuietTime:        800 * time.Millisecond,
		SilenceThreshold: -45,
		ChunkDuration:    20 * time.Millisecond,
		SpeakerEncoding:  bus.EncodingPCM16,
		Logger:           slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return errors.New("speech: queue size must be at least 1")
	}
	if c.ListenTimeout <= 0 || c.ListenTimeout > MaxListenDuration {
		return errors.New("speech: listen timeout must be between 0 and 60s")
	}
	if c.QuietTime <= 0 {
		return errors.New("speech: quiet time must be positive")
	}
	if c.SilenceThreshold >= 0 {
		return errors.New("speech: silence threshold must be below 0 dBFS")
	}
	if c.ChunkDuration <= 0 {
		return errors.New("speech: chunk duration must be positive")
	}
	return nil
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(c *Config) { c.QueueSize = n }
}

// WithListenTimeout sets the default listen limit.
func WithListenTimeout(d time.Duration) Option {
	return func(c *Config) { c.ListenTimeout = d }
}

// WithEndpointing sets the end-of-speech detection parameters.
func WithEndpointing(thresholdDB float64, quiet time.Duration) Option {
	return func(c *Config) {
		c.SilenceThreshold = thresholdDB
		c.QuietTime = quiet
	}
}

// WithChunkDuration sets the playback piece size.
func WithChunkDuration(d time.Duration) Option {
	return func(c *Config) { c.ChunkDuration = d }
}

// WithSpeakerEncoding sets the codec for published speaker audio.
func WithSpeakerEncoding(e bus.Encoding) Option {
	return func(c *Config) { c.SpeakerEncoding = e }
}

// WithSynthesizer enables speak requests.
func WithSynthesizer(p tts.Provider) Option {
	return func(c *Config) { c.Synthesizer = p }
}

// WithRecognizer and WithSource together enable listen requests.
func WithRecognizer(r asr.Recognizer) Option {
	return func(c *Config) { c.Recognizer = r }
}

// WithSource sets the microphone.
func WithSource(s audioio.Source) Option {
	return func(c *Config) { c.Source = s }
}

// WithSink sets the local speaker. Without one, speech is only published.
func WithSink(s audioio.Sink) Option {
	return func(c *Config) { c.Sink = s }
}

// WithHistory persists every finished job.
func WithHistory(h History) Option {
	return func(c *Config) { c.History = h }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
