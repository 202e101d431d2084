// Package audioio provides audio capture and playback for the speech tools.
//
// Device backends register themselves with Register from their own
// packages so that cgo-only dependencies stay out of callers that do not
// need them:
//
//	import _ "github.com/teslashibe/go-robospeech/pkg/audioio/portaudio"
//
// The mock backend is always available and is used by tests and CI.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the first registered hardware backend, or mock.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio.
	BackendPortAudio Backend = "portaudio"
	// BackendMalgo uses miniaudio through malgo.
	BackendMalgo Backend = "malgo"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (required by the speech cloud)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (320 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the backend-specific device name. Empty means system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c *Config) BufferSize() int {
	n := int(float64(c.SampleRate) * c.BufferDuration.Seconds())
	if n < 1 {
		n = 1
	}
	return n
}

// BufferBytes returns the size of a buffer in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}

// FramesFor returns how many frames cover d at this sample rate.
func (c *Config) FramesFor(d time.Duration) int {
	return int(float64(c.SampleRate) * d.Seconds())
}
