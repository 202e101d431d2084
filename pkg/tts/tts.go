// Package tts provides text-to-speech for the robot's speaker.
//
// The XFyun provider speaks the iFlytek TTS websocket protocol and returns
// raw 16 kHz PCM16, the format the speech handler plays and publishes.
// Wrap it in Cached so that repeated prompts are synthesized once.
//
// Example usage:
//
//	provider, _ := tts.NewXFyun(
//	    tts.WithCredentials(creds),
//	    tts.WithVoice("xiaoyan"),
//	)
//	cached := tts.NewCached(provider, 30*time.Minute)
//	defer cached.Close()
//
//	result, _ := cached.Synthesize(ctx, "你好")
//	// result.Audio contains PCM16 bytes
package tts

import (
	"context"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credential validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Voicer is implemented by providers with a fixed voice. Cached uses it to
// keep entries for different voices apart.
type Voicer interface {
	Voice() string
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the audio playback duration.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the time to first audio byte in milliseconds.
	LatencyMs int64

	// SID is the service session id, if any.
	SID string
}

// Chunk returns PCM audio as an audioio chunk.
func (r *AudioResult) Chunk() audioio.AudioChunk {
	var c audioio.AudioChunk
	c.FromBytes(r.Audio, r.Format.SampleRate, r.Format.Channels)
	return c
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding is the service's audio encoding name.
	Encoding Encoding

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// BitDepth for PCM formats.
	BitDepth int
}

// Encoding represents audio encoding types, named as the service names them.
type Encoding string

const (
	// EncodingRaw is headerless PCM16.
	EncodingRaw Encoding = "raw"
	// EncodingMP3 is MP3 ("lame" on the wire).
	EncodingMP3 Encoding = "lame"
)

// PCM16 is the format of every PCM result in this package.
var PCM16 = AudioFormat{Encoding: EncodingRaw, SampleRate: 16000, Channels: 1, BitDepth: 16}

// durationOf returns the playback time of PCM16 bytes in format f.
func durationOf(n int, f AudioFormat) time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	frames := n / 2 / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}
