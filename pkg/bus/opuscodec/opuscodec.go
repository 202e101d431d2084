//go:build cgo

// Package opuscodec registers an Opus FrameCodec with the bus.
//
// Import it for side effects:
//
//	import _ "github.com/teslashibe/go-robospeech/pkg/bus/opuscodec"
//
// Each encoded chunk must be a valid Opus frame length
// (2.5, 5, 10, 20, 40 or 60 ms). Requires libopus.
package opuscodec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/bus"
)

// maxFrameSamples is 120ms at 48kHz, the largest Opus packet duration.
const maxFrameSamples = 5760

// maxPacketBytes bounds a single encoded packet.
const maxPacketBytes = 4000

func init() {
	bus.RegisterCodec(bus.EncodingOpus, func(rate, channels int) (bus.FrameCodec, error) {
		return New(rate, channels)
	})
}

// Codec encodes and decodes one Opus stream.
type Codec struct {
	rate     int
	channels int
	enc      *opus.Encoder
	dec      *opus.Decoder
	pcm      []int16
}

// New creates a voice-tuned Opus codec. rate must be one of
// 8000, 12000, 16000, 24000 or 48000.
func New(rate, channels int) (*Codec, error) {
	enc, err := opus.NewEncoder(rate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(rate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	return &Codec{
		rate:     rate,
		channels: channels,
		enc:      enc,
		dec:      dec,
		pcm:      make([]int16, maxFrameSamples*channels),
	}, nil
}

func (c *Codec) Encoding() bus.Encoding { return bus.EncodingOpus }

// Encode compresses one chunk into a single Opus packet.
func (c *Codec) Encode(chunk audioio.AudioChunk) ([]byte, error) {
	if chunk.SampleRate != c.rate || chunk.Channels != c.channels {
		return nil, fmt.Errorf("opus: chunk format %dHz/%dch does not match codec %dHz/%dch",
			chunk.SampleRate, chunk.Channels, c.rate, c.channels)
	}

	buf := make([]byte, maxPacketBytes)
	n, err := c.enc.Encode(chunk.Samples, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return buf[:n], nil
}

// Decode expands one Opus packet.
func (c *Codec) Decode(payload []byte) (audioio.AudioChunk, error) {
	n, err := c.dec.Decode(payload, c.pcm)
	if err != nil {
		return audioio.AudioChunk{}, fmt.Errorf("opus decode: %w", err)
	}

	samples := make([]int16, n*c.channels)
	copy(samples, c.pcm[:n*c.channels])

	return audioio.AudioChunk{
		Samples:    samples,
		SampleRate: c.rate,
		Channels:   c.channels,
	}, nil
}
