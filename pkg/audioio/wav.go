package audioio

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned when a stream is not a 16-bit PCM WAV file.
var ErrInvalidWAV = errors.New("audioio: invalid wav")

// WAVWriter streams PCM16 chunks into a WAV container.
type WAVWriter struct {
	enc        *wav.Encoder
	sampleRate int
	channels   int
	frames     int64
}

// NewWAVWriter starts a 16-bit PCM WAV stream on w.
// The header is finalised by Close.
func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int) *WAVWriter {
	return &WAVWriter{
		enc:        wav.NewEncoder(w, sampleRate, 16, channels, 1),
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Write appends samples. They must be interleaved for the writer's
// channel count.
func (w *WAVWriter) Write(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: w.sampleRate, NumChannels: w.channels},
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	w.frames += int64(len(samples) / w.channels)
	return nil
}

// Frames returns the number of frames written so far.
func (w *WAVWriter) Frames() int64 {
	return w.frames
}

// Close finalises the WAV header. It does not close the underlying writer.
func (w *WAVWriter) Close() error {
	return w.enc.Close()
}

// WriteWAV writes a complete chunk as a WAV file.
func WriteWAV(w io.WriteSeeker, chunk AudioChunk) error {
	ww := NewWAVWriter(w, chunk.SampleRate, chunk.Channels)
	if err := ww.Write(chunk.Samples); err != nil {
		return err
	}
	return ww.Close()
}

// ReadWAV decodes a 16-bit PCM WAV stream into a single chunk.
func ReadWAV(r io.ReadSeeker) (AudioChunk, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return AudioChunk{}, ErrInvalidWAV
	}
	if dec.BitDepth != 16 {
		return AudioChunk{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return AudioChunk{}, fmt.Errorf("decode wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
	}, nil
}
