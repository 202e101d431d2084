package asr

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// Mock implements Recognizer for testing.
// By default it drains the audio channel and returns Text.
type Mock struct {
	// Text is returned as the transcript when RecognizeFunc is nil.
	Text string

	// RecognizeFunc overrides the default behaviour when set.
	RecognizeFunc func(ctx context.Context, audio []byte) (*Result, error)

	mu       sync.Mutex
	received [][]byte
}

// NewMock creates a mock that always hears text.
func NewMock(text string) *Mock {
	return &Mock{Text: text}
}

// Recognize implements Recognizer.
func (m *Mock) Recognize(ctx context.Context, audio <-chan []byte) (*Result, error) {
	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case data, ok := <-audio:
			if !ok {
				return m.finish(ctx, buf)
			}
			buf = append(buf, data...)
		}
	}
}

// RecognizeFile implements Recognizer.
func (m *Mock) RecognizeFile(ctx context.Context, samples []int16, sampleRate int) (*Result, error) {
	return m.finish(ctx, audioio.SamplesToBytes(audioio.Resample(samples, sampleRate, SampleRate)))
}

func (m *Mock) finish(ctx context.Context, audio []byte) (*Result, error) {
	m.mu.Lock()
	m.received = append(m.received, audio)
	m.mu.Unlock()

	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx, audio)
	}
	return &Result{
		Text:     m.Text,
		Segments: []Segment{{SN: 1, Text: m.Text}},
		Duration: time.Duration(len(audio)/2) * time.Second / SampleRate,
	}, nil
}

// Received returns the audio of every finished call, in order.
func (m *Mock) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	copy(out, m.received)
	return out
}

var _ Recognizer = (*Mock)(nil)
