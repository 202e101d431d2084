package tts

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// Mock is a Provider for tests. Behaviour is set through the Func fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, Synthesize fails. NewMock installs a tone generator.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	mu     sync.Mutex
	texts  []string
	health int
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			if text == "" {
				return nil, ErrEmptyText
			}
			// A quiet 300 Hz tone, 20ms per character.
			chars := len([]rune(text))
			d := time.Duration(chars) * 20 * time.Millisecond
			tone := audioio.NewToneGenerator(300, 0.1, PCM16.SampleRate).Chunk(d, 1)

			return &AudioResult{
				Audio:     tone.Bytes(),
				Format:    PCM16,
				CharCount: chars,
				LatencyMs: 1,
				Duration:  d,
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// Synthesize records text and calls SynthesizeFunc.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, WrapError("mock", ErrNoCredentials)
}

// Health calls HealthFunc and counts the probe.
func (m *Mock) Health(ctx context.Context) error {
	m.mu.Lock()
	m.health++
	m.mu.Unlock()
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc.
func (m *Mock) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Texts returns every text passed to Synthesize, in order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// SynthesizeCount returns how many times Synthesize was called.
func (m *Mock) SynthesizeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.texts)
}

// HealthCount returns how many times Health was called.
func (m *Mock) HealthCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text string) (*AudioResult, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	next := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if next != nil {
			return next(ctx, text)
		}
		return nil, WrapError("mock", ErrNoCredentials)
	}
	return m
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
