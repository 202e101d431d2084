//go:build cgo

// Package portaudio registers a PortAudio capture and playback backend
// with audioio. Import it for its side effect.
package portaudio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

func init() {
	audioio.Register(audioio.BackendPortAudio, newSource, newSink, listDevices)
}

func listDevices() ([]audioio.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	out := make([]audioio.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, audioio.Device{
			Name:           d.Name,
			InputChannels:  d.MaxInputChannels,
			OutputChannels: d.MaxOutputChannels,
			Default:        d == defIn || d == defOut,
		})
	}
	return out, nil
}

func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

type source struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	streamCh chan audioio.AudioChunk
	stopCh   chan struct{}
	done     chan struct{}

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

func newSource(cfg audioio.Config, logger *slog.Logger) (audioio.Source, error) {
	return &source{cfg: cfg, logger: logger, streamCh: make(chan audioio.AudioChunk, 32)}, nil
}

func (s *source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	dev, err := findDevice(s.cfg.Device, true)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("input device: %w", err)
	}

	buf := make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.cfg.SampleRate),
		FramesPerBuffer: s.cfg.BufferSize(),
	}, buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.streamCh = make(chan audioio.AudioChunk, 32)

	go s.readLoop(ctx, buf, s.streamCh, s.stopCh, s.done)

	s.logger.Info("portaudio source started", "device", dev.Name)
	return nil
}

func (s *source) readLoop(ctx context.Context, buf []int16, out chan audioio.AudioChunk, stop, done chan struct{}) {
	defer close(done)
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if err == portaudio.InputOverflowed {
				s.overruns.Add(1)
				continue
			}
			s.logger.Warn("portaudio read failed", "error", err)
			return
		}

		samples := make([]int16, len(buf))
		copy(samples, buf)
		chunk := audioio.AudioChunk{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}

		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(samples)))
		default:
			s.overruns.Add(1)
		}
	}
}

func (s *source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	done, stream := s.done, s.stream
	s.mu.Unlock()

	<-done
	err := stream.Stop()
	stream.Close()
	portaudio.Terminate()
	return err
}

func (s *source) Read(ctx context.Context) (audioio.AudioChunk, error) {
	ch := s.Stream()
	select {
	case <-ctx.Done():
		return audioio.AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return audioio.AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

func (s *source) Stream() <-chan audioio.AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

func (s *source) Config() audioio.Config { return s.cfg }

func (s *source) Name() string { return string(audioio.BackendPortAudio) }

func (s *source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

func (s *source) Stats() audioio.SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return audioio.SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     s.Name(),
	}
}

type sink struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  *portaudio.Stream
	buf     []int16

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
	cleared        atomic.Bool
}

func newSink(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
	return &sink{cfg: cfg, logger: logger}, nil
}

func (s *sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	dev, err := findDevice(s.cfg.Device, false)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("output device: %w", err)
	}

	s.buf = make([]int16, s.cfg.BufferSize()*s.cfg.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.cfg.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(s.cfg.SampleRate),
		FramesPerBuffer: s.cfg.BufferSize(),
	}, s.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.logger.Info("portaudio sink started", "device", dev.Name)
	return nil
}

func (s *sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	err := s.stream.Stop()
	s.stream.Close()
	portaudio.Terminate()
	return err
}

// Write blocks until the chunk has been handed to the device.
func (s *sink) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	chunk = audioio.ConvertChunk(chunk, s.cfg)
	s.cleared.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return io.ErrClosedPipe
	}

	samples := chunk.Samples
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cleared.Load() {
			return nil
		}
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]

		if err := s.stream.Write(); err != nil {
			if err == portaudio.OutputUnderflowed {
				s.underruns.Add(1)
				continue
			}
			return fmt.Errorf("portaudio write: %w", err)
		}
	}

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush is a no-op: Write returns only after the device accepted the data.
func (s *sink) Flush(ctx context.Context) error { return ctx.Err() }

func (s *sink) Clear() error {
	s.cleared.Store(true)
	return nil
}

func (s *sink) Config() audioio.Config { return s.cfg }

func (s *sink) Name() string { return string(audioio.BackendPortAudio) }

func (s *sink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

func (s *sink) Stats() audioio.SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return audioio.SinkStats{
		ChunksWritten:  s.chunksWritten.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        running,
		Backend:        s.Name(),
	}
}

var (
	_ audioio.SourceWithStats = (*source)(nil)
	_ audioio.SinkWithStats   = (*sink)(nil)
)
