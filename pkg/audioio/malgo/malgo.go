//go:build cgo

// Package malgo registers a miniaudio backend with audioio.
// Import it for its side effect.
package malgo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// playbackBuffer is how much audio the sink queues ahead of the device.
const playbackBuffer = 2 * time.Second

func init() {
	audioio.Register(audioio.BackendMalgo, newSource, newSink, listDevices)
}

func initContext(logger *slog.Logger) (*malgo.AllocatedContext, error) {
	return malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
}

func listDevices() ([]audioio.Device, error) {
	mctx, err := initContext(slog.Default())
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	var out []audioio.Device
	capture, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	for _, d := range capture {
		out = append(out, audioio.Device{Name: d.Name(), InputChannels: 1, Default: d.IsDefault != 0})
	}
	playback, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("list playback devices: %w", err)
	}
	for _, d := range playback {
		out = append(out, audioio.Device{Name: d.Name(), OutputChannels: 1, Default: d.IsDefault != 0})
	}
	return out, nil
}

// device wraps the context and device lifecycle shared by source and sink.
type device struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
}

func openDevice(cfg audioio.Config, logger *slog.Logger, kind malgo.DeviceType, cb malgo.DeviceCallbacks) (*device, error) {
	mctx, err := initContext(logger)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}

	dc := malgo.DefaultDeviceConfig(kind)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Alsa.NoMMap = 1
	dc.PeriodSizeInFrames = uint32(cfg.BufferSize())

	if kind == malgo.Capture {
		dc.Capture.Format = malgo.FormatS16
		dc.Capture.Channels = uint32(cfg.Channels)
	} else {
		dc.Playback.Format = malgo.FormatS16
		dc.Playback.Channels = uint32(cfg.Channels)
	}

	if cfg.Device != "" {
		infos, err := mctx.Devices(kind)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, fmt.Errorf("list devices: %w", err)
		}
		found := false
		for _, info := range infos {
			if info.Name() == cfg.Device {
				if kind == malgo.Capture {
					dc.Capture.DeviceID = info.ID.Pointer()
				} else {
					dc.Playback.DeviceID = info.ID.Pointer()
				}
				found = true
				break
			}
		}
		if !found {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, fmt.Errorf("device not found: %s", cfg.Device)
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, dc, cb)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start device: %w", err)
	}
	return &device{mctx: mctx, dev: dev}, nil
}

func (d *device) close() {
	_ = d.dev.Stop()
	d.dev.Uninit()
	_ = d.mctx.Uninit()
	d.mctx.Free()
}

type source struct {
	cfg    audioio.Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	dev      *device
	streamCh chan audioio.AudioChunk

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

	out := make(chan audioio.AudioChunk, 32)
	dev, err := openDevice(s.cfg, s.logger, malgo.Capture, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			chunk := audioio.AudioChunk{
				Samples:    audioio.BytesToSamples(in),
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
			}
			select {
			case out <- chunk:
				s.chunksRead.Add(1)
				s.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				s.overruns.Add(1)
			}
		},
	})
	if err != nil {
		return err
	}

	s.dev = dev
	s.streamCh = out
	s.running = true

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.Info("malgo source started", "device", s.cfg.Device)
	return nil
}

func (s *source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	// Device stop blocks until the data callback has returned.
	s.dev.close()
	close(s.streamCh)
	return nil
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

func (s *source) Name() string { return string(audioio.BackendMalgo) }

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
	dev     *device
	rb      *ringbuffer.RingBuffer

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

func newSink(cfg audioio.Config, logger *slog.Logger) (audioio.Sink, error) {
	size := cfg.FramesFor(playbackBuffer) * cfg.Channels * 2
	return &sink{cfg: cfg, logger: logger, rb: ringbuffer.New(size)}, nil
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

	dev, err := openDevice(s.cfg, s.logger, malgo.Playback, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n, _ := s.rb.Read(out)
			if n < len(out) {
				clear(out[n:])
				if n > 0 {
					s.underruns.Add(1)
				}
			}
		},
	})
	if err != nil {
		return err
	}

	s.dev = dev
	s.running = true
	s.logger.Info("malgo sink started", "device", s.cfg.Device)
	return nil
}

func (s *sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.dev.close()
	s.rb.Reset()
	return nil
}

// Write queues the chunk, waiting while the playback buffer is full.
func (s *sink) Write(ctx context.Context, chunk audioio.AudioChunk) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return io.ErrClosedPipe
	}

	chunk = audioio.ConvertChunk(chunk, s.cfg)
	data := chunk.Bytes()
	for len(data) > 0 {
		// A short write only means the buffer is full.
		n, _ := s.rb.Write(data)
		data = data[n:]
		if len(data) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.BufferDuration):
		}
	}

	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush waits until the device has drained the playback buffer.
func (s *sink) Flush(ctx context.Context) error {
	for !s.rb.IsEmpty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.BufferDuration):
		}
	}
	return nil
}

func (s *sink) Clear() error {
	s.rb.Reset()
	return nil
}

func (s *sink) Config() audioio.Config { return s.cfg }

func (s *sink) Name() string { return string(audioio.BackendMalgo) }

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
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         s.Name(),
		BufferedSamples: int64(s.rb.Length() / 2),
	}
}

var (
	_ audioio.SourceWithStats = (*source)(nil)
	_ audioio.SinkWithStats   = (*sink)(nil)
)
