package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// AudioBridge connects local audio I/O to bus topics.
// It captures from a local microphone and publishes to the bus,
// and subscribes from the bus to play on a local speaker.
type AudioBridge struct {
	client *Client
	logger *slog.Logger

	micTopic          string
	speakerTopic      string
	encoding          Encoding
	speakerBufferSize int

	mu     sync.Mutex
	micPub *AudioPublisher
	spkSub *AudioSubscriber
	stopCh chan struct{}
	closed bool
	wg     sync.WaitGroup

	// Callbacks
	onMicChunk     func(chunk audioio.AudioChunk)
	onSpeakerChunk func(chunk audioio.AudioChunk)

	// Stats
	micChunks     atomic.Int64
	speakerChunks atomic.Int64
	writeErrors   atomic.Int64
}

// AudioBridgeConfig configures the AudioBridge.
type AudioBridgeConfig struct {
	// MicTopic is the topic for microphone audio.
	// Default: "{prefix}/rt/audio/mic"
	MicTopic string

	// SpeakerTopic is the topic for speaker audio.
	// Default: "{prefix}/rt/audio/speaker"
	SpeakerTopic string

	// Encoding is the codec for published mic audio.
	// Default: PCM16
	Encoding Encoding

	// SpeakerBufferSize is the number of chunks to buffer for playback.
	// Default: 50 (~1 second at 20ms chunks)
	SpeakerBufferSize int

	// OnMicChunk is called for each mic chunk before publishing.
	// Can be used for VAD, visualization, etc.
	OnMicChunk func(chunk audioio.AudioChunk)

	// OnSpeakerChunk is called for each speaker chunk before playing.
	OnSpeakerChunk func(chunk audioio.AudioChunk)
}

// DefaultAudioBridgeConfig returns sensible defaults.
func DefaultAudioBridgeConfig(client *Client) AudioBridgeConfig {
	return AudioBridgeConfig{
		MicTopic:          client.Topics().AudioMic(),
		SpeakerTopic:      client.Topics().AudioSpeaker(),
		Encoding:          EncodingPCM16,
		SpeakerBufferSize: 50,
	}
}

// NewAudioBridge creates a new audio bridge.
func NewAudioBridge(client *Client, cfg AudioBridgeConfig, logger *slog.Logger) (*AudioBridge, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MicTopic == "" {
		cfg.MicTopic = client.Topics().AudioMic()
	}
	if cfg.SpeakerTopic == "" {
		cfg.SpeakerTopic = client.Topics().AudioSpeaker()
	}
	if cfg.Encoding == 0 {
		cfg.Encoding = EncodingPCM16
	}
	if cfg.SpeakerBufferSize <= 0 {
		cfg.SpeakerBufferSize = 50
	}

	return &AudioBridge{
		client:            client,
		logger:            logger.With("component", "bus.bridge"),
		micTopic:          cfg.MicTopic,
		speakerTopic:      cfg.SpeakerTopic,
		encoding:          cfg.Encoding,
		speakerBufferSize: cfg.SpeakerBufferSize,
		stopCh:            make(chan struct{}),
		onMicChunk:        cfg.OnMicChunk,
		onSpeakerChunk:    cfg.OnSpeakerChunk,
	}, nil
}

// StartMic publishes every chunk from a started source until ctx is done
// or the source stream closes.
func (b *AudioBridge) StartMic(ctx context.Context, src audioio.Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStreamClosed
	}
	if b.micPub != nil {
		return nil // Already running
	}

	pub, err := NewAudioPublisher(b.client, b.micTopic, b.encoding, b.logger)
	if err != nil {
		return err
	}
	b.micPub = pub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		stream := src.Stream()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case chunk, ok := <-stream:
				if !ok {
					return
				}

				if b.onMicChunk != nil {
					b.onMicChunk(chunk)
				}

				if err := pub.Publish(ctx, chunk); err != nil {
					if errors.Is(err, ErrStreamClosed) {
						return
					}
					b.logger.Debug("mic publish error", "error", err)
					continue
				}

				b.micChunks.Add(1)
			}
		}
	}()

	b.logger.Info("mic publisher started", "topic", b.micTopic, "source", src.Name())
	return nil
}

// StartSpeaker plays audio received on the speaker topic through a
// started sink until ctx is done or the bridge is closed.
func (b *AudioBridge) StartSpeaker(ctx context.Context, sink audioio.Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStreamClosed
	}
	if b.spkSub != nil {
		return nil // Already running
	}

	sub, err := NewAudioSubscriber(b.client, b.speakerTopic, b.speakerBufferSize, b.logger)
	if err != nil {
		return err
	}
	b.spkSub = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-sub.Stream():
				if !ok {
					return
				}

				if b.onSpeakerChunk != nil {
					b.onSpeakerChunk(chunk)
				}

				if err := sink.Write(ctx, chunk); err != nil {
					b.writeErrors.Add(1)
					b.logger.Debug("speaker write error", "error", err)
					continue
				}

				b.speakerChunks.Add(1)
			}
		}
	}()

	b.logger.Info("speaker subscriber started", "topic", b.speakerTopic, "sink", sink.Name())
	return nil
}

// Wait blocks until the bridge goroutines have exited.
func (b *AudioBridge) Wait() {
	b.wg.Wait()
}

// Close stops both directions and waits for the goroutines.
func (b *AudioBridge) Close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.stopCh)
	}
	var errs []error

	if b.micPub != nil {
		if err := b.micPub.Close(); err != nil {
			errs = append(errs, err)
		}
		b.micPub = nil
	}

	if b.spkSub != nil {
		if err := b.spkSub.Close(); err != nil {
			errs = append(errs, err)
		}
		b.spkSub = nil
	}
	b.mu.Unlock()

	b.wg.Wait()
	return errors.Join(errs...)
}

// Stats returns bridge statistics.
func (b *AudioBridge) Stats() AudioBridgeStats {
	return AudioBridgeStats{
		MicChunksSent:     b.micChunks.Load(),
		SpeakerChunksRecv: b.speakerChunks.Load(),
		WriteErrors:       b.writeErrors.Load(),
	}
}

// AudioBridgeStats contains bridge statistics.
type AudioBridgeStats struct {
	MicChunksSent     int64 `json:"mic_chunks_sent"`
	SpeakerChunksRecv int64 `json:"speaker_chunks_recv"`
	WriteErrors       int64 `json:"write_errors"`
}
