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

// ErrStreamClosed is returned when reading from or writing to a closed stream.
var ErrStreamClosed = errors.New("bus: audio stream closed")

// AudioPublisher publishes audio chunks to a topic as AudioFrames.
type AudioPublisher struct {
	client   *Client
	topic    string
	encoding Encoding
	logger   *slog.Logger

	mu     sync.Mutex
	codec  FrameCodec
	rate   int
	chans  int
	seq    uint32
	closed bool

	// Stats
	chunksSent atomic.Int64
	bytesSent  atomic.Int64
}

// NewAudioPublisher creates a new audio publisher using the given encoding.
func NewAudioPublisher(client *Client, topic string, encoding Encoding, logger *slog.Logger) (*AudioPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	codecMu.RLock()
	_, ok := codecs[encoding]
	codecMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (not registered)", ErrUnknownCodec, encoding)
	}

	logger.Info("audio publisher created", "topic", topic, "encoding", encoding)

	return &AudioPublisher{
		client:   client,
		topic:    topic,
		encoding: encoding,
		logger:   logger,
	}, nil
}

// Publish encodes and sends an audio chunk.
func (p *AudioPublisher) Publish(ctx context.Context, chunk audioio.AudioChunk) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrStreamClosed
	}

	// The codec follows the stream format.
	if p.codec == nil || p.rate != chunk.SampleRate || p.chans != chunk.Channels {
		codec, err := NewCodec(p.encoding, chunk.SampleRate, chunk.Channels)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.codec, p.rate, p.chans = codec, chunk.SampleRate, chunk.Channels
	}

	payload, err := p.codec.Encode(chunk)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("encode audio: %w", err)
	}
	frame := AudioFrame{
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Encoding:   p.encoding,
		Seq:        p.seq,
		Payload:    payload,
	}
	p.seq++
	p.mu.Unlock()

	data := frame.Encode()
	if err := p.client.Publish(ctx, p.topic, data); err != nil {
		return fmt.Errorf("failed to publish audio: %w", err)
	}

	p.chunksSent.Add(1)
	p.bytesSent.Add(int64(len(data)))
	return nil
}

// PublishRaw sends raw PCM16 samples with metadata.
func (p *AudioPublisher) PublishRaw(ctx context.Context, samples []int16, sampleRate, channels int) error {
	return p.Publish(ctx, audioio.AudioChunk{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	})
}

// Close closes the publisher.
func (p *AudioPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Stats returns publisher statistics.
func (p *AudioPublisher) Stats() AudioPublisherStats {
	return AudioPublisherStats{
		ChunksSent: p.chunksSent.Load(),
		BytesSent:  p.bytesSent.Load(),
	}
}

// AudioPublisherStats contains publisher statistics.
type AudioPublisherStats struct {
	ChunksSent int64 `json:"chunks_sent"`
	BytesSent  int64 `json:"bytes_sent"`
}

// AudioSubscriber receives AudioFrames from a topic and decodes them.
// When the buffer is full the oldest chunk is dropped.
type AudioSubscriber struct {
	topic  string
	logger *slog.Logger
	sub    Subscription

	mu      sync.Mutex
	closed  bool
	chunkCh chan audioio.AudioChunk
	decoder FrameCodec
	decKey  [3]int
	lastSeq uint32
	seen    bool

	// Stats
	chunksReceived atomic.Int64
	bytesReceived  atomic.Int64
	decodeErrors   atomic.Int64
	dropped        atomic.Int64
	gaps           atomic.Int64
}

// NewAudioSubscriber creates a new audio subscriber.
func NewAudioSubscriber(client *Client, topic string, bufferSize int, logger *slog.Logger) (*AudioSubscriber, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 50 // ~1 second of 20ms chunks
	}

	s := &AudioSubscriber{
		topic:   topic,
		logger:  logger,
		chunkCh: make(chan audioio.AudioChunk, bufferSize),
	}

	sub, err := client.Subscribe(topic, s.handle)
	if err != nil {
		return nil, err
	}
	s.sub = sub

	logger.Info("audio subscriber created", "topic", topic, "buffer_size", bufferSize)
	return s, nil
}

func (s *AudioSubscriber) handle(_ string, payload []byte) {
	s.bytesReceived.Add(int64(len(payload)))

	var frame AudioFrame
	if err := frame.Decode(payload); err != nil {
		s.decodeErrors.Add(1)
		s.logger.Debug("failed to decode audio frame", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.seen && frame.Seq != s.lastSeq+1 {
		s.gaps.Add(1)
	}
	s.lastSeq, s.seen = frame.Seq, true

	key := [3]int{int(frame.Encoding), frame.SampleRate, frame.Channels}
	if s.decoder == nil || s.decKey != key {
		dec, err := NewCodec(frame.Encoding, frame.SampleRate, frame.Channels)
		if err != nil {
			s.decodeErrors.Add(1)
			s.logger.Debug("no decoder for audio frame", "encoding", frame.Encoding, "error", err)
			return
		}
		s.decoder, s.decKey = dec, key
	}

	chunk, err := s.decoder.Decode(frame.Payload)
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.Debug("failed to decode audio payload", "error", err)
		return
	}

	s.chunksReceived.Add(1)

	select {
	case s.chunkCh <- chunk:
	default:
		// Buffer full, drop oldest
		select {
		case <-s.chunkCh:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.chunkCh <- chunk:
		default:
			s.dropped.Add(1)
		}
	}
}

// Stream returns a channel that receives audio chunks.
// It is closed by Close.
func (s *AudioSubscriber) Stream() <-chan audioio.AudioChunk {
	return s.chunkCh
}

// Read reads the next audio chunk, blocking if necessary.
func (s *AudioSubscriber) Read(ctx context.Context) (audioio.AudioChunk, error) {
	select {
	case <-ctx.Done():
		return audioio.AudioChunk{}, ctx.Err()
	case chunk, ok := <-s.chunkCh:
		if !ok {
			return audioio.AudioChunk{}, ErrStreamClosed
		}
		return chunk, nil
	}
}

// Close unsubscribes and closes the stream.
func (s *AudioSubscriber) Close() error {
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.chunkCh)
	return err
}

// Stats returns subscriber statistics.
func (s *AudioSubscriber) Stats() AudioSubscriberStats {
	return AudioSubscriberStats{
		ChunksReceived: s.chunksReceived.Load(),
		BytesReceived:  s.bytesReceived.Load(),
		DecodeErrors:   s.decodeErrors.Load(),
		Dropped:        s.dropped.Load(),
		SeqGaps:        s.gaps.Load(),
	}
}

// AudioSubscriberStats contains subscriber statistics.
type AudioSubscriberStats struct {
	ChunksReceived int64 `json:"chunks_received"`
	BytesReceived  int64 `json:"bytes_received"`
	DecodeErrors   int64 `json:"decode_errors"`
	Dropped        int64 `json:"dropped"`
	SeqGaps        int64 `json:"seq_gaps"`
}
