package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// Encoding identifies the payload codec of an AudioFrame.
type Encoding uint8

const (
	EncodingPCM16 Encoding = 1
	EncodingOpus  Encoding = 2
)

func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingOpus:
		return "opus"
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

// ParseEncoding maps a codec name to an Encoding.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "pcm16", "pcm", "":
		return EncodingPCM16, nil
	case "opus":
		return EncodingOpus, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// Frame errors.
var (
	ErrShortFrame   = errors.New("bus: audio frame too short")
	ErrUnknownCodec = errors.New("bus: unknown audio codec")
)

// FrameHeaderSize is the fixed header length of an encoded AudioFrame.
const FrameHeaderSize = 16

// AudioFrame is one audio packet on the bus.
// Wire format (little endian):
//
//	[4 sample_rate][2 channels][1 encoding][1 reserved][4 seq][4 length][payload...]
type AudioFrame struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
	Seq        uint32
	Payload    []byte
	Timestamp  time.Time
}

// Encode serializes the frame for transmission.
func (f *AudioFrame) Encode() []byte {
	buf := make([]byte, FrameHeaderSize+len(f.Payload))

	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.SampleRate))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(f.Channels))
	buf[6] = byte(f.Encoding)
	binary.LittleEndian.PutUint32(buf[8:12], f.Seq)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)

	return buf
}

// Decode deserializes a frame from wire format. The payload is copied.
func (f *AudioFrame) Decode(data []byte) error {
	if len(data) < FrameHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	f.SampleRate = int(binary.LittleEndian.Uint32(data[0:4]))
	f.Channels = int(binary.LittleEndian.Uint16(data[4:6]))
	f.Encoding = Encoding(data[6])
	f.Seq = binary.LittleEndian.Uint32(data[8:12])
	length := int(binary.LittleEndian.Uint32(data[12:16]))

	if len(data) < FrameHeaderSize+length {
		return fmt.Errorf("%w: got %d, need %d", ErrShortFrame, len(data), FrameHeaderSize+length)
	}
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("bus: invalid audio format %d Hz x %d", f.SampleRate, f.Channels)
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, data[FrameHeaderSize:FrameHeaderSize+length])
	f.Timestamp = time.Now()
	return nil
}

// FrameCodec converts between PCM chunks and frame payloads.
// Codecs may be stateful; use one per stream.
type FrameCodec interface {
	Encoding() Encoding
	Encode(chunk audioio.AudioChunk) ([]byte, error)
	Decode(payload []byte) (audioio.AudioChunk, error)
}

// CodecFactory creates a codec for a stream format.
type CodecFactory func(sampleRate, channels int) (FrameCodec, error)

var (
	codecMu sync.RWMutex
	codecs  = map[Encoding]CodecFactory{}
)

// RegisterCodec makes a codec available to NewCodec.
// Codec subpackages call it from init.
func RegisterCodec(e Encoding, f CodecFactory) {
	codecMu.Lock()
	defer codecMu.Unlock()
	codecs[e] = f
}

// NewCodec creates a codec for the given encoding and format.
func NewCodec(e Encoding, sampleRate, channels int) (FrameCodec, error) {
	codecMu.RLock()
	f, ok := codecs[e]
	codecMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (not registered)", ErrUnknownCodec, e)
	}
	return f(sampleRate, channels)
}

// RegisteredCodecs lists the registered encodings.
func RegisteredCodecs() []Encoding {
	codecMu.RLock()
	defer codecMu.RUnlock()

	out := make([]Encoding, 0, len(codecs))
	for e := range codecs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	RegisterCodec(EncodingPCM16, func(rate, channels int) (FrameCodec, error) {
		return PCM16Codec{SampleRate: rate, Channels: channels}, nil
	})
}

// PCM16Codec carries raw little-endian PCM16 samples.
type PCM16Codec struct {
	SampleRate int
	Channels   int
}

func (PCM16Codec) Encoding() Encoding { return EncodingPCM16 }

func (c PCM16Codec) Encode(chunk audioio.AudioChunk) ([]byte, error) {
	return audioio.SamplesToBytes(chunk.Samples), nil
}

func (c PCM16Codec) Decode(payload []byte) (audioio.AudioChunk, error) {
	if len(payload)%2 != 0 {
		return audioio.AudioChunk{}, fmt.Errorf("bus: odd pcm16 payload length %d", len(payload))
	}
	return audioio.AudioChunk{
		Samples:    audioio.BytesToSamples(payload),
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
	}, nil
}
