package audioio

import (
	"encoding/binary"
	"math"
	"time"
)

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Downmix averages interleaved channels into a mono signal.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(samples[f*channels+c])
		}
		out[f] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono PCM16 between sample rates with linear
// interpolation. It is adequate for speech; music wants a polyphase filter.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	if n == 0 {
		return nil
	}

	out := make([]int16, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[i] = int16(math.Round(v))
	}
	return out
}

// Upmix duplicates each mono sample across channels.
func Upmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)*channels)
	for i, v := range samples {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

// ResampleInterleaved resamples each channel of interleaved PCM16 separately.
func ResampleInterleaved(samples []int16, channels, fromRate, toRate int) []int16 {
	if channels <= 1 {
		return Resample(samples, fromRate, toRate)
	}
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	frames := len(samples) / channels
	plane := make([]int16, frames)
	var out []int16
	for c := 0; c < channels; c++ {
		for f := 0; f < frames; f++ {
			plane[f] = samples[f*channels+c]
		}
		res := Resample(plane, fromRate, toRate)
		if out == nil {
			out = make([]int16, len(res)*channels)
		}
		for f, v := range res {
			out[f*channels+c] = v
		}
	}
	return out
}

// ConvertChunk brings a chunk to the sample rate and channel count of cfg.
// A zero rate or channel count in cfg keeps the chunk's own. Channel
// layouts other than mono in or mono out go through a mono downmix.
func ConvertChunk(chunk AudioChunk, cfg Config) AudioChunk {
	samples := chunk.Samples
	channels := max(chunk.Channels, 1)
	rate := chunk.SampleRate

	wantChannels := cfg.Channels
	if wantChannels <= 0 {
		wantChannels = channels
	}
	wantRate := cfg.SampleRate
	if wantRate <= 0 {
		wantRate = rate
	}

	if channels != wantChannels && channels > 1 {
		samples = Downmix(samples, channels)
		channels = 1
	}
	if rate != wantRate {
		samples = ResampleInterleaved(samples, channels, rate, wantRate)
	}
	if channels != wantChannels {
		samples = Upmix(samples, wantChannels)
		channels = wantChannels
	}
	return AudioChunk{Samples: samples, SampleRate: wantRate, Channels: channels}
}

// ToneGenerator produces a continuous sine wave across successive fills.
type ToneGenerator struct {
	frequency  float64
	amplitude  float64
	sampleRate int
	phase      float64
}

// NewToneGenerator creates a generator. amplitude is clamped to [0, 1].
func NewToneGenerator(frequency, amplitude float64, sampleRate int) *ToneGenerator {
	return &ToneGenerator{
		frequency:  frequency,
		amplitude:  math.Max(0, math.Min(1, amplitude)),
		sampleRate: sampleRate,
	}
}

// Fill writes the next len(dst)/channels frames of the tone into dst,
// duplicating each sample across channels.
func (g *ToneGenerator) Fill(dst []int16, channels int) {
	if channels < 1 {
		channels = 1
	}
	inc := 2 * math.Pi * g.frequency / float64(g.sampleRate)
	for f := 0; f+channels <= len(dst); f += channels {
		v := int16(g.amplitude * math.Sin(g.phase) * math.MaxInt16)
		for c := 0; c < channels; c++ {
			dst[f+c] = v
		}
		g.phase += inc
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
	}
}

// Chunk returns d worth of tone as a chunk.
func (g *ToneGenerator) Chunk(d time.Duration, channels int) AudioChunk {
	frames := int(d.Seconds() * float64(g.sampleRate))
	samples := make([]int16, frames*channels)
	g.Fill(samples, channels)
	return AudioChunk{Samples: samples, SampleRate: g.sampleRate, Channels: channels}
}
