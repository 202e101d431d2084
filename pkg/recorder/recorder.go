// Package recorder captures a fixed duration of microphone audio and saves
// it as a 16 kHz mono WAV file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/teslashibe/go-robospeech/pkg/audioio"
)

// SilenceThreshold is the peak level, in dBFS, below which a recording is
// reported as silent.
const SilenceThreshold = -60.0

var (
	// ErrNoAudio is returned when the source produced no samples.
	ErrNoAudio = errors.New("recorder: no audio captured")
	// ErrInvalidOptions is returned for a non-positive duration or empty path.
	ErrInvalidOptions = errors.New("recorder: invalid options")
)

// Options describes a single recording.
type Options struct {
	Duration time.Duration
	Path     string
}

// Result summarises a finished recording.
type Result struct {
	Path     string        `json:"path"`
	Samples  int           `json:"samples"`
	Duration time.Duration `json:"duration"`
	Peak     float64       `json:"peak_dbfs"`
	RMS      float64       `json:"rms_dbfs"`
	Chunks   int           `json:"chunks"`
	// Silent is set when the peak never rose above SilenceThreshold.
	Silent bool `json:"silent"`
	// Partial is set when the context ended before Duration was reached.
	Partial bool `json:"partial"`
}

// Recorder writes audio from a Source to disk.
type Recorder struct {
	src    audioio.Source
	fs     afero.Fs
	logger *slog.Logger
	target audioio.Config
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFs sets the filesystem recordings are written to.
func WithFs(fs afero.Fs) Option {
	return func(r *Recorder) { r.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// New creates a Recorder reading from src.
func New(src audioio.Source, opts ...Option) *Recorder {
	r := &Recorder{
		src:    src,
		fs:     afero.NewOsFs(),
		logger: slog.Default(),
		target: audioio.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.target.Channels = 1
	r.logger = r.logger.With("component", "recorder")
	return r
}

// Record captures opts.Duration of audio into opts.Path.
// The file holds exactly Duration worth of samples unless ctx ends first,
// in which case whatever was captured is kept and Result.Partial is set.
func (r *Recorder) Record(ctx context.Context, opts Options) (*Result, error) {
	if opts.Duration <= 0 || opts.Path == "" {
		return nil, fmt.Errorf("%w: duration=%v path=%q", ErrInvalidOptions, opts.Duration, opts.Path)
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := opts.Path + ".part"
	f, err := r.fs.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = r.fs.Remove(tmp)
		}
	}()

	if err := r.src.Start(ctx); err != nil {
		return nil, fmt.Errorf("start source: %w", err)
	}
	defer r.src.Stop()

	r.logger.Info("recording", "path", opts.Path, "duration", opts.Duration, "backend", r.src.Name())

	want := r.target.FramesFor(opts.Duration)
	w := audioio.NewWAVWriter(f, r.target.SampleRate, 1)
	var meter audioio.LevelMeter
	res := &Result{Path: opts.Path}

	for res.Samples < want {
		chunk, err := r.src.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				res.Partial = true
				break
			}
			return nil, fmt.Errorf("read source: %w", err)
		}

		samples := audioio.ConvertChunk(chunk, r.target).Samples
		if rest := want - res.Samples; len(samples) > rest {
			samples = samples[:rest]
		}
		if err := w.Write(samples); err != nil {
			return nil, err
		}
		meter.Add(samples)
		res.Samples += len(samples)
		res.Chunks++
	}

	if res.Samples == 0 {
		return nil, ErrNoAudio
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalise wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close file: %w", err)
	}
	if err := r.fs.Rename(tmp, opts.Path); err != nil {
		return nil, fmt.Errorf("rename: %w", err)
	}
	committed = true

	lvl := meter.Level()
	res.Peak = lvl.Peak
	res.RMS = lvl.RMS
	res.Silent = lvl.Peak < SilenceThreshold
	res.Duration = time.Duration(res.Samples) * time.Second / time.Duration(r.target.SampleRate)

	r.logger.Info("recording saved",
		"path", res.Path,
		"samples", res.Samples,
		"peak_dbfs", fmt.Sprintf("%.1f", res.Peak),
		"silent", res.Silent,
		"partial", res.Partial,
	)
	return res, nil
}
