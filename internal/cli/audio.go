package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-robospeech/pkg/asr"
	"github.com/teslashibe/go-robospeech/pkg/audioio"
	"github.com/teslashibe/go-robospeech/pkg/recorder"
	"github.com/teslashibe/go-robospeech/pkg/tts"
)

func recordCommand(a *app) *cobra.Command {
	var (
		duration time.Duration
		out      string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the microphone to a WAV file",
		Long:  "Capture a fixed duration of microphone audio, save it as 16 kHz mono WAV and report its level.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.newSource()
			if err != nil {
				return err
			}
			defer src.Close()

			rec := recorder.New(src, recorder.WithLogger(a.logger))
			res, err := rec.Record(cmd.Context(), recorder.Options{Duration: duration, Path: out})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %s, peak %.1f dBFS, rms %.1f dBFS\n",
				res.Path, res.Duration.Round(time.Millisecond), res.Peak, res.RMS)
			if res.Silent {
				fmt.Fprintln(cmd.OutOrStdout(), "warning: recording is silent, check the input device")
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "recording length")
	cmd.Flags().StringVarP(&out, "out", "o", "recording.wav", "output WAV file")
	return cmd
}

func asrCommand(a *app) *cobra.Command {
	var (
		duration time.Duration
		language string
		partial  bool
	)
	cmd := &cobra.Command{
		Use:   "asr [file.wav]",
		Short: "Recognize speech from a WAV file or the microphone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []asr.Option
			if language != "" {
				opts = append(opts, asr.WithLanguage(language))
			}
			if partial {
				opts = append(opts, asr.WithOnPartial(func(text string) {
					fmt.Fprintf(cmd.ErrOrStderr(), "… %s\n", text)
				}))
			}
			rec, err := a.newRecognizer(opts...)
			if err != nil {
				return err
			}

			var res *asr.Result
			if len(args) == 1 {
				res, err = recognizeFile(cmd.Context(), rec, args[0])
			} else {
				res, err = a.recognizeMic(cmd.Context(), rec, duration)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "microphone listening time")
	cmd.Flags().StringVar(&language, "language", "", "recognition language (default speech.language)")
	cmd.Flags().BoolVar(&partial, "partial", false, "print partial transcripts to stderr")
	return cmd
}

func recognizeFile(ctx context.Context, rec asr.Recognizer, path string) (*asr.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	chunk, err := audioio.ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	samples := audioio.Downmix(chunk.Samples, chunk.Channels)
	return rec.RecognizeFile(ctx, samples, chunk.SampleRate)
}

// recognizeMic streams d of microphone audio to the recognizer.
func (a *app) recognizeMic(ctx context.Context, rec asr.Recognizer, d time.Duration) (*asr.Result, error) {
	src, err := a.newSource()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	defer src.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	audio := make(chan []byte, 64)
	go func() {
		defer close(audio)
		target := audioio.Config{SampleRate: asr.SampleRate, Channels: 1}
		deadline := time.After(d)
		for {
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				return
			case chunk, ok := <-src.Stream():
				if !ok {
					return
				}
				chunk = audioio.ConvertChunk(chunk, target)
				select {
				case audio <- chunk.Bytes():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	a.logger.Info("listening", "duration", d)
	return rec.Recognize(ctx, audio)
}

func ttsCommand(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "tts <text>",
		Short: "Synthesize text and play it or save it as WAV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newSynthesizer()
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Synthesize(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.logger.Info("synthesized", "chars", res.CharCount, "duration", res.Duration, "latency_ms", res.LatencyMs)

			if out != "" {
				return writeWAV(out, res)
			}
			return a.play(cmd.Context(), res.Chunk())
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write a WAV file instead of playing")
	return cmd
}

func writeWAV(path string, res *tts.AudioResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audioio.WriteWAV(f, res.Chunk()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func toneCommand(a *app) *cobra.Command {
	var (
		freq, amp float64
		duration  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a test tone on the speaker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.audioConfig(a.settings.Audio.OutputDevice)
			chunk := audioio.NewToneGenerator(freq, amp, cfg.SampleRate).Chunk(duration, cfg.Channels)
			return a.play(cmd.Context(), chunk)
		},
	}
	cmd.Flags().Float64Var(&freq, "freq", 440, "frequency in Hz")
	cmd.Flags().Float64Var(&amp, "amp", 0.3, "amplitude, 0 to 1")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 2*time.Second, "tone length")
	return cmd
}

// play writes chunk to the configured sink in buffer-sized pieces and waits
// for playback to finish.
func (a *app) play(ctx context.Context, chunk audioio.AudioChunk) error {
	sink, err := a.newSink()
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.Start(ctx); err != nil {
		return err
	}

	cfg := sink.Config()
	chunk = audioio.ConvertChunk(chunk, cfg)
	step := cfg.BufferSize() * chunk.Channels
	for off := 0; off < len(chunk.Samples); off += step {
		piece := audioio.AudioChunk{
			Samples:    chunk.Samples[off:min(off+step, len(chunk.Samples))],
			SampleRate: chunk.SampleRate,
			Channels:   chunk.Channels,
		}
		if err := sink.Write(ctx, piece); err != nil {
			if errors.Is(err, context.Canceled) {
				return sink.Clear()
			}
			return err
		}
	}
	return sink.Flush(ctx)
}

func devicesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio backends and devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, b := range audioio.AvailableBackends() {
				devices, err := audioio.ListDevices(b)
				if err != nil {
					fmt.Fprintf(w, "%s: %v\n", b, err)
					continue
				}
				fmt.Fprintf(w, "%s:\n", b)
				for _, d := range devices {
					def := ""
					if d.Default {
						def = " (default)"
					}
					fmt.Fprintf(w, "  %-40s in=%d out=%d%s\n", d.Name, d.InputChannels, d.OutputChannels, def)
				}
			}
			return nil
		},
	}
}
