package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/robot"
)

func simCommand(a *app) *cobra.Command {
	var (
		mode         string
		releaseDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Simulate the robot's motion switcher on the bus",
		Long: `Answer check, select, release and silent requests on the motion switcher
topics the way the robot does. Useful for running the handler and the mode
commands without hardware.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, err := a.connectBus(ctx, "sim")
			if err != nil {
				return err
			}
			defer client.Close()

			var opts []robot.SimulatorOption
			if mode != "" {
				opts = append(opts, robot.WithInitialMode(mode))
			}
			if releaseDelay > 0 {
				opts = append(opts, robot.WithReleaseDelay(releaseDelay))
			}

			sim := robot.NewSimulator(client, a.logger, opts...)
			if err := sim.Start(ctx); err != nil {
				return fmt.Errorf("start simulator: %w", err)
			}
			defer sim.Close()

			a.logger.Info("motion switcher simulator running", "mode", sim.Status().Name)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", robot.ModeNormal, "initially active motion service (empty for none)")
	cmd.Flags().DurationVar(&releaseDelay, "release-delay", 0, "delay before a release takes effect")
	return cmd
}

func bridgeCommand(a *app) *cobra.Command {
	var (
		noMic     bool
		noSpeaker bool
	)

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Bridge the local microphone and speaker to the bus",
		Long: `Publish microphone audio on rt/audio/mic and play audio received on
rt/audio/speaker until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noMic && noSpeaker {
				return errors.New("nothing to bridge: both --no-mic and --no-speaker set")
			}
			return a.runBridge(cmd.Context(), !noMic, !noSpeaker)
		},
	}

	cmd.Flags().BoolVar(&noMic, "no-mic", false, "do not publish the microphone")
	cmd.Flags().BoolVar(&noSpeaker, "no-speaker", false, "do not play the speaker topic")
	return cmd
}

func (a *app) runBridge(ctx context.Context, mic, speaker bool) error {
	client, err := a.connectBus(ctx, "bridge")
	if err != nil {
		return err
	}
	defer client.Close()

	encoding, err := bus.ParseEncoding(a.settings.Bus.Codec)
	if err != nil {
		return err
	}
	cfg := bus.DefaultAudioBridgeConfig(client)
	cfg.Encoding = encoding

	bridge, err := bus.NewAudioBridge(client, cfg, a.logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	if mic {
		src, err := a.newSource()
		if err != nil {
			return err
		}
		defer src.Close()
		if err := src.Start(ctx); err != nil {
			return fmt.Errorf("start microphone: %w", err)
		}
		defer src.Stop()
		if err := bridge.StartMic(ctx, src); err != nil {
			return err
		}
	}

	if speaker {
		sink, err := a.newSink()
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.Start(ctx); err != nil {
			return fmt.Errorf("start speaker: %w", err)
		}
		defer sink.Stop()
		if err := bridge.StartSpeaker(ctx, sink); err != nil {
			return err
		}
	}

	<-ctx.Done()

	stats := bridge.Stats()
	a.logger.Info("bridge stopped",
		"mic_chunks", stats.MicChunksSent,
		"speaker_chunks", stats.SpeakerChunksRecv,
		"write_errors", stats.WriteErrors)
	return nil
}
