package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-robospeech/pkg/bus"
	"github.com/teslashibe/go-robospeech/pkg/robot"
	"github.com/teslashibe/go-robospeech/pkg/speech"
	"github.com/teslashibe/go-robospeech/pkg/store"
	"github.com/teslashibe/go-robospeech/pkg/web"
)

func handlerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handler",
		Short: "Run the speech handler on the bus",
		Long: `Serve speak, listen and stop requests from rt/speech/request, one at a time.
Results go to rt/speech/result and state changes to rt/speech/state. The
monitor dashboard runs alongside unless web.enabled is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHandler(cmd.Context())
		},
	}

	cmd.Flags().Int("queue-size", 16, "maximum queued requests")
	cmd.Flags().Bool("web", true, "serve the monitor dashboard")
	cmd.Flags().String("port", "8080", "dashboard port")
	cmd.Flags().String("db", "robospeech.db", "speech history database")
	if err := bindFlags(a.v, cmd.Flags(), map[string]string{
		"queue-size": "handler.queue_size",
		"web":        "web.enabled",
		"port":       "web.port",
		"db":         "store.path",
	}); err != nil {
		panic(err)
	}
	return cmd
}

func (a *app) runHandler(ctx context.Context) error {
	s := a.settings

	client, err := a.connectBus(ctx, "handler")
	if err != nil {
		return err
	}
	defer client.Close()

	hist, err := store.Open(s.Store.Path, a.logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	metrics, err := speech.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	encoding, err := bus.ParseEncoding(s.Bus.Codec)
	if err != nil {
		return err
	}

	opts := []speech.Option{
		speech.WithQueueSize(s.Handler.QueueSize),
		speech.WithListenTimeout(s.Handler.ListenTimeout),
		speech.WithEndpointing(s.Handler.SilenceThreshold, s.Handler.QuietTime),
		speech.WithSpeakerEncoding(encoding),
		speech.WithHistory(hist),
		speech.WithMetrics(metrics),
		speech.WithLogger(a.logger),
	}

	// Without credentials the handler still runs and answers every request
	// with ErrUnsupported.
	if synth, err := a.newSynthesizer(); err != nil {
		a.logger.Warn("speak disabled", "error", err)
	} else {
		defer synth.Close()
		opts = append(opts, speech.WithSynthesizer(synth))
	}
	if rec, err := a.newRecognizer(); err != nil {
		a.logger.Warn("listen disabled", "error", err)
	} else {
		opts = append(opts, speech.WithRecognizer(rec))
	}

	src, err := a.newSource()
	if err != nil {
		a.logger.Warn("microphone unavailable", "error", err)
	} else {
		defer src.Close()
		opts = append(opts, speech.WithSource(src))
	}
	sink, err := a.newSink()
	if err != nil {
		a.logger.Warn("speaker unavailable, audio is only published", "error", err)
	} else {
		defer sink.Close()
		opts = append(opts, speech.WithSink(sink))
	}

	handler, err := speech.New(client, opts...)
	if err != nil {
		return err
	}

	var server *web.Server
	if s.Web.Enabled {
		webOpts := []web.Option{
			web.WithStatus(handler),
			web.WithHistory(hist),
			web.WithLogger(a.logger),
		}
		if s.Robot.Transport == "http" {
			webOpts = append(webOpts, web.WithModeChecker(robot.NewHTTPSwitcher(s.RobotAPIURL())))
		} else {
			sw, err := robot.NewBusSwitcher(client, s.Robot.RPCTimeout, a.logger)
			if err != nil {
				return err
			}
			defer sw.Close()
			webOpts = append(webOpts, web.WithModeChecker(sw))
		}

		server = web.NewServer(s.Web.Port, webOpts...)
		if err := server.AttachBus(client); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return handler.Run(gctx)
	})
	if server != nil {
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	a.logger.Info("speech handler running", "bus", s.Bus.Transport, "web", s.Web.Enabled)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("handler: %w", err)
	}
	return nil
}
