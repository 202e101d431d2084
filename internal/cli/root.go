// Package cli implements the robospeech command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-robospeech/internal/config"
	"github.com/teslashibe/go-robospeech/internal/log"
)

// app is shared by every command. settings and logger are set by the root
// command's PersistentPreRunE.
type app struct {
	v        *viper.Viper
	cfgFile  string
	settings *config.Settings
	logger   *slog.Logger
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "robospeech",
		Short:         "Speech tools for the robot: record, recognize, speak and serve",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize()
		},
	}

	if err := setupFlags(rootCmd, a); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		recordCommand(a),
		asrCommand(a),
		ttsCommand(a),
		toneCommand(a),
		devicesCommand(a),
		modeCommand(a),
		handlerCommand(a),
		simCommand(a),
		bridgeCommand(a),
	)
	return rootCmd
}

// initialize loads .env and the config file and sets up logging.
func (a *app) initialize() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	s, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.settings = s

	log.Init(s.LogLevel)
	a.logger = log.L()
	a.logger.Debug("configuration loaded", "file", a.v.ConfigFileUsed())
	return nil
}

// setupFlags defines flags that are global to the command line interface
// and binds them to their config keys.
func setupFlags(rootCmd *cobra.Command, a *app) error {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default robospeech.yaml in . or ~/.config/robospeech)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("backend", "auto", "audio backend: auto, portaudio, malgo, mock")
	pf.String("bus", "mqtt", "bus transport: mqtt or memory")
	pf.String("broker", "", "MQTT broker URL")
	pf.String("robot-ip", "", "robot IP address")

	return bindFlags(a.v, pf, map[string]string{
		"log-level": "log_level",
		"backend":   "audio.backend",
		"bus":       "bus.transport",
		"broker":    "bus.broker",
		"robot-ip":  "robot.ip",
	})
}

// bindFlags binds each flag to its config key so that an explicitly set
// flag overrides the file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
