package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-robospeech/pkg/robot"
)

func modeCommand(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Query and switch the robot's motion control mode",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "overall time limit")

	// withSwitcher runs fn with a connected switcher under the timeout.
	withSwitcher := func(cmd *cobra.Command, fn func(context.Context, robot.ModeSwitcher) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		sw, closer, err := a.newSwitcher(ctx)
		if err != nil {
			return err
		}
		defer closer.Close()
		return fn(ctx, sw)
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Print the active motion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSwitcher(cmd, func(ctx context.Context, sw robot.ModeSwitcher) error {
				status, err := sw.CheckMode(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mode: %s\n", status)
				return nil
			})
		},
	}

	sel := &cobra.Command{
		Use:   "select <name>",
		Short: "Start a motion service (normal, ai, advanced)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSwitcher(cmd, func(ctx context.Context, sw robot.ModeSwitcher) error {
				if err := sw.SelectMode(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "selected %s\n", args[0])
				return nil
			})
		},
	}

	var wait bool
	release := &cobra.Command{
		Use:   "release",
		Short: "Stop the active motion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSwitcher(cmd, func(ctx context.Context, sw robot.ModeSwitcher) error {
				if wait {
					prev, err := robot.EnsureReleased(ctx, sw, 500*time.Millisecond)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "released (was %s)\n", prev)
					return nil
				}
				if err := sw.ReleaseMode(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "release requested")
				return nil
			})
		},
	}
	release.Flags().BoolVar(&wait, "wait", true, "wait until no service is active")

	silent := &cobra.Command{
		Use:   "silent [on|off]",
		Short: "Show or set silent mode (motion service ignores commands)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSwitcher(cmd, func(ctx context.Context, sw robot.ModeSwitcher) error {
				if len(args) == 1 {
					on, err := parseOnOff(args[0])
					if err != nil {
						return err
					}
					if err := sw.SetSilent(ctx, on); err != nil {
						return err
					}
				}
				on, err := sw.GetSilent(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "silent: %v\n", on)
				return nil
			})
		},
	}

	cmd.AddCommand(check, sel, release, silent)
	return cmd
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return v, nil
}
