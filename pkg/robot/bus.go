package robot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/bus"
)

// BusSwitcher implements ModeSwitcher over the motion switcher RPC topics.
type BusSwitcher struct {
	rpc    *bus.RPCClient
	logger *slog.Logger
}

// NewBusSwitcher creates a switcher on client's motion switcher topics.
func NewBusSwitcher(client *bus.Client, timeout time.Duration, logger *slog.Logger) (*BusSwitcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	topics := client.Topics()
	rpc, err := bus.NewRPCClient(client, topics.MotionSwitcherRequest(), topics.MotionSwitcherResponse(), timeout, logger)
	if err != nil {
		return nil, fmt.Errorf("motion switcher rpc: %w", err)
	}

	return &BusSwitcher{
		rpc:    rpc,
		logger: logger.With("component", "robot.bus"),
	}, nil
}

// CheckMode returns the active control mode.
func (s *BusSwitcher) CheckMode(ctx context.Context) (ModeStatus, error) {
	resp, err := s.call(ctx, APICheckMode, nil)
	if err != nil {
		return ModeStatus{}, err
	}

	var status ModeStatus
	if resp.Data != "" {
		if err := json.Unmarshal([]byte(resp.Data), &status); err != nil {
			return ModeStatus{}, fmt.Errorf("decode mode status: %w", err)
		}
	}
	return status, nil
}

// SelectMode starts the named motion service.
func (s *BusSwitcher) SelectMode(ctx context.Context, name string) error {
	_, err := s.call(ctx, APISelectMode, selectParameter{Name: name})
	if err == nil {
		s.logger.Info("control mode selected", "mode", name)
	}
	return err
}

// ReleaseMode stops the active motion service.
func (s *BusSwitcher) ReleaseMode(ctx context.Context) error {
	_, err := s.call(ctx, APIReleaseMode, nil)
	if err == nil {
		s.logger.Info("control mode released")
	}
	return err
}

// SetSilent toggles silent mode.
func (s *BusSwitcher) SetSilent(ctx context.Context, silent bool) error {
	_, err := s.call(ctx, APISetSilent, silentParameter{Silent: silent})
	return err
}

// GetSilent reports whether silent mode is on.
func (s *BusSwitcher) GetSilent(ctx context.Context) (bool, error) {
	resp, err := s.call(ctx, APIGetSilent, nil)
	if err != nil {
		return false, err
	}

	var p silentParameter
	if err := json.Unmarshal([]byte(resp.Data), &p); err != nil {
		return false, fmt.Errorf("decode silent state: %w", err)
	}
	return p.Silent, nil
}

// Close releases the RPC subscription.
func (s *BusSwitcher) Close() error {
	return s.rpc.Close()
}

func (s *BusSwitcher) call(ctx context.Context, apiID int, param any) (bus.Response, error) {
	var parameter string
	if param != nil {
		data, err := json.Marshal(param)
		if err != nil {
			return bus.Response{}, fmt.Errorf("marshal parameter: %w", err)
		}
		parameter = string(data)
	}

	resp, err := s.rpc.Call(ctx, apiID, parameter)
	if err != nil {
		return resp, mapRPCError(err)
	}
	return resp, nil
}

// mapRPCError translates robot status codes into package errors.
func mapRPCError(err error) error {
	var rpcErr *bus.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case CodeUnknownMode:
		return fmt.Errorf("%w: %s", ErrUnknownMode, rpcErr.Message)
	case CodeModeBusy:
		return fmt.Errorf("%w: %s", ErrModeBusy, rpcErr.Message)
	}
	return err
}
