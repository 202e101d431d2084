package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-robospeech/pkg/bus"
)

// Simulator is the robot side of the motion switcher, for bench testing
// without hardware. It serves the RPC APIs from in-memory state.
type Simulator struct {
	server *bus.RPCServer
	logger *slog.Logger

	mu           sync.Mutex
	status       ModeStatus
	silent       bool
	modes        map[string]string // name -> form
	releaseDelay time.Duration
	pending      *time.Timer
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithInitialMode starts the simulator with a motion service active.
func WithInitialMode(name string) SimulatorOption {
	return func(s *Simulator) {
		s.status = ModeStatus{Form: s.modes[name], Name: name}
	}
}

// WithReleaseDelay makes ReleaseMode take effect after d, like a real
// robot that needs time to settle.
func WithReleaseDelay(d time.Duration) SimulatorOption {
	return func(s *Simulator) {
		s.releaseDelay = d
	}
}

// NewSimulator creates a simulator serving on client's motion switcher topics.
// Call Start to begin serving.
func NewSimulator(client *bus.Client, logger *slog.Logger, opts ...SimulatorOption) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	topics := client.Topics()

	s := &Simulator{
		server: bus.NewRPCServer(client, topics.MotionSwitcherRequest(), topics.MotionSwitcherResponse(), logger),
		logger: logger.With("component", "robot.sim"),
		modes: map[string]string{
			ModeNormal:   "0",
			ModeAI:       "0",
			ModeAdvanced: "1",
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server.Handle(APICheckMode, s.checkMode)
	s.server.Handle(APISelectMode, s.selectMode)
	s.server.Handle(APIReleaseMode, s.releaseMode)
	s.server.Handle(APISetSilent, s.setSilent)
	s.server.Handle(APIGetSilent, s.getSilent)

	return s
}

// Start begins serving requests.
func (s *Simulator) Start(ctx context.Context) error {
	if err := s.server.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("robot simulator started", "mode", s.Status().String())
	return nil
}

// Status returns the simulated mode.
func (s *Simulator) Status() ModeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close stops serving and cancels any pending release.
func (s *Simulator) Close() error {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.mu.Unlock()
	return s.server.Close()
}

func (s *Simulator) checkMode(context.Context, string) (string, error) {
	return encode(s.Status())
}

func (s *Simulator) selectMode(_ context.Context, parameter string) (string, error) {
	var p selectParameter
	if err := json.Unmarshal([]byte(parameter), &p); err != nil || p.Name == "" {
		return "", &bus.RPCError{Code: bus.CodeBadParameter, Message: "name is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	form, ok := s.modes[p.Name]
	if !ok {
		return "", &bus.RPCError{Code: CodeUnknownMode, Message: p.Name}
	}
	if s.status.Active() && s.status.Name != p.Name {
		return "", &bus.RPCError{Code: CodeModeBusy, Message: s.status.Name}
	}

	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.status = ModeStatus{Form: form, Name: p.Name}
	s.logger.Info("mode selected", "mode", p.Name)
	return "", nil
}

func (s *Simulator) releaseMode(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.releaseDelay <= 0 {
		s.status = ModeStatus{}
		return "", nil
	}
	if s.pending == nil {
		var t *time.Timer
		t = time.AfterFunc(s.releaseDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// A select after this release replaced or cleared the timer.
			if s.pending != t {
				return
			}
			s.status = ModeStatus{}
			s.pending = nil
		})
		s.pending = t
	}
	return "", nil
}

func (s *Simulator) setSilent(_ context.Context, parameter string) (string, error) {
	var p silentParameter
	if err := json.Unmarshal([]byte(parameter), &p); err != nil {
		return "", &bus.RPCError{Code: bus.CodeBadParameter, Message: err.Error()}
	}

	s.mu.Lock()
	s.silent = p.Silent
	s.mu.Unlock()
	return "", nil
}

func (s *Simulator) getSilent(context.Context, string) (string, error) {
	s.mu.Lock()
	silent := s.silent
	s.mu.Unlock()
	return encode(silentParameter{Silent: silent})
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return string(data), nil
}
