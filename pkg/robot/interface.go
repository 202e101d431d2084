// Package robot queries and switches the robot's motion control mode.
//
// The robot runs at most one motion service at a time (e.g. "normal",
// "ai", "advanced"). Speech components only need to know whether a
// service is active and, on the bench, release it so the robot stays
// still. The mode is never interpreted here.
//
// This package follows the Interface Segregation Principle (ISP) by defining
// small, focused interfaces that can be composed as needed. Consumers should
// depend only on the interfaces they actually use.
package robot

import "context"

// ModeChecker provides control-mode queries.
// Use this minimal interface for one-shot checks and dashboards.
type ModeChecker interface {
	CheckMode(ctx context.Context) (ModeStatus, error)
}

// ModeSelector switches the motion service.
type ModeSelector interface {
	SelectMode(ctx context.Context, name string) error
	ReleaseMode(ctx context.Context) error
}

// SilentController toggles silent mode, in which the robot does not
// start a motion service on its own.
type SilentController interface {
	SetSilent(ctx context.Context, silent bool) error
	GetSilent(ctx context.Context) (bool, error)
}

// ModeSwitcher is the composite interface for full mode control.
type ModeSwitcher interface {
	ModeChecker
	ModeSelector
	SilentController
}

// Ensure implementations satisfy ModeSwitcher
var (
	_ ModeSwitcher = (*BusSwitcher)(nil)
	_ ModeSwitcher = (*HTTPSwitcher)(nil)
)
