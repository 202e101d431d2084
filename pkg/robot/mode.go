package robot

import (
	"errors"
	"fmt"
)

// Motion switcher API ids.
const (
	APICheckMode   = 1001
	APISelectMode  = 1002
	APIReleaseMode = 1003
	APISetSilent   = 1004
	APIGetSilent   = 1005
)

// Robot-side status codes returned by the motion switcher.
const (
	CodeUnknownMode = 7001
	CodeModeBusy    = 7002
)

// Sentinel errors.
var (
	ErrUnknownMode = errors.New("robot: unknown control mode")
	ErrModeBusy    = errors.New("robot: another control mode is active")
	ErrNotReleased = errors.New("robot: control mode still active")
)

// Well-known mode names.
const (
	ModeNormal   = "normal"
	ModeAI       = "ai"
	ModeAdvanced = "advanced"
)

// ModeStatus is the robot's current control mode.
// An empty Name means no motion service is active.
type ModeStatus struct {
	Form string `json:"form"`
	Name string `json:"name"`
}

// Active reports whether a motion service is running.
func (s ModeStatus) Active() bool {
	return s.Name != ""
}

func (s ModeStatus) String() string {
	if !s.Active() {
		return "released (no motion service)"
	}
	if s.Form != "" {
		return fmt.Sprintf("%s (form %s)", s.Name, s.Form)
	}
	return s.Name
}

type selectParameter struct {
	Name string `json:"name"`
}

type silentParameter struct {
	Silent bool `json:"silent"`
}
