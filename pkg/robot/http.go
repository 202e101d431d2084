package robot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/teslashibe/go-robospeech/internal/httpc"
)

// httpClient is a shared HTTP client with timeout to prevent blocking.
// Used by all HTTPSwitcher instances.
var httpClient = httpc.NewClient(2 * time.Second)

// HTTPSwitcher implements ModeSwitcher using the robot daemon's REST API.
type HTTPSwitcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSwitcher creates a switcher for the daemon at baseURL,
// e.g. "http://192.168.123.161:8000".
func NewHTTPSwitcher(baseURL string) *HTTPSwitcher {
	return &HTTPSwitcher{
		BaseURL: baseURL,
		Client:  httpClient,
	}
}

// CheckMode returns the active control mode.
func (r *HTTPSwitcher) CheckMode(ctx context.Context) (ModeStatus, error) {
	var status ModeStatus
	if err := r.do(ctx, http.MethodGet, "/api/motion/mode", nil, &status); err != nil {
		return ModeStatus{}, fmt.Errorf("mode check request failed: %w", err)
	}
	return status, nil
}

// SelectMode starts the named motion service.
func (r *HTTPSwitcher) SelectMode(ctx context.Context, name string) error {
	if err := r.do(ctx, http.MethodPost, "/api/motion/mode", selectParameter{Name: name}, nil); err != nil {
		return fmt.Errorf("mode select request failed: %w", err)
	}
	return nil
}

// ReleaseMode stops the active motion service.
func (r *HTTPSwitcher) ReleaseMode(ctx context.Context) error {
	if err := r.do(ctx, http.MethodDelete, "/api/motion/mode", nil, nil); err != nil {
		return fmt.Errorf("mode release request failed: %w", err)
	}
	return nil
}

// SetSilent toggles silent mode.
func (r *HTTPSwitcher) SetSilent(ctx context.Context, silent bool) error {
	if err := r.do(ctx, http.MethodPut, "/api/motion/silent", silentParameter{Silent: silent}, nil); err != nil {
		return fmt.Errorf("silent set request failed: %w", err)
	}
	return nil
}

// GetSilent reports whether silent mode is on.
func (r *HTTPSwitcher) GetSilent(ctx context.Context) (bool, error) {
	var p silentParameter
	if err := r.do(ctx, http.MethodGet, "/api/motion/silent", nil, &p); err != nil {
		return false, fmt.Errorf("silent get request failed: %w", err)
	}
	return p.Silent, nil
}

func (r *HTTPSwitcher) do(ctx context.Context, method, path string, in, out any) error {
	err := httpc.DoJSON(ctx, r.Client, method, r.BaseURL+path, in, out)

	var se *httpc.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusNotFound, http.StatusBadRequest:
			if method == http.MethodPost {
				return fmt.Errorf("%w: %s", ErrUnknownMode, se.Body)
			}
		case http.StatusConflict:
			return fmt.Errorf("%w: %s", ErrModeBusy, se.Body)
		}
	}
	return err
}
