package robot

import (
	"context"
	"fmt"
	"time"
)

// WaitForRelease polls checker every interval until no motion service is
// active. Transient query errors are retried; the last one is reported if
// ctx ends first.
func WaitForRelease(ctx context.Context, checker ModeChecker, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	last := ModeStatus{}
	for {
		status, err := checker.CheckMode(ctx)
		if err == nil && !status.Active() {
			return nil
		}
		lastErr = err
		if err == nil {
			last = status
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w: %w", ErrNotReleased, lastErr)
			}
			return fmt.Errorf("%w: %s", ErrNotReleased, last)
		case <-ticker.C:
		}
	}
}

// EnsureReleased releases the active mode, if any, and waits for it.
// It returns the mode that was active before.
func EnsureReleased(ctx context.Context, s ModeSwitcher, interval time.Duration) (ModeStatus, error) {
	status, err := s.CheckMode(ctx)
	if err != nil {
		return ModeStatus{}, err
	}
	if !status.Active() {
		return status, nil
	}

	if err := s.ReleaseMode(ctx); err != nil {
		return status, err
	}
	return status, WaitForRelease(ctx, s, interval)
}
