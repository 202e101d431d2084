package robot

import (
	"context"
	"sync"
)

// MockSwitcher is an in-memory ModeSwitcher for tests.
type MockSwitcher struct {
	mu     sync.Mutex
	Status ModeStatus
	Silent bool

	// CheckModeFunc overrides CheckMode when set.
	CheckModeFunc func(ctx context.Context) (ModeStatus, error)

	checks   int
	releases int
}

var _ ModeSwitcher = (*MockSwitcher)(nil)

// CheckMode returns Status or the result of CheckModeFunc.
func (m *MockSwitcher) CheckMode(ctx context.Context) (ModeStatus, error) {
	m.mu.Lock()
	m.checks++
	fn, status := m.CheckModeFunc, m.Status
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return status, nil
}

func (m *MockSwitcher) SelectMode(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = ModeStatus{Name: name}
	return nil
}

func (m *MockSwitcher) ReleaseMode(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	m.Status = ModeStatus{}
	return nil
}

func (m *MockSwitcher) SetSilent(_ context.Context, silent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Silent = silent
	return nil
}

func (m *MockSwitcher) GetSilent(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Silent, nil
}

// Calls returns how many checks and releases were made.
func (m *MockSwitcher) Calls() (checks, releases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks, m.releases
}
