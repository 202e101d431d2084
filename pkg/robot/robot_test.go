package robot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-robospeech/pkg/bus"
)

func newSimPair(t *testing.T, opts ...SimulatorOption) (*BusSwitcher, *Simulator) {
	t.Helper()
	client := bus.NewWithTransport(bus.NewMemory(), "robot", nil)

	sim := NewSimulator(client, nil, opts...)
	require.NoError(t, sim.Start(context.Background()))

	sw, err := NewBusSwitcher(client, time.Second, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sw.Close()
		_ = sim.Close()
		_ = client.Close()
	})
	return sw, sim
}

func TestModeStatus(t *testing.T) {
	assert.False(t, ModeStatus{}.Active())
	assert.Equal(t, "released (no motion service)", ModeStatus{}.String())
	assert.Equal(t, "ai (form 0)", ModeStatus{Form: "0", Name: "ai"}.String())
	assert.Equal(t, "ai", ModeStatus{Name: "ai"}.String())
}

func TestBusSwitcher_CheckMode(t *testing.T) {
	sw, _ := newSimPair(t, WithInitialMode(ModeNormal))

	status, err := sw.CheckMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeStatus{Form: "0", Name: ModeNormal}, status)
	assert.True(t, status.Active())
}

func TestBusSwitcher_SelectAndRelease(t *testing.T) {
	sw, sim := newSimPair(t)
	ctx := context.Background()

	require.NoError(t, sw.SelectMode(ctx, ModeAdvanced))
	assert.Equal(t, ModeStatus{Form: "1", Name: ModeAdvanced}, sim.Status())

	// Selecting a different mode while one is active is refused.
	err := sw.SelectMode(ctx, ModeAI)
	assert.ErrorIs(t, err, ErrModeBusy)

	require.NoError(t, sw.ReleaseMode(ctx))
	status, err := sw.CheckMode(ctx)
	require.NoError(t, err)
	assert.False(t, status.Active())

	require.NoError(t, sw.SelectMode(ctx, ModeAI))
}

func TestBusSwitcher_UnknownMode(t *testing.T) {
	sw, _ := newSimPair(t)

	err := sw.SelectMode(context.Background(), "moonwalk")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestBusSwitcher_Silent(t *testing.T) {
	sw, _ := newSimPair(t)
	ctx := context.Background()

	silent, err := sw.GetSilent(ctx)
	require.NoError(t, err)
	assert.False(t, silent)

	require.NoError(t, sw.SetSilent(ctx, true))
	silent, err = sw.GetSilent(ctx)
	require.NoError(t, err)
	assert.True(t, silent)
}

func TestBusSwitcher_NoRobot(t *testing.T) {
	client := bus.NewWithTransport(bus.NewMemory(), "robot", nil)
	sw, err := NewBusSwitcher(client, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer sw.Close()

	_, err = sw.CheckMode(context.Background())
	assert.ErrorIs(t, err, bus.ErrRPCTimeout)
}

func TestWaitForRelease_Delayed(t *testing.T) {
	sw, _ := newSimPair(t, WithInitialMode(ModeAI), WithReleaseDelay(30*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before, err := EnsureReleased(ctx, sw, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ModeAI, before.Name)

	status, err := sw.CheckMode(ctx)
	require.NoError(t, err)
	assert.False(t, status.Active())
}

func TestSimulator_SelectCancelsPendingRelease(t *testing.T) {
	sw, sim := newSimPair(t, WithInitialMode(ModeAI), WithReleaseDelay(30*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, sw.ReleaseMode(ctx))
	require.NoError(t, sw.SelectMode(ctx, ModeAI))

	// Wait well past the release delay.
	time.Sleep(100 * time.Millisecond)

	status, err := sw.CheckMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeAI, status.Name)
	assert.Equal(t, ModeAI, sim.Status().Name)
}

func TestWaitForRelease_Timeout(t *testing.T) {
	mock := &MockSwitcher{Status: ModeStatus{Name: ModeNormal}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := WaitForRelease(ctx, mock, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotReleased)
	assert.Contains(t, err.Error(), "normal")

	checks, _ := mock.Calls()
	assert.Greater(t, checks, 1)
}

func TestWaitForRelease_RetriesErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	mock := &MockSwitcher{CheckModeFunc: func(context.Context) (ModeStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return ModeStatus{}, errors.New("link down")
		}
		return ModeStatus{}, nil
	}}

	require.NoError(t, WaitForRelease(context.Background(), mock, time.Millisecond))
	assert.Equal(t, 3, calls)
}

func TestEnsureReleased_AlreadyReleased(t *testing.T) {
	mock := &MockSwitcher{}
	before, err := EnsureReleased(context.Background(), mock, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, before.Active())

	_, releases := mock.Calls()
	assert.Equal(t, 0, releases)
}

// fakeDaemon serves the motion REST API from memory.
func fakeDaemon(t *testing.T) (*httptest.Server, *ModeStatus) {
	t.Helper()
	var mu sync.Mutex
	status := &ModeStatus{Form: "0", Name: ModeNormal}
	silent := false

	mux := http.NewServeMux()
	mux.HandleFunc("/api/motion/mode", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(status)
		case http.MethodPost:
			var p selectParameter
			_ = json.NewDecoder(r.Body).Decode(&p)
			if p.Name == "moonwalk" {
				http.Error(w, "unknown mode", http.StatusNotFound)
				return
			}
			if status.Active() && status.Name != p.Name {
				http.Error(w, status.Name, http.StatusConflict)
				return
			}
			*status = ModeStatus{Form: "0", Name: p.Name}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			*status = ModeStatus{}
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/api/motion/silent", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.Method == http.MethodPut {
			var p silentParameter
			_ = json.NewDecoder(r.Body).Decode(&p)
			silent = p.Silent
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(silentParameter{Silent: silent})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, status
}

func TestHTTPSwitcher(t *testing.T) {
	srv, _ := fakeDaemon(t)
	sw := NewHTTPSwitcher(srv.URL)
	ctx := context.Background()

	status, err := sw.CheckMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, status.Name)

	assert.ErrorIs(t, sw.SelectMode(ctx, ModeAI), ErrModeBusy)
	assert.ErrorIs(t, sw.SelectMode(ctx, "moonwalk"), ErrUnknownMode)

	require.NoError(t, sw.ReleaseMode(ctx))
	require.NoError(t, WaitForRelease(ctx, sw, time.Millisecond))
	require.NoError(t, sw.SelectMode(ctx, ModeAI))

	require.NoError(t, sw.SetSilent(ctx, true))
	silent, err := sw.GetSilent(ctx)
	require.NoError(t, err)
	assert.True(t, silent)
}

func TestHTTPSwitcher_Unreachable(t *testing.T) {
	srv, _ := fakeDaemon(t)
	srv.Close()

	_, err := NewHTTPSwitcher(srv.URL).CheckMode(context.Background())
	assert.Error(t, err)
}
