package audioio

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource_MockByName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock

	src, err := NewSource(cfg, nil)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "mock", src.Name())
	assert.Equal(t, BackendMock, src.Config().Backend)
}

func TestNewSink_UnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "alsa"

	_, err := NewSink(cfg, nil)
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestNewSource_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 0

	_, err := NewSource(cfg, nil)
	assert.Error(t, err)
}

func TestRegister_AutoPrefersHardware(t *testing.T) {
	var opened bool
	Register(BackendMalgo,
		func(cfg Config, logger *slog.Logger) (Source, error) {
			opened = true
			return NewMockSource(cfg, logger), nil
		},
		nil,
		func() ([]Device, error) { return []Device{{Name: "hw:0", InputChannels: 2}}, nil },
	)
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, BackendMalgo)
		registryMu.Unlock()
	})

	src, err := NewSource(DefaultConfig(), nil)
	require.NoError(t, err)
	defer src.Close()
	assert.True(t, opened)
	assert.Equal(t, BackendMalgo, src.Config().Backend)

	_, err = NewSink(DefaultConfig(), nil)
	assert.True(t, errors.Is(err, ErrUnknownBackend), "malgo registered without playback")

	devices, err := ListDevices(BackendMalgo)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "hw:0", devices[0].Name)

	assert.Contains(t, AvailableBackends(), BackendMalgo)
}
