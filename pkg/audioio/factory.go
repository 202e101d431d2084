package audioio

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrUnknownBackend is returned when no backend is registered under a name.
var ErrUnknownBackend = errors.New("audioio: unknown backend")

// SourceFactory opens a capture stream for a registered backend.
type SourceFactory func(cfg Config, logger *slog.Logger) (Source, error)

// SinkFactory opens a playback stream for a registered backend.
type SinkFactory func(cfg Config, logger *slog.Logger) (Sink, error)

// DeviceLister enumerates the devices a backend can open.
type DeviceLister func() ([]Device, error)

type backendEntry struct {
	source  SourceFactory
	sink    SinkFactory
	devices DeviceLister
}

var (
	registryMu sync.RWMutex
	registry   = map[Backend]backendEntry{}
)

// autoOrder is the preference order used by BackendAuto.
var autoOrder = []Backend{BackendPortAudio, BackendMalgo}

func init() {
	Register(BackendMock,
		func(cfg Config, logger *slog.Logger) (Source, error) { return NewMockSource(cfg, logger), nil },
		func(cfg Config, logger *slog.Logger) (Sink, error) { return NewMockSink(cfg, logger), nil },
		func() ([]Device, error) {
			return []Device{{Name: "mock", InputChannels: 1, OutputChannels: 1, Default: true}}, nil
		},
	)
}

// Register makes a backend available to NewSource and NewSink.
// Registering the same backend twice replaces the earlier entry.
func Register(b Backend, source SourceFactory, sink SinkFactory, devices DeviceLister) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b] = backendEntry{source: source, sink: sink, devices: devices}
}

func lookup(b Backend) (Backend, backendEntry, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if b == BackendAuto || b == "" {
		for _, candidate := range autoOrder {
			if e, ok := registry[candidate]; ok {
				return candidate, e, nil
			}
		}
		b = BackendMock
	}

	e, ok := registry[b]
	if !ok {
		return b, backendEntry{}, fmt.Errorf("%w: %s", ErrUnknownBackend, b)
	}
	return b, e, nil
}

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best registered backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend, entry, err := lookup(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if entry.source == nil {
		return nil, fmt.Errorf("%w: %s has no capture support", ErrUnknownBackend, backend)
	}
	cfg.Backend = backend

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	return entry.source(cfg, logger)
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best registered backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend, entry, err := lookup(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if entry.sink == nil {
		return nil, fmt.Errorf("%w: %s has no playback support", ErrUnknownBackend, backend)
	}
	cfg.Backend = backend

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	return entry.sink(cfg, logger)
}

// ListDevices returns the devices known to backend b.
func ListDevices(b Backend) ([]Device, error) {
	_, entry, err := lookup(b)
	if err != nil {
		return nil, err
	}
	if entry.devices == nil {
		return nil, nil
	}
	return entry.devices()
}

// AvailableBackends returns the registered backends in sorted order.
func AvailableBackends() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	backends := make([]Backend, 0, len(registry))
	for b := range registry {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}
