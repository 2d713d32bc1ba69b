// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/plugin"
)

// EventKind names a state change announced to observers
type EventKind string

const (
	EventGPUSelected     EventKind = "gpu_selected"
	EventPluginLoaded    EventKind = "plugin_loaded"
	EventPluginUnloaded  EventKind = "plugin_unloaded"
	EventCatalogReloaded EventKind = "catalog_reloaded"
)

// Event is published after a successful mutation, outside any manager lock
type Event struct {
	Kind EventKind `json:"kind"`
	Data any       `json:"data"`
}

// Observer receives events. Observe must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type Options struct {
	Logger *slog.Logger

	// ValidateSelection rejects adapter indices the backend does not enumerate
	ValidateSelection bool
	// ValidatePluginNames rejects plugin names the catalog does not list
	ValidatePluginNames bool
}

// AppState owns one GPU manager and one plugin manager for the life of the
// process. Each sits behind its own lock, so GPU traffic never blocks plugin
// traffic.
type AppState struct {
	GPU     *State[GPUManager]
	Plugins *State[PluginManager]

	logger *slog.Logger

	observersMu sync.RWMutex
	observers   []Observer
}

// NewAppState builds the GPU manager then the plugin manager.
func NewAppState(backend gpu.Backend, catalog plugin.Catalog, opts Options) (*AppState, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if backend == nil {
		return nil, errors.New("failed to create gpu manager: no gpu backend")
	}
	gpuManager := NewGPUManager(backend,
		WithGPULogger(logger),
		WithSelectionValidation(opts.ValidateSelection),
	)

	if catalog == nil {
		return nil, errors.New("failed to create plugin manager: no plugin catalog")
	}
	pluginManager := NewPluginManager(catalog,
		WithPluginLogger(logger),
		WithNameValidation(opts.ValidatePluginNames),
	)

	return &AppState{
		GPU:     NewState(gpuManager),
		Plugins: NewState(pluginManager),
		logger:  logger.With("component", "app-state"),
	}, nil
}

// Subscribe registers an observer for every later event
func (s *AppState) Subscribe(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// Publish delivers e to every observer in subscription order
func (s *AppState) Publish(e Event) {
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()

	for _, o := range observers {
		o.Observe(e)
	}
}
