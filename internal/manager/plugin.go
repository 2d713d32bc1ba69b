// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/archetype-dev/archetype/internal/plugin"
)

// PluginManager owns the ordered list of loaded plugin names. Loading appends
// and never deduplicates.
type PluginManager struct {
	catalog  plugin.Catalog
	logger   *slog.Logger
	validate bool

	loaded []string
}

type PluginOption func(*PluginManager)

// WithNameValidation rejects names missing from the catalog
func WithNameValidation(validate bool) PluginOption {
	return func(m *PluginManager) {
		m.validate = validate
	}
}

func WithPluginLogger(logger *slog.Logger) PluginOption {
	return func(m *PluginManager) {
		m.logger = logger.With("component", "plugin-manager")
	}
}

func NewPluginManager(catalog plugin.Catalog, opts ...PluginOption) *PluginManager {
	m := &PluginManager{
		catalog: catalog,
		logger:  slog.Default().With("component", "plugin-manager"),
		loaded:  []string{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *PluginManager) ListAvailablePlugins() ([]plugin.Info, error) {
	plugins, err := m.catalog.Plugins()
	if err != nil {
		return nil, err
	}
	if plugins == nil {
		plugins = []plugin.Info{}
	}
	return plugins, nil
}

func (m *PluginManager) LoadPlugin(name string) error {
	if m.validate {
		if _, ok := m.catalog.Lookup(name); !ok {
			return fmt.Errorf("%w: %q", plugin.ErrUnknownPlugin, name)
		}
	}

	m.loaded = append(m.loaded, name)
	m.logger.Debug("plugin loaded", "plugin", name, "loaded", len(m.loaded))
	return nil
}

// UnloadPlugin removes the first loaded entry with this name. Later
// duplicates stay loaded.
func (m *PluginManager) UnloadPlugin(name string) error {
	i := slices.Index(m.loaded, name)
	if i < 0 {
		return fmt.Errorf("%w: %q is not loaded", plugin.ErrUnknownPlugin, name)
	}

	m.loaded = slices.Delete(m.loaded, i, i+1)
	m.logger.Debug("plugin unloaded", "plugin", name, "loaded", len(m.loaded))
	return nil
}

// PluginInfo describes a catalog entry and how many times it is loaded
func (m *PluginManager) PluginInfo(name string) (plugin.Info, int, error) {
	info, ok := m.catalog.Lookup(name)
	if !ok {
		return plugin.Info{}, 0, fmt.Errorf("%w: %q", plugin.ErrUnknownPlugin, name)
	}

	loaded := 0
	for _, n := range m.loaded {
		if n == name {
			loaded++
		}
	}
	return info, loaded, nil
}

// LoadedPlugins returns a copy of the loaded names in load order
func (m *PluginManager) LoadedPlugins() []string {
	return slices.Clone(m.loaded)
}
