// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/archetype-dev/archetype/internal/service"
)

// DirCatalog serves the manifests found in a directory. Manifests are read in
// file name order; the first manifest to claim a name wins.
type DirCatalog struct {
	dir      string
	watch    bool
	logger   *slog.Logger
	onReload func([]Info)

	mu      sync.RWMutex
	plugins []Info
}

var (
	_ Catalog             = (*DirCatalog)(nil)
	_ service.Initializer = (*DirCatalog)(nil)
	_ service.Runner      = (*DirCatalog)(nil)
)

type DirOption func(*DirCatalog)

func WithLogger(logger *slog.Logger) DirOption {
	return func(c *DirCatalog) {
		c.logger = logger.With("service", "plugin-catalog")
	}
}

// WithWatch makes Run reload the catalog whenever a manifest changes
func WithWatch(watch bool) DirOption {
	return func(c *DirCatalog) {
		c.watch = watch
	}
}

// WithReloadHook is called with the new plugin list after every reload
func WithReloadHook(fn func([]Info)) DirOption {
	return func(c *DirCatalog) {
		c.onReload = fn
	}
}

func NewDirCatalog(dir string, opts ...DirOption) *DirCatalog {
	c := &DirCatalog{
		dir:    dir,
		logger: slog.Default().With("service", "plugin-catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DirCatalog) Name() string {
	return "plugin-catalog"
}

// Init performs the first load; an unreadable directory fails startup.
func (c *DirCatalog) Init() error {
	return c.Reload()
}

func (c *DirCatalog) Plugins() ([]Info, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.plugins), nil
}

func (c *DirCatalog) Lookup(name string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(c.plugins, name)
}

// Reload re-reads every manifest. Invalid manifests are logged and skipped;
// only a failure to read the directory itself is returned.
func (c *DirCatalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read plugin catalog %s: %w", c.dir, err)
	}

	plugins := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isManifest(e.Name()) {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		info, err := readManifest(path)
		if err != nil {
			c.logger.Warn("skipping plugin manifest", "error", err)
			continue
		}
		plugins = append(plugins, info)
	}
	plugins = dedupe(plugins)

	c.mu.Lock()
	c.plugins = plugins
	c.mu.Unlock()

	c.logger.Info("plugin catalog loaded", "dir", c.dir, "plugins", len(plugins))
	if c.onReload != nil {
		c.onReload(slices.Clone(plugins))
	}
	return nil
}

// Run watches the directory until ctx is done. Without watching enabled it
// simply blocks.
func (c *DirCatalog) Run(ctx context.Context) error {
	if !c.watch {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.logger.Info("watching plugin catalog", "dir", c.dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isManifest(ev.Name) || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			c.logger.Debug("plugin manifest changed", "file", ev.Name, "op", ev.Op.String())
			if err := c.Reload(); err != nil {
				c.logger.Error("failed to reload plugin catalog", "error", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("plugin catalog watcher error", "error", err)
		}
	}
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func readManifest(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, ErrInvalidManifest{Path: path, Reason: err.Error()}
	}

	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return Info{}, ErrInvalidManifest{Path: path, Reason: err.Error()}
	}

	info.Name = strings.TrimSpace(info.Name)
	info.Version = strings.TrimSpace(info.Version)
	if info.Name == "" {
		return Info{}, ErrInvalidManifest{Path: path, Reason: "name is required"}
	}
	if info.Version == "" {
		return Info{}, ErrInvalidManifest{Path: path, Reason: "version is required"}
	}
	return info, nil
}
