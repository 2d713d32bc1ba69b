// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package plugin describes installable plugins and the catalogs that list them.
package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// Info describes an installable plugin. Name is unique within a catalog.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

// ErrUnknownPlugin is returned when a name is not present in the catalog
var ErrUnknownPlugin = errors.New("unknown plugin")

// ErrInvalidManifest is reported for a manifest file that cannot be used
type ErrInvalidManifest struct {
	Path   string
	Reason string
}

func (e ErrInvalidManifest) Error() string {
	return fmt.Sprintf("invalid plugin manifest %s: %s", e.Path, e.Reason)
}

// Catalog lists the plugins available to load, independent of what is loaded.
// Implementations must be safe for concurrent use.
type Catalog interface {
	Plugins() ([]Info, error)
	Lookup(name string) (Info, bool)
}

// StaticCatalog is a fixed, in-memory catalog
type StaticCatalog struct {
	plugins []Info
}

var _ Catalog = (*StaticCatalog)(nil)

// NewStaticCatalog keeps the first entry for every name, in order.
func NewStaticCatalog(plugins ...Info) *StaticCatalog {
	return &StaticCatalog{plugins: dedupe(plugins)}
}

// DefaultCatalog is the built-in catalog used when no manifest directory is
// configured.
func DefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(
		Info{Name: "ImageProcessor", Version: "1.0.0", Description: "Processes images with various filters."},
		Info{Name: "AudioEnhancer", Version: "0.9.0", Description: "Enhances audio quality."},
	)
}

func (c *StaticCatalog) Plugins() ([]Info, error) {
	return slices.Clone(c.plugins), nil
}

func (c *StaticCatalog) Lookup(name string) (Info, bool) {
	return lookup(c.plugins, name)
}

func lookup(plugins []Info, name string) (Info, bool) {
	for _, p := range plugins {
		if p.Name == name {
			return p, true
		}
	}
	return Info{}, false
}

func dedupe(plugins []Info) []Info {
	seen := make(map[string]bool, len(plugins))
	out := make([]Info, 0, len(plugins))
	for _, p := range plugins {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}
