// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Builder layers YAML overlays on top of a base configuration
type Builder struct {
	yamls  []string
	Config *Config
}

// Use sets the base configuration; DefaultConfig is used when unset
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge queues YAML documents to be merged in order
func (b *Builder) Merge(yamls ...string) *Builder {
	b.yamls = append(b.yamls, yamls...)
	return b
}

// Build merges every queued overlay into the base. Parse and merge problems
// are collected so that one bad overlay reports alongside the others.
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	var errs error
	for i, y := range b.yamls {
		overlay := &Config{}
		if err := yaml.Unmarshal([]byte(y), overlay); err != nil {
			errs = errors.Join(errs, fmt.Errorf("overlay %d: failed to parse YAML: %w", i, err))
			continue
		}

		if err := mergo.Merge(b.Config, overlay, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("overlay %d: failed to merge config: %w", i, err))
		}
	}

	if errs != nil {
		return nil, errs
	}
	return b.Config, nil
}

// boolPtrTransformer lets an explicit `false` in an overlay override `true`;
// mergo would otherwise treat the pointed-to zero value as unset.
type boolPtrTransformer struct{}

func (boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}

	return func(dst, src reflect.Value) error {
		if src.IsNil() || !dst.CanSet() {
			return nil
		}
		dst.Set(src)
		return nil
	}
}
