// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory creates a Backend. It returns an error when the backend cannot be
// constructed at all; hardware probing belongs in Backend.Init.
type Factory func(logger *slog.Logger) (Backend, error)

var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register adds a backend factory under kind, replacing any previous one.
func Register(kind string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// New constructs the backend registered under kind without initialising it.
func New(kind string, logger *slog.Logger) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown gpu backend %q (registered: %v)", kind, Kinds())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory(logger)
}

// Discover tries kinds in order and returns the first backend that
// initialises and reports at least one device. Each kind gets up to attempts
// Init calls, as with InitWithRetry. The returned backend is already
// initialised.
func Discover(ctx context.Context, logger *slog.Logger, attempts int, kinds ...string) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var errs error
	for _, kind := range kinds {
		b, err := New(kind, logger)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}

		if err := InitWithRetry(ctx, b, attempts); err != nil {
			logger.Debug("gpu backend init failed", "backend", kind, "error", err)
			errs = errors.Join(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		devices, err := b.Devices()
		if err != nil || len(devices) == 0 {
			logger.Debug("gpu backend has no devices", "backend", kind, "error", err)
			_ = b.Shutdown()
			errs = errors.Join(errs, ErrDeviceEnumeration{Backend: kind, Reason: "no devices"})
			continue
		}

		logger.Info("discovered gpu backend", "backend", kind, "devices", len(devices))
		return b, nil
	}

	return nil, fmt.Errorf("no usable gpu backend among %v: %w", kinds, errs)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// ClearRegistry removes all registered backends.
// This is primarily useful for testing.
func ClearRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Factory)
}
