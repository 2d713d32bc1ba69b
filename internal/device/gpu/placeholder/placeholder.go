// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package placeholder provides a fixed two-adapter backend for machines
// without a supported driver and for tests.
package placeholder

import (
	"log/slog"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

const Kind = "placeholder"

func init() {
	gpu.Register(Kind, func(logger *slog.Logger) (gpu.Backend, error) {
		return New(), nil
	})
}

var seeded = []gpu.DeviceInfo{
	{Name: "NVIDIA GeForce RTX 3080", Vendor: "NVIDIA", DeviceID: 1234, AdapterIndex: 0},
	{Name: "AMD Radeon RX 6800 XT", Vendor: "AMD", DeviceID: 5678, AdapterIndex: 1},
}

// sample is reported for every adapter index, enumerable or not
var sample = gpu.PerformanceMetrics{GPUUtilization: 0.75, MemoryUsageMB: 8192}

// Backend is stateless; every method is safe for concurrent use.
type Backend struct{}

var _ gpu.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{}
}

func (*Backend) Name() string    { return Kind }
func (*Backend) Init() error     { return nil }
func (*Backend) Shutdown() error { return nil }

func (*Backend) Devices() ([]gpu.DeviceInfo, error) {
	out := make([]gpu.DeviceInfo, len(seeded))
	copy(out, seeded)
	return out, nil
}

func (*Backend) Metrics(int) (gpu.PerformanceMetrics, error) {
	return sample, nil
}
