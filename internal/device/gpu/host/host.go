// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package host exposes the host CPU as a single pseudo-device so the
// backend stays usable on machines without a GPU driver.
package host

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

const (
	Kind = "host"

	bytesPerMiB = 1024 * 1024
)

func init() {
	gpu.Register(Kind, func(logger *slog.Logger) (gpu.Backend, error) {
		return NewBackend(logger), nil
	})
}

// sampler wraps the gopsutil calls the backend depends on
type sampler struct {
	cpuInfo    func() ([]cpu.InfoStat, error)
	cpuPercent func(interval time.Duration, percpu bool) ([]float64, error)
	memory     func() (*mem.VirtualMemoryStat, error)
}

var gopsutil = sampler{
	cpuInfo:    cpu.Info,
	cpuPercent: cpu.Percent,
	memory:     mem.VirtualMemory,
}

type Backend struct {
	logger *slog.Logger
	sample sampler

	mu     sync.RWMutex
	device *gpu.DeviceInfo
}

var _ gpu.Backend = (*Backend)(nil)

func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		logger: logger.With("component", "host"),
		sample: gopsutil,
	}
}

func (b *Backend) Name() string {
	return Kind
}

// Init resolves the CPU model once; it does not change while running.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		return nil
	}

	infos, err := b.sample.cpuInfo()
	if err != nil {
		return gpu.ErrDeviceEnumeration{Backend: Kind, Reason: err.Error()}
	}

	dev := gpu.DeviceInfo{Name: "CPU", Vendor: "unknown"}
	if len(infos) > 0 {
		if infos[0].ModelName != "" {
			dev.Name = infos[0].ModelName
		}
		if infos[0].VendorID != "" {
			dev.Vendor = infos[0].VendorID
		}
	}
	b.device = &dev
	b.logger.Info("using host CPU as compute device", "name", dev.Name, "vendor", dev.Vendor)
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.device = nil
	return nil
}

func (b *Backend) Devices() ([]gpu.DeviceInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.device == nil {
		return nil, gpu.ErrNotInitialized{}
	}
	return []gpu.DeviceInfo{*b.device}, nil
}

// Metrics reports whole-machine CPU utilisation and used memory. The
// utilisation is measured since the previous call, so the first sample
// after start may read 0.
func (b *Backend) Metrics(adapterIndex int) (gpu.PerformanceMetrics, error) {
	b.mu.RLock()
	initialized := b.device != nil
	b.mu.RUnlock()

	if !initialized {
		return gpu.PerformanceMetrics{}, gpu.ErrNotInitialized{}
	}
	if adapterIndex != 0 {
		return gpu.PerformanceMetrics{}, gpu.ErrDeviceNotFound{AdapterIndex: adapterIndex}
	}

	percents, err := b.sample.cpuPercent(0, false)
	if err != nil {
		return gpu.PerformanceMetrics{}, fmt.Errorf("failed to read cpu utilization: %w", err)
	}
	vm, err := b.sample.memory()
	if err != nil {
		return gpu.PerformanceMetrics{}, fmt.Errorf("failed to read memory usage: %w", err)
	}

	var util float32
	if len(percents) > 0 {
		util = float32(percents[0] / 100)
	}
	return gpu.PerformanceMetrics{
		GPUUtilization: util,
		MemoryUsageMB:  vm.Used / bytesPerMiB,
	}, nil
}
