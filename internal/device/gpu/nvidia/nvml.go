// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvidia implements gpu.Backend on top of NVML.
package nvidia

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"golang.org/x/sync/singleflight"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

const (
	Kind   = "nvml"
	vendor = "NVIDIA"

	bytesPerMiB = 1024 * 1024
)

func init() {
	gpu.Register(Kind, func(logger *slog.Logger) (gpu.Backend, error) {
		return NewBackend(logger), nil
	})
}

// Backend enumerates NVIDIA devices through NVML. Enumeration is live on
// every call since adapter indices are not stable across calls; concurrent
// callers share one in-flight enumeration.
type Backend struct {
	logger *slog.Logger
	lib    nvmlLib
	group  singleflight.Group

	mu          sync.RWMutex
	initialized bool
}

var _ gpu.Backend = (*Backend)(nil)

func NewBackend(logger *slog.Logger) *Backend {
	return newBackendWithLib(logger, newRealNvmlLib())
}

func newBackendWithLib(logger *slog.Logger, lib nvmlLib) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		logger: logger.With("component", "nvml"),
		lib:    lib,
	}
}

func (b *Backend) Name() string {
	return Kind
}

func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	ret := b.lib.Init()
	switch ret {
	case nvml.SUCCESS:
	case nvml.ERROR_LIBRARY_NOT_FOUND, nvml.ERROR_DRIVER_NOT_LOADED, nvml.ERROR_NO_PERMISSION:
		return fmt.Errorf("NVML init failed: %s: %w", b.lib.ErrorString(ret), gpu.ErrUnavailable)
	default:
		return fmt.Errorf("NVML init failed: %s", b.lib.ErrorString(ret))
	}

	b.initialized = true
	b.logger.Info("NVML initialized")
	return nil
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}

	if ret := b.lib.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("NVML shutdown failed: %s", b.lib.ErrorString(ret))
	}
	b.initialized = false
	b.logger.Info("NVML shutdown complete")
	return nil
}

func (b *Backend) Devices() ([]gpu.DeviceInfo, error) {
	v, err, shared := b.group.Do("devices", func() (any, error) {
		return b.enumerate()
	})
	if err != nil {
		return nil, err
	}
	devices := v.([]gpu.DeviceInfo)
	if !shared {
		return devices, nil
	}

	// shared results must not alias between callers
	out := make([]gpu.DeviceInfo, len(devices))
	copy(out, devices)
	return out, nil
}

func (b *Backend) enumerate() ([]gpu.DeviceInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, gpu.ErrNotInitialized{}
	}

	count, ret := b.lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, gpu.ErrDeviceEnumeration{Backend: Kind, Reason: b.lib.ErrorString(ret)}
	}

	devices := make([]gpu.DeviceInfo, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := b.lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			b.logger.Warn("failed to get device handle", "index", i, "error", b.lib.ErrorString(ret))
			continue
		}

		name, ret := handle.GetName()
		if ret != nvml.SUCCESS {
			name = "Unknown NVIDIA GPU"
		}

		var deviceID uint32
		if pci, ret := handle.GetPciInfo(); ret == nvml.SUCCESS {
			// upper 16 bits hold the device id, lower 16 the PCI vendor
			deviceID = pci.PciDeviceId >> 16
		}

		devices = append(devices, gpu.DeviceInfo{
			Name:         name,
			Vendor:       vendor,
			DeviceID:     deviceID,
			AdapterIndex: i,
		})
	}
	return devices, nil
}

func (b *Backend) Metrics(adapterIndex int) (gpu.PerformanceMetrics, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return gpu.PerformanceMetrics{}, gpu.ErrNotInitialized{}
	}
	if adapterIndex < 0 {
		return gpu.PerformanceMetrics{}, gpu.ErrDeviceNotFound{AdapterIndex: adapterIndex}
	}

	handle, ret := b.lib.DeviceGetHandleByIndex(adapterIndex)
	if ret == nvml.ERROR_INVALID_ARGUMENT || ret == nvml.ERROR_NOT_FOUND {
		return gpu.PerformanceMetrics{}, gpu.ErrDeviceNotFound{AdapterIndex: adapterIndex}
	} else if ret != nvml.SUCCESS {
		return gpu.PerformanceMetrics{}, fmt.Errorf("failed to get device %d: %s", adapterIndex, b.lib.ErrorString(ret))
	}

	util, ret := handle.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return gpu.PerformanceMetrics{}, fmt.Errorf("failed to get utilization for device %d: %s", adapterIndex, b.lib.ErrorString(ret))
	}

	mem, ret := handle.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return gpu.PerformanceMetrics{}, fmt.Errorf("failed to get memory info for device %d: %s", adapterIndex, b.lib.ErrorString(ret))
	}

	return gpu.PerformanceMetrics{
		GPUUtilization: float32(util.Gpu) / 100,
		MemoryUsageMB:  mem.Used / bytesPerMiB,
	}, nil
}
