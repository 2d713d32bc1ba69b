// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"log/slog"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

// GPUManager owns the selected adapter. It is not safe for concurrent use on
// its own; AppState wraps it in a State.
type GPUManager struct {
	backend  gpu.Backend
	logger   *slog.Logger
	validate bool

	selected    int
	hasSelected bool
}

type GPUOption func(*GPUManager)

// WithSelectionValidation rejects indices missing from the current enumeration
func WithSelectionValidation(validate bool) GPUOption {
	return func(m *GPUManager) {
		m.validate = validate
	}
}

func WithGPULogger(logger *slog.Logger) GPUOption {
	return func(m *GPUManager) {
		m.logger = logger.With("component", "gpu-manager")
	}
}

// NewGPUManager starts with no device selected. The backend must already be
// initialised.
func NewGPUManager(backend gpu.Backend, opts ...GPUOption) *GPUManager {
	m := &GPUManager{
		backend: backend,
		logger:  slog.Default().With("component", "gpu-manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BackendName names the backend devices are read from
func (m *GPUManager) BackendName() string {
	return m.backend.Name()
}

// ListDevices enumerates the backend; it never touches the selection.
func (m *GPUManager) ListDevices() ([]gpu.DeviceInfo, error) {
	devices, err := m.backend.Devices()
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []gpu.DeviceInfo{}
	}
	return devices, nil
}

// SelectDevice records adapterIndex as selected, last write wins.
func (m *GPUManager) SelectDevice(adapterIndex int) error {
	if m.validate {
		devices, err := m.ListDevices()
		if err != nil {
			return err
		}
		if !hasAdapter(devices, adapterIndex) {
			return gpu.ErrDeviceNotFound{AdapterIndex: adapterIndex}
		}
	}

	m.selected = adapterIndex
	m.hasSelected = true
	m.logger.Debug("gpu device selected", "adapter_index", adapterIndex)
	return nil
}

// SelectedDevice reports the selected adapter index, if any
func (m *GPUManager) SelectedDevice() (int, bool) {
	return m.selected, m.hasSelected
}

// PerformanceMetrics samples the selected device. With nothing selected, or
// when the backend cannot sample the device, the zero sample is returned.
func (m *GPUManager) PerformanceMetrics() gpu.PerformanceMetrics {
	if !m.hasSelected {
		return gpu.PerformanceMetrics{}
	}

	metrics, err := m.backend.Metrics(m.selected)
	if err != nil {
		m.logger.Warn("failed to sample gpu metrics", "adapter_index", m.selected, "error", err)
		return gpu.PerformanceMetrics{}
	}
	return metrics
}

func hasAdapter(devices []gpu.DeviceInfo, adapterIndex int) bool {
	for _, d := range devices {
		if d.AdapterIndex == adapterIndex {
			return true
		}
	}
	return false
}
