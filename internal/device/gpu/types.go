// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"errors"
	"fmt"
)

// DeviceInfo is an immutable snapshot of one enumerable device.
// AdapterIndex is unique within a single enumeration only.
type DeviceInfo struct {
	Name         string `json:"name"`
	Vendor       string `json:"vendor"`
	DeviceID     uint32 `json:"device_id"`
	AdapterIndex int    `json:"adapter_index"`
}

// PerformanceMetrics is a point-in-time sample; it is never cached.
type PerformanceMetrics struct {
	// GPUUtilization is a fraction in [0, 1]
	GPUUtilization float32 `json:"gpu_utilization"`
	MemoryUsageMB  uint64  `json:"memory_usage_mb"`
}

// ErrUnavailable marks failures that retrying cannot fix, such as a missing
// driver library. Backends wrap it so InitWithRetry stops early.
var ErrUnavailable = errors.New("gpu backend unavailable")

// ErrDeviceEnumeration is returned when a backend fails to list its devices
type ErrDeviceEnumeration struct {
	Backend string
	Reason  string
}

func (e ErrDeviceEnumeration) Error() string {
	return fmt.Sprintf("%s: device enumeration failed: %s", e.Backend, e.Reason)
}

// ErrDeviceNotFound is returned for an adapter index no backend device has
type ErrDeviceNotFound struct {
	AdapterIndex int
}

func (e ErrDeviceNotFound) Error() string {
	return fmt.Sprintf("GPU device not found: adapter index %d", e.AdapterIndex)
}

// ErrNotInitialized is returned when a backend is used before Init
type ErrNotInitialized struct{}

func (ErrNotInitialized) Error() string {
	return "GPU backend not initialized"
}
