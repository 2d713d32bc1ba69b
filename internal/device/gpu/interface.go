// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import "github.com/archetype-dev/archetype/internal/service"

// Backend enumerates devices and samples their load.
// Implementations must be safe for concurrent use.
type Backend interface {
	service.Service     // Name()
	service.Initializer // Init()
	service.Shutdowner  // Shutdown()

	// Devices returns the devices visible right now, ordered by adapter index
	Devices() ([]DeviceInfo, error)

	// Metrics samples the device at adapterIndex
	Metrics(adapterIndex int) (PerformanceMetrics, error)
}
