// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package placeholder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

func TestBackend(t *testing.T) {
	b := New()
	require.NoError(t, b.Init())
	assert.Equal(t, "placeholder", b.Name())

	devices, err := b.Devices()
	require.NoError(t, err)
	assert.Equal(t, []gpu.DeviceInfo{
		{Name: "NVIDIA GeForce RTX 3080", Vendor: "NVIDIA", DeviceID: 1234, AdapterIndex: 0},
		{Name: "AMD Radeon RX 6800 XT", Vendor: "AMD", DeviceID: 5678, AdapterIndex: 1},
	}, devices)

	// callers cannot mutate the seeded list
	devices[0].Name = "changed"
	again, _ := b.Devices()
	assert.Equal(t, "NVIDIA GeForce RTX 3080", again[0].Name)

	for _, idx := range []int{0, 1, 42} {
		m, err := b.Metrics(idx)
		require.NoError(t, err)
		assert.Equal(t, gpu.PerformanceMetrics{GPUUtilization: 0.75, MemoryUsageMB: 8192}, m)
	}

	require.NoError(t, b.Shutdown())
}

func TestRegistered(t *testing.T) {
	b, err := gpu.New(Kind, nil)
	require.NoError(t, err)
	assert.IsType(t, &Backend{}, b)
}
