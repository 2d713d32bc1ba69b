// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

func fakeSampler(model string, percent float64, usedMiB uint64) sampler {
	return sampler{
		cpuInfo: func() ([]cpu.InfoStat, error) {
			return []cpu.InfoStat{{ModelName: model, VendorID: "GenuineIntel"}}, nil
		},
		cpuPercent: func(time.Duration, bool) ([]float64, error) {
			return []float64{percent}, nil
		},
		memory: func() (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Used: usedMiB * bytesPerMiB}, nil
		},
	}
}

func TestBackend(t *testing.T) {
	b := NewBackend(nil)
	b.sample = fakeSampler("Intel(R) Xeon(R) Gold 6338", 37.5, 3072)

	_, err := b.Devices()
	assert.ErrorIs(t, err, gpu.ErrNotInitialized{})

	require.NoError(t, b.Init())
	devices, err := b.Devices()
	require.NoError(t, err)
	assert.Equal(t, []gpu.DeviceInfo{{
		Name:         "Intel(R) Xeon(R) Gold 6338",
		Vendor:       "GenuineIntel",
		AdapterIndex: 0,
	}}, devices)

	m, err := b.Metrics(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.375, m.GPUUtilization, 1e-6)
	assert.Equal(t, uint64(3072), m.MemoryUsageMB)

	_, err = b.Metrics(1)
	assert.ErrorIs(t, err, gpu.ErrDeviceNotFound{AdapterIndex: 1})

	require.NoError(t, b.Shutdown())
	_, err = b.Metrics(0)
	assert.ErrorIs(t, err, gpu.ErrNotInitialized{})
}

func TestInit_Failures(t *testing.T) {
	t.Run("cpu info error", func(t *testing.T) {
		b := NewBackend(nil)
		b.sample = fakeSampler("", 0, 0)
		b.sample.cpuInfo = func() ([]cpu.InfoStat, error) { return nil, errors.New("no /proc/cpuinfo") }

		var enumErr gpu.ErrDeviceEnumeration
		require.ErrorAs(t, b.Init(), &enumErr)
		assert.Equal(t, "host", enumErr.Backend)
	})

	t.Run("empty info falls back to generic name", func(t *testing.T) {
		b := NewBackend(nil)
		b.sample = fakeSampler("", 0, 0)
		b.sample.cpuInfo = func() ([]cpu.InfoStat, error) { return nil, nil }

		require.NoError(t, b.Init())
		devices, _ := b.Devices()
		assert.Equal(t, "CPU", devices[0].Name)
		assert.Equal(t, "unknown", devices[0].Vendor)
	})
}

func TestMetrics_SamplerErrors(t *testing.T) {
	b := NewBackend(nil)
	b.sample = fakeSampler("cpu", 0, 0)
	require.NoError(t, b.Init())

	b.sample.memory = func() (*mem.VirtualMemoryStat, error) { return nil, errors.New("denied") }
	_, err := b.Metrics(0)
	assert.ErrorContains(t, err, "failed to read memory usage: denied")

	b.sample.cpuPercent = func(time.Duration, bool) ([]float64, error) { return nil, errors.New("busy") }
	_, err = b.Metrics(0)
	assert.ErrorContains(t, err, "failed to read cpu utilization: busy")
}
