// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"errors"
	"sync"
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/archetype-dev/archetype/internal/device/gpu"
)

func newHandle(name string, pciDeviceID uint32) *mockDeviceHandle {
	h := &mockDeviceHandle{}
	h.On("GetName").Return(name, nvml.SUCCESS)
	h.On("GetPciInfo").Return(nvml.PciInfo{PciDeviceId: pciDeviceID}, nvml.SUCCESS)
	return h
}

func initializedBackend(t *testing.T, lib *mockNvmlLib) *Backend {
	t.Helper()
	lib.On("Init").Return(nvml.SUCCESS).Once()
	b := newBackendWithLib(nil, lib)
	require.NoError(t, b.Init())
	return b
}

func TestInit(t *testing.T) {
	tt := []struct {
		name        string
		ret         nvml.Return
		errStr      string
		errMsg      string
		unavailable bool
	}{{
		name: "success",
		ret:  nvml.SUCCESS,
	}, {
		name:        "library missing",
		ret:         nvml.ERROR_LIBRARY_NOT_FOUND,
		errStr:      "library not found",
		errMsg:      "NVML init failed: library not found",
		unavailable: true,
	}, {
		name:   "transient failure",
		ret:    nvml.ERROR_UNKNOWN,
		errStr: "unknown",
		errMsg: "NVML init failed: unknown",
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			lib := &mockNvmlLib{}
			lib.On("Init").Return(tc.ret)
			lib.On("ErrorString", tc.ret).Return(tc.errStr).Maybe()

			b := newBackendWithLib(nil, lib)
			err := b.Init()
			if tc.errMsg == "" {
				require.NoError(t, err)
				// second Init is a no-op
				require.NoError(t, b.Init())
				lib.AssertNumberOfCalls(t, "Init", 1)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
			assert.Equal(t, tc.unavailable, errors.Is(err, gpu.ErrUnavailable))
		})
	}
}

func TestDevices(t *testing.T) {
	lib := &mockNvmlLib{}
	b := initializedBackend(t, lib)

	lib.On("DeviceGetCount").Return(3, nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 0).Return(newHandle("NVIDIA A100", 0x20B010DE), nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 1).Return(nil, nvml.ERROR_GPU_IS_LOST)
	lib.On("ErrorString", nvml.ERROR_GPU_IS_LOST).Return("GPU is lost")

	unnamed := &mockDeviceHandle{}
	unnamed.On("GetName").Return("", nvml.ERROR_UNKNOWN)
	unnamed.On("GetPciInfo").Return(nvml.PciInfo{}, nvml.ERROR_UNKNOWN)
	lib.On("DeviceGetHandleByIndex", 2).Return(unnamed, nvml.SUCCESS)

	devices, err := b.Devices()
	require.NoError(t, err)
	assert.Equal(t, []gpu.DeviceInfo{
		{Name: "NVIDIA A100", Vendor: "NVIDIA", DeviceID: 0x20B0, AdapterIndex: 0},
		{Name: "Unknown NVIDIA GPU", Vendor: "NVIDIA", DeviceID: 0, AdapterIndex: 2},
	}, devices)
}

func TestDevices_Errors(t *testing.T) {
	t.Run("not initialized", func(t *testing.T) {
		b := newBackendWithLib(nil, &mockNvmlLib{})
		_, err := b.Devices()
		assert.ErrorIs(t, err, gpu.ErrNotInitialized{})
	})

	t.Run("count fails", func(t *testing.T) {
		lib := &mockNvmlLib{}
		b := initializedBackend(t, lib)
		lib.On("DeviceGetCount").Return(0, nvml.ERROR_UNKNOWN)
		lib.On("ErrorString", nvml.ERROR_UNKNOWN).Return("unknown")

		_, err := b.Devices()
		var enumErr gpu.ErrDeviceEnumeration
		require.ErrorAs(t, err, &enumErr)
		assert.Equal(t, "nvml", enumErr.Backend)
		assert.Equal(t, "unknown", enumErr.Reason)
	})
}

func TestDevices_Concurrent(t *testing.T) {
	lib := &mockNvmlLib{}
	b := initializedBackend(t, lib)
	lib.On("DeviceGetCount").Return(1, nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 0).Return(newHandle("NVIDIA L4", 0x27B810DE), nvml.SUCCESS)

	const callers = 16
	results := make([][]gpu.DeviceInfo, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			devices, err := b.Devices()
			assert.NoError(t, err)
			results[i] = devices
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.Len(t, r, 1)
		assert.Equal(t, "NVIDIA L4", r[0].Name)
	}
	// mutation by one caller never leaks into another
	results[0][0].Name = "changed"
	for _, r := range results[1:] {
		assert.Equal(t, "NVIDIA L4", r[0].Name)
	}
}

func TestMetrics(t *testing.T) {
	lib := &mockNvmlLib{}
	b := initializedBackend(t, lib)

	h := &mockDeviceHandle{}
	h.On("GetUtilizationRates").Return(nvml.Utilization{Gpu: 42, Memory: 10}, nvml.SUCCESS)
	h.On("GetMemoryInfo").Return(nvml.Memory{Used: 2048 * bytesPerMiB, Total: 4096 * bytesPerMiB}, nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 0).Return(h, nvml.SUCCESS)
	lib.On("DeviceGetHandleByIndex", 5).Return(nil, nvml.ERROR_INVALID_ARGUMENT)

	m, err := b.Metrics(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, m.GPUUtilization, 1e-6)
	assert.Equal(t, uint64(2048), m.MemoryUsageMB)

	_, err = b.Metrics(5)
	assert.ErrorIs(t, err, gpu.ErrDeviceNotFound{AdapterIndex: 5})

	_, err = b.Metrics(-1)
	assert.ErrorIs(t, err, gpu.ErrDeviceNotFound{AdapterIndex: -1})
}

func TestMetrics_QueryFailure(t *testing.T) {
	lib := &mockNvmlLib{}
	b := initializedBackend(t, lib)

	h := &mockDeviceHandle{}
	h.On("GetUtilizationRates").Return(nvml.Utilization{}, nvml.ERROR_NOT_SUPPORTED)
	lib.On("DeviceGetHandleByIndex", 0).Return(h, nvml.SUCCESS)
	lib.On("ErrorString", nvml.ERROR_NOT_SUPPORTED).Return("not supported")

	_, err := b.Metrics(0)
	assert.ErrorContains(t, err, "failed to get utilization for device 0: not supported")
}

func TestShutdown(t *testing.T) {
	lib := &mockNvmlLib{}
	b := newBackendWithLib(nil, lib)

	// shutting down before init does not touch NVML
	require.NoError(t, b.Shutdown())
	lib.AssertNotCalled(t, "Shutdown")

	lib.On("Init").Return(nvml.SUCCESS)
	lib.On("Shutdown").Return(nvml.SUCCESS)
	require.NoError(t, b.Init())
	require.NoError(t, b.Shutdown())
	lib.AssertNumberOfCalls(t, "Shutdown", 1)

	_, err := b.Metrics(0)
	assert.ErrorIs(t, err, gpu.ErrNotInitialized{})
	lib.AssertNotCalled(t, "DeviceGetHandleByIndex", mock.Anything)
}
