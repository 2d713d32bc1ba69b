// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/stretchr/testify/mock"
)

// mockNvmlLib is a mock implementation of nvmlLib for testing
type mockNvmlLib struct {
	mock.Mock
}

func (m *mockNvmlLib) Init() nvml.Return {
	args := m.Called()
	return args.Get(0).(nvml.Return)
}

func (m *mockNvmlLib) Shutdown() nvml.Return {
	args := m.Called()
	return args.Get(0).(nvml.Return)
}

func (m *mockNvmlLib) DeviceGetCount() (int, nvml.Return) {
	args := m.Called()
	return args.Int(0), args.Get(1).(nvml.Return)
}

func (m *mockNvmlLib) DeviceGetHandleByIndex(index int) (nvmlDeviceHandle, nvml.Return) {
	args := m.Called(index)
	handle := args.Get(0)
	if handle == nil {
		return nil, args.Get(1).(nvml.Return)
	}
	return handle.(nvmlDeviceHandle), args.Get(1).(nvml.Return)
}

func (m *mockNvmlLib) ErrorString(ret nvml.Return) string {
	args := m.Called(ret)
	return args.String(0)
}

// mockDeviceHandle is a mock implementation of nvmlDeviceHandle for testing
type mockDeviceHandle struct {
	mock.Mock
}

func (m *mockDeviceHandle) GetName() (string, nvml.Return) {
	args := m.Called()
	return args.String(0), args.Get(1).(nvml.Return)
}

func (m *mockDeviceHandle) GetPciInfo() (nvml.PciInfo, nvml.Return) {
	args := m.Called()
	return args.Get(0).(nvml.PciInfo), args.Get(1).(nvml.Return)
}

func (m *mockDeviceHandle) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	args := m.Called()
	return args.Get(0).(nvml.Utilization), args.Get(1).(nvml.Return)
}

func (m *mockDeviceHandle) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	args := m.Called()
	return args.Get(0).(nvml.Memory), args.Get(1).(nvml.Return)
}

var (
	_ nvmlLib          = (*mockNvmlLib)(nil)
	_ nvmlDeviceHandle = (*mockDeviceHandle)(nil)
)
