// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlLib abstracts the NVML library functions so tests can mock them.
type nvmlLib interface {
	Init() nvml.Return
	Shutdown() nvml.Return
	DeviceGetCount() (int, nvml.Return)
	DeviceGetHandleByIndex(index int) (nvmlDeviceHandle, nvml.Return)
	ErrorString(ret nvml.Return) string
}

// nvmlDeviceHandle abstracts the per-device queries the backend issues.
type nvmlDeviceHandle interface {
	GetName() (string, nvml.Return)
	GetPciInfo() (nvml.PciInfo, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
}

type realNvmlLib struct{}

type realDeviceHandle struct {
	device nvml.Device
}

func newRealNvmlLib() nvmlLib {
	return realNvmlLib{}
}

func (realNvmlLib) Init() nvml.Return {
	return nvml.Init()
}

func (realNvmlLib) Shutdown() nvml.Return {
	return nvml.Shutdown()
}

func (realNvmlLib) DeviceGetCount() (int, nvml.Return) {
	return nvml.DeviceGetCount()
}

func (realNvmlLib) DeviceGetHandleByIndex(index int) (nvmlDeviceHandle, nvml.Return) {
	handle, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, ret
	}
	return realDeviceHandle{device: handle}, ret
}

func (realNvmlLib) ErrorString(ret nvml.Return) string {
	return nvml.ErrorString(ret)
}

func (h realDeviceHandle) GetName() (string, nvml.Return) {
	return h.device.GetName()
}

func (h realDeviceHandle) GetPciInfo() (nvml.PciInfo, nvml.Return) {
	return h.device.GetPciInfo()
}

func (h realDeviceHandle) GetUtilizationRates() (nvml.Utilization, nvml.Return) {
	return h.device.GetUtilizationRates()
}

func (h realDeviceHandle) GetMemoryInfo() (nvml.Memory, nvml.Return) {
	return h.device.GetMemoryInfo()
}
