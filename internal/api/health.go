// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/version"
)

// HostSampler reports whole-machine load
type HostSampler interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
}

type gopsutilSampler struct{}

func (gopsutilSampler) CPUPercent() (float64, error) {
	p, err := cpu.Percent(0, false)
	if err != nil || len(p) == 0 {
		return 0, err
	}
	return p[0], nil
}

func (gopsutilSampler) MemoryPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

type (
	DetailedHealth struct {
		Status        string              `json:"status"`
		Version       version.VersionInfo `json:"version"`
		UptimeSeconds float64             `json:"uptime_seconds"`
		GPU           GPUHealth           `json:"gpu"`
		Plugins       PluginHealth        `json:"plugins"`
		Host          HostHealth          `json:"host"`
	}

	GPUHealth struct {
		Backend              string `json:"backend"`
		Devices              int    `json:"devices"`
		SelectedAdapterIndex *int   `json:"selected_adapter_index"`
		Error                string `json:"error,omitempty"`
	}

	PluginHealth struct {
		Available int    `json:"available"`
		Loaded    int    `json:"loaded"`
		Error     string `json:"error,omitempty"`
	}

	HostHealth struct {
		CPUPercent    *float64 `json:"cpu_percent,omitempty"`
		MemoryPercent *float64 `json:"memory_percent,omitempty"`
	}
)

type healthReporter struct {
	app     *manager.AppState
	backend string
	sampler HostSampler
	now     func() time.Time
	started time.Time
}

// report never fails; component problems are reported inline and the
// overall status degrades
func (h *healthReporter) report() DetailedHealth {
	out := DetailedHealth{
		Status:        "ok",
		Version:       version.Info(),
		UptimeSeconds: h.now().Sub(h.started).Seconds(),
		GPU:           GPUHealth{Backend: h.backend},
	}

	_ = h.app.GPU.Read(func(m *manager.GPUManager) error {
		if devices, err := m.ListDevices(); err != nil {
			out.GPU.Error = err.Error()
			out.Status = "degraded"
		} else {
			out.GPU.Devices = len(devices)
		}
		if idx, ok := m.SelectedDevice(); ok {
			out.GPU.SelectedAdapterIndex = &idx
		}
		return nil
	})

	_ = h.app.Plugins.Read(func(m *manager.PluginManager) error {
		if plugins, err := m.ListAvailablePlugins(); err != nil {
			out.Plugins.Error = err.Error()
			out.Status = "degraded"
		} else {
			out.Plugins.Available = len(plugins)
		}
		out.Plugins.Loaded = len(m.LoadedPlugins())
		return nil
	})

	if p, err := h.sampler.CPUPercent(); err == nil {
		out.Host.CPUPercent = &p
	}
	if p, err := h.sampler.MemoryPercent(); err == nil {
		out.Host.MemoryPercent = &p
	}
	return out
}
