// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/manager"
)

// gpuCollector reports the devices the GPU manager can see and the
// performance sample of the selected device. Every scrape takes the GPU
// manager's shared lock once.
type gpuCollector struct {
	logger *slog.Logger
	gpus   *manager.State[manager.GPUManager]

	deviceInfo  *prom.Desc
	utilization *prom.Desc
	memoryUsage *prom.Desc
}

func NewGPUCollector(app *manager.AppState, logger *slog.Logger) *gpuCollector {
	return &gpuCollector{
		logger: logger,
		gpus:   app.GPU,
		deviceInfo: prom.NewDesc(
			prom.BuildFQName(archetypeNS, "gpu", "device_info"),
			"GPU devices reported by the backend, with a constant '1' value",
			[]string{"adapter_index", "name", "vendor", "device_id"},
			nil,
		),
		utilization: prom.NewDesc(
			prom.BuildFQName(archetypeNS, "gpu", "utilization_ratio"),
			"Utilization of the selected GPU device between 0 and 1",
			[]string{"adapter_index"},
			nil,
		),
		memoryUsage: prom.NewDesc(
			prom.BuildFQName(archetypeNS, "gpu", "memory_usage_megabytes"),
			"Memory in use on the selected GPU device in MiB",
			[]string{"adapter_index"},
			nil,
		),
	}
}

func (c *gpuCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.deviceInfo
	ch <- c.utilization
	ch <- c.memoryUsage
}

type gpuSample struct {
	devices  []gpu.DeviceInfo
	selected int
	ok       bool
	metrics  gpu.PerformanceMetrics
}

func (c *gpuCollector) Collect(ch chan<- prom.Metric) {
	sample, err := manager.Query(c.gpus, func(m *manager.GPUManager) (gpuSample, error) {
		devices, err := m.ListDevices()
		if err != nil {
			return gpuSample{}, err
		}
		s := gpuSample{devices: devices}
		if s.selected, s.ok = m.SelectedDevice(); s.ok {
			s.metrics = m.PerformanceMetrics()
		}
		return s, nil
	})
	if err != nil {
		c.logger.Warn("skipping gpu metrics", "error", err)
		return
	}

	for _, d := range sample.devices {
		ch <- prom.MustNewConstMetric(
			c.deviceInfo,
			prom.GaugeValue,
			1,
			strconv.Itoa(d.AdapterIndex),
			d.Name,
			d.Vendor,
			strconv.FormatUint(uint64(d.DeviceID), 10),
		)
	}

	if !sample.ok {
		return
	}
	idx := strconv.Itoa(sample.selected)
	ch <- prom.MustNewConstMetric(c.utilization, prom.GaugeValue, float64(sample.metrics.GPUUtilization), idx)
	ch <- prom.MustNewConstMetric(c.memoryUsage, prom.GaugeValue, float64(sample.metrics.MemoryUsageMB), idx)
}
