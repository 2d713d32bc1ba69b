// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archetype-dev/archetype/internal/command"
	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/device/gpu/placeholder"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/plugin"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type brokenBackend struct {
	placeholder.Backend
}

func (brokenBackend) Devices() ([]gpu.DeviceInfo, error) {
	return nil, gpu.ErrDeviceEnumeration{Backend: "broken", Reason: "driver gone"}
}

type brokenCatalog struct{}

func (brokenCatalog) Plugins() ([]plugin.Info, error)   { return nil, errors.New("catalog unreadable") }
func (brokenCatalog) Lookup(string) (plugin.Info, bool) { return plugin.Info{}, false }

func newAppState(t *testing.T, backend gpu.Backend, catalog plugin.Catalog) *manager.AppState {
	t.Helper()
	app, err := manager.NewAppState(backend, catalog, manager.Options{Logger: discard})
	require.NoError(t, err)
	return app
}

func collect(t *testing.T, c prometheus.Collector) map[string][]*dto.Metric {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	out := map[string][]*dto.Metric{}
	for _, mf := range families {
		out[mf.GetName()] = mf.GetMetric()
	}
	return out
}

func labels(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, l := range m.GetLabel() {
		out[l.GetName()] = l.GetValue()
	}
	return out
}

func TestGPUCollector(t *testing.T) {
	app := newAppState(t, placeholder.New(), plugin.DefaultCatalog())
	c := NewGPUCollector(app, discard)

	t.Run("nothing selected", func(t *testing.T) {
		got := collect(t, c)

		devices := got["archetype_gpu_device_info"]
		require.Len(t, devices, 2)
		assert.Equal(t, map[string]string{
			"adapter_index": "0",
			"name":          "NVIDIA GeForce RTX 3080",
			"vendor":        "NVIDIA",
			"device_id":     "1234",
		}, labels(devices[0]))
		assert.Equal(t, 1.0, devices[0].GetGauge().GetValue())

		assert.NotContains(t, got, "archetype_gpu_utilization_ratio")
		assert.NotContains(t, got, "archetype_gpu_memory_usage_megabytes")
	})

	t.Run("device selected", func(t *testing.T) {
		require.NoError(t, manager.Mutate(app.GPU, func(m *manager.GPUManager) error {
			return m.SelectDevice(1)
		}))
		got := collect(t, c)

		util := got["archetype_gpu_utilization_ratio"]
		require.Len(t, util, 1)
		assert.Equal(t, "1", labels(util[0])["adapter_index"])
		assert.InDelta(t, 0.75, util[0].GetGauge().GetValue(), 1e-6)

		mem := got["archetype_gpu_memory_usage_megabytes"]
		require.Len(t, mem, 1)
		assert.Equal(t, 8192.0, mem[0].GetGauge().GetValue())
	})
}

func TestGPUCollector_BackendFailure(t *testing.T) {
	app := newAppState(t, &brokenBackend{}, plugin.DefaultCatalog())
	assert.Equal(t, 0, testutil.CollectAndCount(NewGPUCollector(app, discard)))
}

func TestPluginCollector(t *testing.T) {
	app := newAppState(t, placeholder.New(), plugin.DefaultCatalog())
	c := NewPluginCollector(app, discard)

	require.NoError(t, manager.Mutate(app.Plugins, func(m *manager.PluginManager) error {
		if err := m.LoadPlugin("AudioEnhancer"); err != nil {
			return err
		}
		return m.LoadPlugin("AudioEnhancer")
	}))

	exp := `
# HELP archetype_plugins_available Number of plugins in the catalog
# TYPE archetype_plugins_available gauge
archetype_plugins_available 2
# HELP archetype_plugins_loaded Number of plugins recorded as loaded, duplicates included
# TYPE archetype_plugins_loaded gauge
archetype_plugins_loaded 2
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(exp)))
}

func TestPluginCollector_CatalogFailure(t *testing.T) {
	app := newAppState(t, placeholder.New(), brokenCatalog{})
	c := NewPluginCollector(app, discard)

	got := collect(t, c)
	assert.Contains(t, got, "archetype_plugins_loaded")
	assert.NotContains(t, got, "archetype_plugins_available")
}

func TestCommandCollector(t *testing.T) {
	c := NewCommandCollector()

	c.ObserveCommand("get_gpu_info", command.OutcomeSuccess, 2*time.Millisecond)
	c.ObserveCommand("get_gpu_info", command.OutcomeSuccess, 3*time.Millisecond)
	c.ObserveCommand("load_plugin", command.OutcomeError, time.Millisecond)
	c.ObserveCommand(command.UnknownCommandLabel, command.OutcomeUnknown, time.Microsecond)

	tt := []struct {
		cmd     string
		outcome command.Outcome
		exp     float64
	}{
		{"get_gpu_info", command.OutcomeSuccess, 2},
		{"load_plugin", command.OutcomeError, 1},
		{"unknown", command.OutcomeUnknown, 1},
		{"load_plugin", command.OutcomeSuccess, 0},
	}
	for _, tc := range tt {
		t.Run(tc.cmd+"/"+string(tc.outcome), func(t *testing.T) {
			assert.Equal(t, tc.exp, testutil.ToFloat64(c.total.WithLabelValues(tc.cmd, string(tc.outcome))))
		})
	}

	got := collect(t, c)
	hist := got["archetype_command_duration_seconds"]
	require.Len(t, hist, 3)
	for _, m := range hist {
		if labels(m)["command"] == "get_gpu_info" {
			assert.Equal(t, uint64(2), m.GetHistogram().GetSampleCount())
		}
	}
}
