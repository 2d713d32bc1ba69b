// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/archetype-dev/archetype/internal/manager"
)

type pluginCollector struct {
	logger  *slog.Logger
	plugins *manager.State[manager.PluginManager]

	loaded    *prom.Desc
	available *prom.Desc
}

func NewPluginCollector(app *manager.AppState, logger *slog.Logger) *pluginCollector {
	return &pluginCollector{
		logger:  logger,
		plugins: app.Plugins,
		loaded: prom.NewDesc(
			prom.BuildFQName(archetypeNS, "", "plugins_loaded"),
			"Number of plugins recorded as loaded, duplicates included",
			nil, nil,
		),
		available: prom.NewDesc(
			prom.BuildFQName(archetypeNS, "", "plugins_available"),
			"Number of plugins in the catalog",
			nil, nil,
		),
	}
}

func (c *pluginCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.loaded
	ch <- c.available
}

func (c *pluginCollector) Collect(ch chan<- prom.Metric) {
	var (
		loaded, available int
		listErr           error
	)
	_ = c.plugins.Read(func(m *manager.PluginManager) error {
		loaded = len(m.LoadedPlugins())
		plugins, err := m.ListAvailablePlugins()
		available, listErr = len(plugins), err
		return nil
	})

	ch <- prom.MustNewConstMetric(c.loaded, prom.GaugeValue, float64(loaded))
	if listErr != nil {
		c.logger.Warn("skipping plugins_available", "error", listErr)
		return
	}
	ch <- prom.MustNewConstMetric(c.available, prom.GaugeValue, float64(available))
}
