// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/archetype-dev/archetype/internal/version"
)

const archetypeNS = "archetype"

// BuildInfoCollector reports a constant 1 labelled with the build and the
// GPU backend the process settled on. Labels are fixed at construction.
type BuildInfoCollector struct {
	desc   *prom.Desc
	labels []string
}

func NewBuildInfoCollector(backend string) *BuildInfoCollector {
	info := version.Info()
	return &BuildInfoCollector{
		desc: prom.NewDesc(
			prom.BuildFQName(archetypeNS, "build", "info"),
			"Build and runtime identity of the process, value is always 1",
			[]string{"version", "revision", "branch", "goversion", "goos", "goarch", "gpu_backend"},
			nil,
		),
		labels: []string{
			info.Version, info.GitCommit, info.GitBranch,
			info.GoVersion, info.GoOS, info.GoArch,
			backend,
		},
	}
}

func (c *BuildInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *BuildInfoCollector) Collect(ch chan<- prom.Metric) {
	ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1, c.labels...)
}
