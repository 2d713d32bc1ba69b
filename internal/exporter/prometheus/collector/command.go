// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/archetype-dev/archetype/internal/command"
)

// CommandCollector counts dispatches and their latency. It is the router's
// command.Observer.
type CommandCollector struct {
	total    *prom.CounterVec
	duration *prom.HistogramVec
}

var _ command.Observer = (*CommandCollector)(nil)

func NewCommandCollector() *CommandCollector {
	return &CommandCollector{
		total: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: archetypeNS,
				Name:      "commands_total",
				Help:      "Commands dispatched, by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		duration: prom.NewHistogramVec(
			prom.HistogramOpts{
				Namespace: archetypeNS,
				Name:      "command_duration_seconds",
				Help:      "Time spent dispatching a command",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"command"},
		),
	}
}

func (c *CommandCollector) ObserveCommand(cmd string, outcome command.Outcome, elapsed time.Duration) {
	c.total.WithLabelValues(cmd, string(outcome)).Inc()
	c.duration.WithLabelValues(cmd).Observe(elapsed.Seconds())
}

func (c *CommandCollector) Describe(ch chan<- *prom.Desc) {
	c.total.Describe(ch)
	c.duration.Describe(ch)
}

func (c *CommandCollector) Collect(ch chan<- prom.Metric) {
	c.total.Collect(ch)
	c.duration.Collect(ch)
}
