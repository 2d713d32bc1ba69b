// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	collector "github.com/archetype-dev/archetype/internal/exporter/prometheus/collector"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/service"
)

type Initializer = service.Initializer

const MetricsPath = "/metrics"

type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		collectors: map[string]prom.Collector{},
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDebugCollectors replaces the default set of runtime collectors
func WithDebugCollectors(c []string) OptionFn {
	return func(o *Opts) {
		o.debugCollectors = make(map[string]bool)
		for _, name := range c {
			o.debugCollectors[name] = true
		}
	}
}

func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

// Exporter serves the registered collectors on /metrics
type Exporter struct {
	logger          *slog.Logger
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var _ Initializer = (*Exporter)(nil)

func NewExporter(s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		server:          s,
		logger:          opts.logger.With("service", "prometheus"),
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
		registry:        prom.NewRegistry(),
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// CreateCollectors builds the application collectors. The returned
// CommandCollector is also in the map and must be set as the router's
// observer for command metrics to move.
func CreateCollectors(app *manager.AppState, applyOpts ...OptionFn) (map[string]prom.Collector, *collector.CommandCollector) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	backend, _ := manager.Query(app.GPU, func(m *manager.GPUManager) (string, error) {
		return m.BackendName(), nil
	})

	commands := collector.NewCommandCollector()
	return map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(backend),
		"gpu":        collector.NewGPUCollector(app, opts.logger),
		"plugins":    collector.NewPluginCollector(app, opts.logger),
		"commands":   commands,
	}, commands
}

func (e *Exporter) Init() error {
	e.logger.Info("Initializing Prometheus exporter")
	for c := range e.debugCollectors {
		collector, err := collectorForName(c)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", c, "error", err)
			return err
		}
		e.logger.Info("Enabling debug collector", "collector", c)
		e.registry.MustRegister(collector)
	}

	for name, collector := range e.collectors {
		e.logger.Info("Enabling collector", "collector", name)
		if err := e.registry.Register(collector); err != nil {
			return fmt.Errorf("failed to register collector %s: %w", name, err)
		}
	}

	return e.server.Register(MetricsPath, "Metrics", "Prometheus metrics",
		promhttp.HandlerFor(
			e.registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          e.registry,
			},
		))
}

func (e *Exporter) Name() string {
	return "prometheus"
}
