// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/utils/ptr"

	"github.com/archetype-dev/archetype/config"
	"github.com/archetype-dev/archetype/internal/api"
	"github.com/archetype-dev/archetype/internal/command"
	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/exporter/mcp"
	"github.com/archetype-dev/archetype/internal/exporter/prometheus"
	"github.com/archetype-dev/archetype/internal/exporter/stdout"
	"github.com/archetype-dev/archetype/internal/logger"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/plugin"
	"github.com/archetype-dev/archetype/internal/server"
	"github.com/archetype-dev/archetype/internal/service"
	"github.com/archetype-dev/archetype/internal/ui"
	"github.com/archetype-dev/archetype/internal/version"

	// gpu backends register themselves
	_ "github.com/archetype-dev/archetype/internal/device/gpu/host"
	_ "github.com/archetype-dev/archetype/internal/device/gpu/nvidia"
	_ "github.com/archetype-dev/archetype/internal/device/gpu/placeholder"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	// stdout belongs to the stdio MCP transport in embedded mode
	logger := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(logger)
	printConfigInfo(logger, cfg)

	ctx := context.Background()
	backend, err := createBackend(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed to create gpu backend", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Shutdown(); err != nil {
			logger.Warn("gpu backend shutdown failed", "error", err)
		}
	}()

	services, err := createServices(logger, cfg, backend)
	if err != nil {
		logger.Error("failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(logger, services); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting Archetype", "headless", ptr.Deref(cfg.Server.Headless, false))
	if err := service.Run(ctx, logger, services); err != nil {
		logger.Error("Archetype terminated with an error", "error", err)
		os.Exit(1)
	}
	logger.Info("Graceful shutdown completed")
}

func logVersionInfo(logger *slog.Logger) {
	v := version.Info()
	logger.Info("Archetype version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "archetype"
	app := kingpin.New(appName, "GPU and plugin command backend for an embedded UI or local HTTP clients.")

	configFiles := app.Flag(config.ConfigFileFlag, "Path to YAML configuration file; repeat to overlay files in order").Strings()
	updateConfig := config.RegisterFlags(app)
	app.Version(version.Info().String())
	kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if len(*configFiles) > 0 {
		logger.Info("Loading configuration files", "paths", *configFiles)
		loadedCfg, err := config.FromFiles(*configFiles...)
		if err != nil {
			logger.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		cfg = loadedCfg
	}

	// command line flags override config file settings
	if err := updateConfig(cfg); err != nil {
		logger.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func printConfigInfo(logger *slog.Logger, cfg *config.Config) {
	if !logger.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

// createBackend returns an initialised backend. auto picks the first kind
// that reports devices, falling back to the placeholder; every kind gets the
// configured init retries.
func createBackend(ctx context.Context, logger *slog.Logger, cfg *config.Config) (gpu.Backend, error) {
	if cfg.GPU.Backend == config.BackendAuto {
		return gpu.Discover(ctx, logger, cfg.GPU.InitRetries,
			config.BackendNVML, config.BackendHost, config.BackendPlaceholder)
	}

	backend, err := gpu.New(cfg.GPU.Backend, logger)
	if err != nil {
		return nil, err
	}
	if err := gpu.InitWithRetry(ctx, backend, cfg.GPU.InitRetries); err != nil {
		return nil, err
	}
	return backend, nil
}

func createServices(logger *slog.Logger, cfg *config.Config, backend gpu.Backend) ([]service.Service, error) {
	logger.Debug("Creating all services")

	var app *manager.AppState
	var services []service.Service

	var catalog plugin.Catalog = plugin.DefaultCatalog()
	if cfg.Plugins.CatalogDir != "" {
		dirCatalog := plugin.NewDirCatalog(cfg.Plugins.CatalogDir,
			plugin.WithLogger(logger),
			plugin.WithWatch(ptr.Deref(cfg.Plugins.Watch, false)),
			plugin.WithReloadHook(func(plugins []plugin.Info) {
				if app != nil {
					app.Publish(manager.Event{
						Kind: manager.EventCatalogReloaded,
						Data: command.PluginList{Plugins: plugins},
					})
				}
			}),
		)
		catalog = dirCatalog
		services = append(services, dirCatalog)
	}

	app, err := manager.NewAppState(backend, catalog, manager.Options{
		Logger:              logger,
		ValidateSelection:   ptr.Deref(cfg.GPU.ValidateSelection, false),
		ValidatePluginNames: ptr.Deref(cfg.Plugins.ValidateNames, false),
	})
	if err != nil {
		return nil, err
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		// stdout carries the MCP stdio transport unless headless
		out := os.Stderr
		if ptr.Deref(cfg.Server.Headless, false) {
			out = os.Stdout
		}
		services = append(services, stdout.NewExporter(app,
			stdout.WithLogger(logger),
			stdout.WithOutput(out),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
			stdout.WithFormat(cfg.Exporter.Stdout.Format),
		))
	}

	routerOpts := command.Options{
		Logger:        logger,
		StrictParams:  ptr.Deref(cfg.Commands.StrictParams, false),
		SurfaceErrors: ptr.Deref(cfg.Commands.SurfaceErrors, false),
	}

	if !ptr.Deref(cfg.Server.Headless, false) {
		router := command.NewRouter(app, routerOpts)
		bindings := ui.NewBindings(router, logger)
		if ptr.Deref(cfg.MCP.Enabled, false) {
			services = append(services, mcp.NewServer(bindings, logger))
		}
		return append(services, service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM)), nil
	}

	apiServer := server.NewAPIServer(
		server.WithLogger(logger),
		server.WithListen(cfg.Addr(), cfg.Server.WebConfigFile),
	)
	services = append(services, apiServer)

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		collectors, observer := prometheus.CreateCollectors(app, prometheus.WithLogger(logger))
		routerOpts.Observer = observer
		services = append(services, prometheus.NewExporter(apiServer,
			prometheus.WithLogger(logger),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		))
	}

	router := command.NewRouter(app, routerOpts)
	services = append(services, api.NewService(apiServer, router, app,
		api.WithLogger(logger),
		api.WithBackendName(backend.Name()),
	))

	if ptr.Deref(cfg.MCP.Enabled, false) {
		services = append(services, mcp.NewServer(ui.NewBindings(router, logger), logger,
			mcp.WithStreamableHTTP(apiServer, cfg.MCP.Path),
		))
	}

	if ptr.Deref(cfg.Events.Enabled, false) {
		hub := api.NewEventHub(apiServer, router, cfg.Events.Path, logger)
		app.Subscribe(hub)
		services = append(services, hub)
	}

	return append(services, service.NewSignalHandler(logger, os.Interrupt, syscall.SIGTERM)), nil
}
