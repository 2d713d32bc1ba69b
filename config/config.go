// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Server controls the process mode and the loopback HTTP listener
	Server struct {
		Headless      *bool  `yaml:"headless"`
		Port          int    `yaml:"port"`
		WebConfigFile string `yaml:"webConfigFile"`
	}

	GPU struct {
		Backend     string `yaml:"backend"`
		InitRetries int    `yaml:"initRetries"`
		// ValidateSelection rejects adapter indices that are not enumerable
		ValidateSelection *bool `yaml:"validateSelection"`
	}

	Plugins struct {
		CatalogDir string `yaml:"catalogDir"`
		Watch      *bool  `yaml:"watch"`
		// ValidateNames rejects plugin names missing from the catalog
		ValidateNames *bool `yaml:"validateNames"`
	}

	Commands struct {
		StrictParams  *bool `yaml:"strictParams"`
		SurfaceErrors *bool `yaml:"surfaceErrors"`
	}

	PrometheusExporter struct {
		Enabled         *bool    `yaml:"enabled"`
		DebugCollectors []string `yaml:"debugCollectors"`
	}

	// StdoutExporter periodically renders device and plugin state as tables
	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
		// Format is table or csv
		Format string `yaml:"format"`
	}

	Exporter struct {
		Prometheus PrometheusExporter `yaml:"prometheus"`
		Stdout     StdoutExporter     `yaml:"stdout"`
	}

	MCP struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	}

	Events struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	}

	Config struct {
		Log      Log      `yaml:"log"`
		Server   Server   `yaml:"server"`
		GPU      GPU      `yaml:"gpu"`
		Plugins  Plugins  `yaml:"plugins"`
		Commands Commands `yaml:"commands"`
		Exporter Exporter `yaml:"exporter"`
		MCP      MCP      `yaml:"mcp"`
		Events   Events   `yaml:"events"`
	}
)

// BindHost is the only address the HTTP adapter listens on
const BindHost = "127.0.0.1"

const DefaultPort = 8080

// GPU backend kinds accepted by gpu.backend
const (
	BackendPlaceholder = "placeholder"
	BackendNVML        = "nvml"
	BackendHost        = "host"
	BackendAuto        = "auto"
)

const (
	// Flags
	ConfigFileFlag = "config.file"

	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HeadlessFlag      = "headless"
	PortFlag          = "port"
	WebConfigFileFlag = "web.config-file"

	GPUBackendFlag = "gpu.backend"

	PluginsCatalogDirFlag = "plugins.catalog-dir"
	PluginsWatchFlag      = "plugins.watch"

	CommandsStrictFlag = "commands.strict"

	ExporterPrometheusEnabledFlag = "exporter.prometheus"
	ExporterStdoutEnabledFlag     = "exporter.stdout"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Server: Server{
			Headless: ptr.To(false),
			Port:     DefaultPort,
		},
		GPU: GPU{
			Backend:           BackendPlaceholder,
			InitRetries:       3,
			ValidateSelection: ptr.To(false),
		},
		Plugins: Plugins{
			Watch:         ptr.To(false),
			ValidateNames: ptr.To(false),
		},
		Commands: Commands{
			StrictParams:  ptr.To(false),
			SurfaceErrors: ptr.To(false),
		},
		Exporter: Exporter{
			Prometheus: PrometheusExporter{
				Enabled:         ptr.To(true),
				DebugCollectors: []string{"go"},
			},
			Stdout: StdoutExporter{
				Enabled:  ptr.To(false),
				Interval: 5 * time.Second,
				Format:   "table",
			},
		},
		MCP: MCP{
			Enabled: ptr.To(true),
			Path:    "/mcp",
		},
		Events: Events{
			Enabled: ptr.To(true),
			Path:    "/ws",
		},
	}
}

// Load loads configuration from an io.Reader, on top of the defaults
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFiles loads the first file like FromFile and merges the remaining
// files over it in order; later files win for every field they set.
func FromFiles(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return DefaultConfig(), nil
	}

	base, err := FromFile(paths[0])
	if err != nil {
		return nil, err
	}

	overlays := make([]string, 0, len(paths)-1)
	for _, p := range paths[1:] {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read config overlay: %w", err)
		}
		overlays = append(overlays, string(data))
	}

	cfg, err := (&Builder{}).Use(base).Merge(overlays...).Build()
	if err != nil {
		return nil, err
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (cfg *Config, errRet error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil && errRet == nil {
			errRet = err
		}
	}()

	return Load(file)
}

// Addr is the loopback listen address for the HTTP adapter
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", BindHost, c.Server.Port)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app and returns a
// ConfigUpdaterFn that applies only the flags that were set explicitly, so
// command line arguments override config file settings but defaults don't.
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}
		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	headless := app.Flag(HeadlessFlag, "Serve commands over HTTP on 127.0.0.1 instead of the embedded UI transport").Default("false").Bool()
	port := app.Flag(PortFlag, "Port of the loopback HTTP listener").Default(fmt.Sprint(DefaultPort)).Int()
	webConfig := app.Flag(WebConfigFileFlag, "Web config file path (TLS, basic auth)").Default("").String()

	backend := app.Flag(GPUBackendFlag, "GPU backend: placeholder, nvml, host or auto").
		Default(BackendPlaceholder).Enum(BackendPlaceholder, BackendNVML, BackendHost, BackendAuto)

	catalogDir := app.Flag(PluginsCatalogDirFlag, "Directory of plugin manifests; empty uses the built-in catalog").Default("").String()
	watch := app.Flag(PluginsWatchFlag, "Reload the plugin catalog when manifests change").Default("false").Bool()

	strict := app.Flag(CommandsStrictFlag, "Reject invalid parameters and report manager failures").Default("false").Bool()

	prometheusEnabled := app.Flag(ExporterPrometheusEnabledFlag, "Enable Prometheus exporter").Default("true").Bool()
	stdoutEnabled := app.Flag(ExporterStdoutEnabledFlag, "Periodically print device and plugin state").Default("false").Bool()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HeadlessFlag] {
			cfg.Server.Headless = headless
		}
		if flagsSet[PortFlag] {
			cfg.Server.Port = *port
		}
		if flagsSet[WebConfigFileFlag] {
			cfg.Server.WebConfigFile = *webConfig
		}

		if flagsSet[GPUBackendFlag] {
			cfg.GPU.Backend = *backend
		}

		if flagsSet[PluginsCatalogDirFlag] {
			cfg.Plugins.CatalogDir = *catalogDir
		}
		if flagsSet[PluginsWatchFlag] {
			cfg.Plugins.Watch = watch
		}

		// --commands.strict turns on every strictness knob at once
		if flagsSet[CommandsStrictFlag] {
			cfg.Commands.StrictParams = ptr.To(*strict)
			cfg.Commands.SurfaceErrors = ptr.To(*strict)
			cfg.GPU.ValidateSelection = ptr.To(*strict)
			cfg.Plugins.ValidateNames = ptr.To(*strict)
		}

		if flagsSet[ExporterPrometheusEnabledFlag] {
			cfg.Exporter.Prometheus.Enabled = prometheusEnabled
		}
		if flagsSet[ExporterStdoutEnabledFlag] {
			cfg.Exporter.Stdout.Enabled = stdoutEnabled
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Server.WebConfigFile = strings.TrimSpace(c.Server.WebConfigFile)
	c.GPU.Backend = strings.ToLower(strings.TrimSpace(c.GPU.Backend))
	c.Plugins.CatalogDir = strings.TrimSpace(c.Plugins.CatalogDir)
	c.Exporter.Stdout.Format = strings.ToLower(strings.TrimSpace(c.Exporter.Stdout.Format))
	c.MCP.Path = strings.TrimSpace(c.MCP.Path)
	c.Events.Path = strings.TrimSpace(c.Events.Path)

	for i := range c.Exporter.Prometheus.DebugCollectors {
		c.Exporter.Prometheus.DebugCollectors[i] = strings.TrimSpace(c.Exporter.Prometheus.DebugCollectors[i])
	}
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log
		validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLogLevels[c.Log.Level] {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
		validFormats := map[string]bool{"text": true, "json": true}
		if !validFormats[c.Log.Format] {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // server
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port))
		}
		if c.Server.WebConfigFile != "" {
			if err := canReadFile(c.Server.WebConfigFile); err != nil {
				errs = append(errs, fmt.Sprintf("invalid web config file. path: %q: %s", c.Server.WebConfigFile, err.Error()))
			}
		}
	}
	{ // gpu
		switch c.GPU.Backend {
		case BackendPlaceholder, BackendNVML, BackendHost, BackendAuto:
		default:
			errs = append(errs, fmt.Sprintf("invalid gpu backend: %s", c.GPU.Backend))
		}
		if c.GPU.InitRetries < 1 {
			errs = append(errs, fmt.Sprintf("invalid gpu init retries: %d must be at least 1", c.GPU.InitRetries))
		}
	}
	{ // plugins
		if c.Plugins.CatalogDir != "" {
			if err := canReadDir(c.Plugins.CatalogDir); err != nil {
				errs = append(errs, fmt.Sprintf("invalid plugin catalog dir: %s: %s", c.Plugins.CatalogDir, err.Error()))
			}
		} else if ptr.Deref(c.Plugins.Watch, false) {
			errs = append(errs, fmt.Sprintf("%s requires %s", PluginsWatchFlag, PluginsCatalogDirFlag))
		}
	}
	{ // exporters
		if ptr.Deref(c.Exporter.Stdout.Enabled, false) && c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("invalid stdout exporter interval: %s must be positive", c.Exporter.Stdout.Interval))
		}
		if f := c.Exporter.Stdout.Format; f != "table" && f != "csv" {
			errs = append(errs, fmt.Sprintf("invalid stdout exporter format: %s", f))
		}
	}
	{ // endpoints
		if err := validateEndpoint(c.MCP.Path); ptr.Deref(c.MCP.Enabled, false) && err != nil {
			errs = append(errs, fmt.Sprintf("invalid mcp path %q: %s", c.MCP.Path, err))
		}
		if err := validateEndpoint(c.Events.Path); ptr.Deref(c.Events.Enabled, false) && err != nil {
			errs = append(errs, fmt.Sprintf("invalid events path %q: %s", c.Events.Path, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

// reserved endpoints are owned by the HTTP adapter and the metrics exporter
var reservedEndpoints = map[string]bool{
	"/":                true,
	"/health":          true,
	"/health/detailed": true,
	"/command":         true,
	"/metrics":         true,
}

func validateEndpoint(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("must start with /")
	}
	if path.Clean(p) != p {
		return fmt.Errorf("must be a clean path")
	}
	if reservedEndpoints[p] {
		return fmt.Errorf("reserved endpoint")
	}
	return nil
}

func canReadDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	_, err = f.ReadDir(1)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func canReadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// ignored on purpose
		_ = f.Close()
	}()

	buf := make([]byte, 8)
	_, err = f.Read(buf)
	return err
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: yaml marshal of plain structs should not fail; fall back to the essentials
	return fmt.Sprintf("%s: %s\n%s: %s\n%s: %v\n%s: %d\n%s: %s\n",
		LogLevelFlag, c.Log.Level,
		LogFormatFlag, c.Log.Format,
		HeadlessFlag, ptr.Deref(c.Server.Headless, false),
		PortFlag, c.Server.Port,
		GPUBackendFlag, c.GPU.Backend)
}
