// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/service"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	Shutdowner  = service.Shutdowner
)

// Output formats
const (
	FormatTable = "table"
	FormatCSV   = "csv"
)

// Exporter periodically renders device and plugin state as tables or CSV
type Exporter struct {
	logger   *slog.Logger
	app      *manager.AppState
	out      io.Writer
	ticker   *time.Ticker
	interval time.Duration
	format   string
}

var (
	_ Initializer = (*Exporter)(nil)
	_ Runner      = (*Exporter)(nil)
	_ Shutdowner  = (*Exporter)(nil)
)

type Opts struct {
	logger   *slog.Logger
	out      io.Writer
	interval time.Duration
	format   string
}

// DefaultOpts() returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		out:      os.Stdout,
		interval: 5 * time.Second,
		format:   FormatTable,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

func WithOutput(out io.Writer) OptionFn {
	return func(o *Opts) {
		o.out = out
	}
}

func WithInterval(interval time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = interval
	}
}

func WithFormat(format string) OptionFn {
	return func(o *Opts) {
		o.format = format
	}
}

func NewExporter(app *manager.AppState, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:   opts.logger.With("service", "stdout"),
		app:      app,
		out:      opts.out,
		interval: opts.interval,
		format:   opts.format,
	}
}

func (e *Exporter) Init() error {
	if e.interval <= 0 {
		return fmt.Errorf("invalid stdout interval %s", e.interval)
	}
	if e.format != FormatTable && e.format != FormatCSV {
		return fmt.Errorf("unknown stdout format %q", e.format)
	}
	e.ticker = time.NewTicker(e.interval)
	return nil
}

func (e *Exporter) Run(ctx context.Context) error {
	for {
		select {
		case <-e.ticker.C:
			e.write(e.snapshot())
		case <-ctx.Done():
			e.logger.Info("Exiting ticker")
			return nil
		}
	}
}

// snapshot holds one consistent read of each manager
type snapshot struct {
	devices    []gpu.DeviceInfo
	devicesErr error
	selected   int
	hasSel     bool
	metrics    gpu.PerformanceMetrics
	loaded     []string
}

func (e *Exporter) snapshot() snapshot {
	var s snapshot
	_ = e.app.GPU.Read(func(m *manager.GPUManager) error {
		s.devices, s.devicesErr = m.ListDevices()
		s.selected, s.hasSel = m.SelectedDevice()
		s.metrics = m.PerformanceMetrics()
		return nil
	})
	_ = e.app.Plugins.Read(func(m *manager.PluginManager) error {
		s.loaded = m.LoadedPlugins()
		return nil
	})
	return s
}

func (e *Exporter) write(s snapshot) {
	if s.devicesErr != nil {
		e.logger.Warn("Failed to list gpu devices", "error", s.devicesErr)
	}
	if e.format == FormatCSV {
		if err := writeCSV(e.out, time.Now(), s); err != nil {
			e.logger.Error("Failed to write csv", "error", err)
		}
		return
	}
	writeDevices(e.out, s)
	writePlugins(e.out, s.loaded)
}

// deviceRecord is one CSV line per device and tick
type deviceRecord struct {
	Time           time.Time `csv:"time"`
	AdapterIndex   int       `csv:"adapter_index"`
	Name           string    `csv:"name"`
	Vendor         string    `csv:"vendor"`
	DeviceID       uint32    `csv:"device_id"`
	Selected       bool      `csv:"selected"`
	GPUUtilization float32   `csv:"gpu_utilization,omitempty"`
	MemoryUsageMB  uint64    `csv:"memory_usage_mb,omitempty"`
	LoadedPlugins  int       `csv:"loaded_plugins"`
}

func writeCSV(out io.Writer, now time.Time, s snapshot) error {
	records := make([]deviceRecord, 0, len(s.devices))
	for _, d := range s.devices {
		r := deviceRecord{
			Time:          now.UTC(),
			AdapterIndex:  d.AdapterIndex,
			Name:          d.Name,
			Vendor:        d.Vendor,
			DeviceID:      d.DeviceID,
			LoadedPlugins: len(s.loaded),
		}
		if s.hasSel && d.AdapterIndex == s.selected {
			r.Selected = true
			r.GPUUtilization = s.metrics.GPUUtilization
			r.MemoryUsageMB = s.metrics.MemoryUsageMB
		}
		records = append(records, r)
	}
	if len(records) == 0 {
		return nil
	}

	b, err := csvutil.Marshal(records)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func writeDevices(out io.Writer, s snapshot) {
	rows := make([][]string, 0, len(s.devices))
	for _, d := range s.devices {
		util, mem := "-", "-"
		if s.hasSel && d.AdapterIndex == s.selected {
			util = strconv.FormatFloat(float64(s.metrics.GPUUtilization)*100, 'f', 1, 32)
			mem = strconv.FormatUint(s.metrics.MemoryUsageMB, 10)
		}
		rows = append(rows, []string{
			strconv.Itoa(d.AdapterIndex),
			d.Name,
			d.Vendor,
			strconv.FormatUint(uint64(d.DeviceID), 10),
			util,
			mem,
		})
	}

	table := tablewriter.NewWriter(out)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Formatting.Alignment = tw.AlignRight
	})
	table.Header([]string{"Adapter", "Name", "Vendor", "Device ID", "Util(%)", "Memory(MiB)"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func writePlugins(out io.Writer, loaded []string) {
	rows := make([][]string, 0, len(loaded))
	for i, name := range loaded {
		rows = append(rows, []string{strconv.Itoa(i + 1), name})
	}

	table := tablewriter.NewWriter(out)
	table.Header([]string{"#", "Loaded Plugin"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (e *Exporter) Shutdown() error {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	return nil
}

func (e *Exporter) Name() string {
	return "stdout"
}
