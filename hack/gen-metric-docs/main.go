// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// gen-metric-docs writes a Markdown reference of every metric served on
// /metrics.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/archetype-dev/archetype/internal/device/gpu/placeholder"
	collector "github.com/archetype-dev/archetype/internal/exporter/prometheus/collector"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/plugin"
)

// MetricInfo holds information about a Prometheus metric
type MetricInfo struct {
	Name        string
	Type        string
	Description string
	Labels      []string
}

var (
	fqNameRegex         = regexp.MustCompile(`fqName: "([^"]+)"`)
	helpRegex           = regexp.MustCompile(`help: "([^"]+)"`)
	variableLabelsRegex = regexp.MustCompile(`variableLabels: \{([^}]*)\}`)
)

// extractMetricsInfo extracts metric information from a Prometheus collector
func extractMetricsInfo(c prometheus.Collector) []MetricInfo {
	ch := make(chan *prometheus.Desc, 100)
	c.Describe(ch)
	close(ch)

	var metrics []MetricInfo
	for desc := range ch {
		descStr := desc.String()
		fqNameMatch := fqNameRegex.FindStringSubmatch(descStr)
		helpMatch := helpRegex.FindStringSubmatch(descStr)
		if len(fqNameMatch) < 2 || len(helpMatch) < 2 {
			fmt.Fprintf(os.Stderr, "Warning: could not parse %s\n", descStr)
			continue
		}

		var labels []string
		if m := variableLabelsRegex.FindStringSubmatch(descStr); len(m) >= 2 && m[1] != "" {
			for _, l := range strings.Split(m[1], ",") {
				labels = append(labels, strings.TrimSpace(l))
			}
		}

		metrics = append(metrics, MetricInfo{
			Name:        fqNameMatch[1],
			Type:        metricType(fqNameMatch[1]),
			Description: helpMatch[1],
			Labels:      labels,
		})
	}
	return metrics
}

func metricType(name string) string {
	switch {
	case strings.HasSuffix(name, "_total"):
		return "COUNTER"
	case strings.HasSuffix(name, "_seconds"):
		return "HISTOGRAM"
	default:
		return "GAUGE"
	}
}

type section struct {
	title, intro, prefix string
}

var sections = []section{
	{"GPU Metrics", "Devices reported by the GPU backend and samples of the selected device.", "archetype_gpu_"},
	{"Plugin Metrics", "Catalog size and loaded plugins.", "archetype_plugins_"},
	{"Command Metrics", "Dispatch counts and latency of the command router.", "archetype_command"},
}

// generateMarkdown generates Markdown documentation from metric information
func generateMarkdown(metrics []MetricInfo) string {
	var md strings.Builder
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].Name < metrics[j].Name
	})

	md.WriteString("# Archetype Metrics\n\n")
	md.WriteString("Metrics served in Prometheus format on `/metrics` when running headless.\n\n")
	md.WriteString("### Metric Types\n\n")
	md.WriteString("- **COUNTER**: A cumulative metric that only increases over time\n")
	md.WriteString("- **GAUGE**: A metric that can increase and decrease\n")
	md.WriteString("- **HISTOGRAM**: Samples observed into buckets\n\n")
	md.WriteString("## Metrics Reference\n\n")

	grouped := make([][]MetricInfo, len(sections))
	var other []MetricInfo
next:
	for _, m := range metrics {
		for i, s := range sections {
			if strings.HasPrefix(m.Name, s.prefix) {
				grouped[i] = append(grouped[i], m)
				continue next
			}
		}
		other = append(other, m)
	}

	for i, s := range sections {
		if len(grouped[i]) == 0 {
			continue
		}
		fmt.Fprintf(&md, "### %s\n\n%s\n\n", s.title, s.intro)
		writeMetricsSection(&md, grouped[i])
	}
	if len(other) > 0 {
		md.WriteString("### Other Metrics\n\n")
		writeMetricsSection(&md, other)
	}

	md.WriteString("---\n\n")
	md.WriteString("This documentation was automatically generated by the gen-metric-docs tool.\n")
	return md.String()
}

// writeMetricsSection writes a section of metrics to the markdown builder
func writeMetricsSection(md *strings.Builder, metrics []MetricInfo) {
	for _, metric := range metrics {
		fmt.Fprintf(md, "#### %s\n\n", metric.Name)
		fmt.Fprintf(md, "- **Type**: %s\n", metric.Type)
		fmt.Fprintf(md, "- **Description**: %s\n", metric.Description)
		if len(metric.Labels) > 0 {
			md.WriteString("- **Labels**:\n")
			for _, label := range metric.Labels {
				fmt.Fprintf(md, "  - `%s`\n", label)
			}
		}
		md.WriteString("\n")
	}
}

// collectors builds every application collector over a placeholder backend
func collectors() ([]prometheus.Collector, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := placeholder.New()
	app, err := manager.NewAppState(backend, plugin.DefaultCatalog(), manager.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return []prometheus.Collector{
		collector.NewBuildInfoCollector(backend.Name()),
		collector.NewGPUCollector(app, logger),
		collector.NewPluginCollector(app, logger),
		collector.NewCommandCollector(),
	}, nil
}

func run(outputPath string) error {
	cs, err := collectors()
	if err != nil {
		return err
	}

	var all []MetricInfo
	for _, c := range cs {
		all = append(all, extractMetricsInfo(c)...)
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, []byte(generateMarkdown(all)), 0o644); err != nil {
		return fmt.Errorf("failed to write markdown file: %w", err)
	}
	fmt.Printf("Wrote %d metrics to %s\n", len(all), outputPath)
	return nil
}

func main() {
	outputPath := flag.String("output", "docs/metrics.md", "Path to output Markdown file")
	flag.Parse()

	if err := run(*outputPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
