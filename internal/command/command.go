// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package command maps command names and loosely typed parameters onto
// manager operations, independent of the transport that carried them.
package command

import "fmt"

// Command is one member of the closed set of dispatchable operations
type Command string

const (
	GetGPUInfo            Command = "get_gpu_info"
	SelectGPUDevice       Command = "select_gpu_device"
	GetAvailablePlugins   Command = "get_available_plugins"
	LoadPlugin            Command = "load_plugin"
	GetPerformanceMetrics Command = "get_performance_metrics"
	GetLoadedPlugins      Command = "get_loaded_plugins"
	GetSelectedGPUDevice  Command = "get_selected_gpu_device"
	UnloadPlugin          Command = "unload_plugin"
	GetPluginInfo         Command = "get_plugin_info"
)

var all = []Command{
	GetGPUInfo,
	SelectGPUDevice,
	GetAvailablePlugins,
	LoadPlugin,
	GetPerformanceMetrics,
	GetLoadedPlugins,
	GetSelectedGPUDevice,
	UnloadPlugin,
	GetPluginInfo,
}

// All returns every command in a stable order
func All() []Command {
	out := make([]Command, len(all))
	copy(out, all)
	return out
}

// Parse resolves a wire name. Matching is exact and case sensitive.
func Parse(name string) (Command, bool) {
	for _, c := range all {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// Mutates reports whether the command takes a manager's exclusive lock
func (c Command) Mutates() bool {
	return c == SelectGPUDevice || c == LoadPlugin || c == UnloadPlugin
}

// ErrUnknownCommand is reported in-band for names outside the closed set
type ErrUnknownCommand struct {
	Name string
}

func (e ErrUnknownCommand) Error() string {
	return "Unknown command: " + e.Name
}

// ErrInvalidParameter is reported in strict mode for a parameter that is
// present but unusable
type ErrInvalidParameter struct {
	Name   string
	Reason string
}

func (e ErrInvalidParameter) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}
