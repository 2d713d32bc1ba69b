// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/archetype-dev/archetype/internal/command"
)

// NoParams is the argument type of tools that take none
type NoParams struct{}

// SelectGPUDeviceParams defines parameters for the select_gpu_device tool
type SelectGPUDeviceParams struct {
	AdapterIndex *int `json:"adapter_index,omitempty" jsonschema:"Adapter index reported by get_gpu_info (default: 0)"`
}

// PluginNameParams defines parameters for tools that name one plugin
type PluginNameParams struct {
	PluginName *string `json:"plugin_name,omitempty" jsonschema:"Name of a plugin reported by get_available_plugins"`
}

func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.GetGPUInfo),
		Description: "List the GPU devices the backend can see",
	}, handle[NoParams](s, command.GetGPUInfo))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.SelectGPUDevice),
		Description: "Select the GPU device that performance metrics are read from",
	}, handle[SelectGPUDeviceParams](s, command.SelectGPUDevice))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.GetAvailablePlugins),
		Description: "List the plugins in the catalog",
	}, handle[NoParams](s, command.GetAvailablePlugins))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.LoadPlugin),
		Description: "Record a plugin as loaded",
	}, handle[PluginNameParams](s, command.LoadPlugin))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.GetPerformanceMetrics),
		Description: "Read utilization and memory usage of the selected GPU device",
	}, handle[NoParams](s, command.GetPerformanceMetrics))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.GetLoadedPlugins),
		Description: "List loaded plugin names in load order",
	}, handle[NoParams](s, command.GetLoadedPlugins))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.GetSelectedGPUDevice),
		Description: "Report the selected adapter index, null when none is selected",
	}, handle[NoParams](s, command.GetSelectedGPUDevice))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.UnloadPlugin),
		Description: "Remove the earliest loaded entry of a plugin",
	}, handle[PluginNameParams](s, command.UnloadPlugin))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        string(command.GetPluginInfo),
		Description: "Describe one catalog plugin and how many times it is loaded",
	}, handle[PluginNameParams](s, command.GetPluginInfo))
}

// handle answers with the same JSON the HTTP adapter returns. Command
// failures are tool errors, not protocol errors.
func handle[In any](s *Server, cmd command.Command) func(context.Context, *mcp.ServerSession, *mcp.CallToolParamsFor[In]) (*mcp.CallToolResultFor[any], error) {
	return func(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[In]) (*mcp.CallToolResultFor[any], error) {
		s.logger.Debug("Handling tool call", "tool", cmd)

		var args json.RawMessage
		if params != nil {
			b, err := json.Marshal(params.Arguments)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s arguments: %w", cmd, err)
			}
			args = b
		}

		out, cmdErr := s.bindings.Invoke(ctx, string(cmd), args)
		if out == nil {
			return nil, cmdErr
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: string(out)}},
			IsError: cmdErr != nil,
		}, nil
	}
}
