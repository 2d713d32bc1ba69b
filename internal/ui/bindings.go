// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package ui adapts the command router to an embedded user interface. Host
// runtimes either call the typed methods of Bindings directly or bind the
// name-keyed InvokeFuncs returned by Handlers.
package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/archetype-dev/archetype/internal/command"
	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/plugin"
)

// Dispatcher runs commands; *command.Router implements it
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params command.Params) command.Response
}

// InvokeFunc runs one bound command. The returned JSON is the same value the
// HTTP adapter would answer with; err is set when that value is an error
// payload.
type InvokeFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Bindings is safe for concurrent use
type Bindings struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewBindings(dispatcher Dispatcher, logger *slog.Logger) *Bindings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bindings{
		dispatcher: dispatcher,
		logger:     logger.With("component", "ui-bindings"),
	}
}

func (b *Bindings) GetGPUInfo(ctx context.Context) ([]gpu.DeviceInfo, error) {
	v, err := call[command.GPUList](ctx, b, command.GetGPUInfo, nil)
	return v.GPUs, err
}

func (b *Bindings) SelectGPUDevice(ctx context.Context, adapterIndex int) error {
	_, err := call[command.Success](ctx, b, command.SelectGPUDevice, command.Params{
		command.ParamAdapterIndex: adapterIndex,
	})
	return err
}

func (b *Bindings) GetAvailablePlugins(ctx context.Context) ([]plugin.Info, error) {
	v, err := call[command.PluginList](ctx, b, command.GetAvailablePlugins, nil)
	return v.Plugins, err
}

func (b *Bindings) LoadPlugin(ctx context.Context, name string) error {
	_, err := call[command.Success](ctx, b, command.LoadPlugin, command.Params{
		command.ParamPluginName: name,
	})
	return err
}

func (b *Bindings) UnloadPlugin(ctx context.Context, name string) error {
	_, err := call[command.Success](ctx, b, command.UnloadPlugin, command.Params{
		command.ParamPluginName: name,
	})
	return err
}

// GetPluginInfo returns the catalog entry and how many times it is loaded
func (b *Bindings) GetPluginInfo(ctx context.Context, name string) (plugin.Info, int, error) {
	v, err := call[command.PluginDetail](ctx, b, command.GetPluginInfo, command.Params{
		command.ParamPluginName: name,
	})
	return v.Info, v.Loaded, err
}

func (b *Bindings) GetPerformanceMetrics(ctx context.Context) (gpu.PerformanceMetrics, error) {
	return call[gpu.PerformanceMetrics](ctx, b, command.GetPerformanceMetrics, nil)
}

func (b *Bindings) GetLoadedPlugins(ctx context.Context) ([]string, error) {
	v, err := call[command.LoadedPluginList](ctx, b, command.GetLoadedPlugins, nil)
	return v.Plugins, err
}

// GetSelectedGPUDevice reports ok=false when no device has been selected
func (b *Bindings) GetSelectedGPUDevice(ctx context.Context) (index int, ok bool, err error) {
	v, err := call[command.SelectedDevice](ctx, b, command.GetSelectedGPUDevice, nil)
	if err != nil || v.AdapterIndex == nil {
		return 0, false, err
	}
	return *v.AdapterIndex, true, nil
}

func call[T any](ctx context.Context, b *Bindings, cmd command.Command, params command.Params) (T, error) {
	var zero T
	resp := b.dispatcher.Dispatch(ctx, string(cmd), params)
	if resp.Err != nil {
		return zero, resp.Err
	}
	v, ok := resp.Value.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", cmd, resp.Value)
	}
	return v, nil
}

// Handlers returns one InvokeFunc per command, keyed by wire name
func (b *Bindings) Handlers() map[string]InvokeFunc {
	out := make(map[string]InvokeFunc, len(command.All()))
	for _, cmd := range command.All() {
		name := string(cmd)
		out[name] = func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return b.Invoke(ctx, name, args)
		}
	}
	return out
}

// Invoke dispatches name with args, a JSON object of parameters. Empty or
// non-object args dispatch with every parameter absent. Unknown names answer
// with the unknown command error payload.
func (b *Bindings) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	resp := b.dispatcher.Dispatch(ctx, name, b.decodeArgs(name, args))

	body, err := json.Marshal(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	return body, resp.Err
}

func (b *Bindings) decodeArgs(name string, args json.RawMessage) command.Params {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var params command.Params
	if err := dec.Decode(&params); err != nil {
		b.logger.Debug("ignoring undecodable arguments", "command", name, "error", err)
		return nil
	}
	return params
}
