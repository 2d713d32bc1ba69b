// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/plugin"
)

// Outcome labels a finished dispatch
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeUnknown Outcome = "unknown"
)

// UnknownCommandLabel replaces unrecognised names when reporting to an
// Observer, which keeps label sets closed.
const UnknownCommandLabel = "unknown"

// Observer is told about every dispatch once it has finished
type Observer interface {
	ObserveCommand(command string, outcome Outcome, elapsed time.Duration)
}

type Options struct {
	Logger *slog.Logger
	// StrictParams rejects parameters that are present but unusable instead
	// of substituting the default
	StrictParams bool
	// SurfaceErrors reports manager failures as error payloads instead of
	// empty lists and unconditional success
	SurfaceErrors bool
	Observer      Observer
}

type handler func(r *Router, p Params) (any, error)

// handlers is the dispatch table, one entry per Command
var handlers = map[Command]handler{
	GetGPUInfo:            (*Router).getGPUInfo,
	SelectGPUDevice:       (*Router).selectGPUDevice,
	GetAvailablePlugins:   (*Router).getAvailablePlugins,
	LoadPlugin:            (*Router).loadPlugin,
	GetPerformanceMetrics: (*Router).getPerformanceMetrics,
	GetLoadedPlugins:      (*Router).getLoadedPlugins,
	GetSelectedGPUDevice:  (*Router).getSelectedGPUDevice,
	UnloadPlugin:          (*Router).unloadPlugin,
	GetPluginInfo:         (*Router).getPluginInfo,
}

// Router is stateless apart from its configuration; all state lives in the
// AppState it was built with. Safe for concurrent use.
type Router struct {
	app    *manager.AppState
	logger *slog.Logger
	opts   Options
}

func NewRouter(app *manager.AppState, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		app:    app,
		logger: logger.With("component", "router"),
		opts:   opts,
	}
}

// Dispatch runs the named command. It always returns exactly one success
// payload or error, including for unknown names and panicking handlers.
// A nil ctx is treated as context.Background().
func (r *Router) Dispatch(ctx context.Context, name string, params Params) (resp Response) {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	_, reqID := EnsureRequestID(ctx)

	cmd, ok := Parse(name)
	label := string(cmd)
	if !ok {
		label = UnknownCommandLabel
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("command handler panicked", "command", name, "request_id", reqID, "panic", p)
			resp = Response{Command: cmd, Err: fmt.Errorf("internal error handling %s", name)}
		}
		resp.RequestID = reqID

		outcome := OutcomeSuccess
		switch {
		case !ok:
			outcome = OutcomeUnknown
		case resp.Failed():
			outcome = OutcomeError
		}
		elapsed := time.Since(start)
		if r.opts.Observer != nil {
			r.opts.Observer.ObserveCommand(label, outcome, elapsed)
		}
		r.logger.Debug("command dispatched",
			"command", name, "request_id", reqID, "outcome", outcome, "elapsed", elapsed)
	}()

	if !ok {
		return Response{Err: ErrUnknownCommand{Name: name}}
	}

	value, err := handlers[cmd](r, params)
	return Response{Command: cmd, Value: value, Err: err}
}

// swallow applies the failure policy for manager errors: in lenient mode the
// error is logged and fallback is reported as the result.
func (r *Router) swallow(cmd Command, err error, fallback any) (any, error) {
	if r.opts.SurfaceErrors {
		return nil, err
	}
	r.logger.Warn("manager operation failed", "command", cmd, "error", err)
	return fallback, nil
}

func (r *Router) getGPUInfo(Params) (any, error) {
	devices, err := manager.Query(r.app.GPU, (*manager.GPUManager).ListDevices)
	if err != nil {
		return r.swallow(GetGPUInfo, err, GPUList{GPUs: []gpu.DeviceInfo{}})
	}
	return GPUList{GPUs: devices}, nil
}

func (r *Router) selectGPUDevice(p Params) (any, error) {
	index, err := param(r, p.AdapterIndex(), ParamAdapterIndex)
	if err != nil {
		return nil, err
	}

	err = manager.Mutate(r.app.GPU, func(m *manager.GPUManager) error {
		return m.SelectDevice(index)
	})
	if err != nil {
		return r.swallow(SelectGPUDevice, err, Success{Success: true})
	}

	r.app.Publish(manager.Event{Kind: manager.EventGPUSelected, Data: SelectedDevice{AdapterIndex: &index}})
	return Success{Success: true}, nil
}

func (r *Router) getAvailablePlugins(Params) (any, error) {
	plugins, err := manager.Query(r.app.Plugins, (*manager.PluginManager).ListAvailablePlugins)
	if err != nil {
		return r.swallow(GetAvailablePlugins, err, PluginList{Plugins: []plugin.Info{}})
	}
	return PluginList{Plugins: plugins}, nil
}

func (r *Router) loadPlugin(p Params) (any, error) {
	name, err := param(r, p.PluginName(), ParamPluginName)
	if err != nil {
		return nil, err
	}

	var loaded int
	err = manager.Mutate(r.app.Plugins, func(m *manager.PluginManager) error {
		if err := m.LoadPlugin(name); err != nil {
			return err
		}
		loaded = len(m.LoadedPlugins())
		return nil
	})
	if err != nil {
		return r.swallow(LoadPlugin, err, Success{Success: true})
	}

	r.app.Publish(manager.Event{Kind: manager.EventPluginLoaded, Data: map[string]any{
		"plugin_name": name,
		"loaded":      loaded,
	}})
	return Success{Success: true}, nil
}

// unloadPlugin removes one loaded entry. A name that is not loaded goes
// through the failure policy, so lenient mode still reports success.
func (r *Router) unloadPlugin(p Params) (any, error) {
	name, err := param(r, p.PluginName(), ParamPluginName)
	if err != nil {
		return nil, err
	}

	var loaded int
	err = manager.Mutate(r.app.Plugins, func(m *manager.PluginManager) error {
		if err := m.UnloadPlugin(name); err != nil {
			return err
		}
		loaded = len(m.LoadedPlugins())
		return nil
	})
	if err != nil {
		return r.swallow(UnloadPlugin, err, Success{Success: true})
	}

	r.app.Publish(manager.Event{Kind: manager.EventPluginUnloaded, Data: map[string]any{
		"plugin_name": name,
		"loaded":      loaded,
	}})
	return Success{Success: true}, nil
}

// getPluginInfo has no meaningful fallback, so a name missing from the
// catalog is always an error payload.
func (r *Router) getPluginInfo(p Params) (any, error) {
	name, err := param(r, p.PluginName(), ParamPluginName)
	if err != nil {
		return nil, err
	}

	return manager.Query(r.app.Plugins, func(m *manager.PluginManager) (PluginDetail, error) {
		info, loaded, err := m.PluginInfo(name)
		if err != nil {
			return PluginDetail{}, err
		}
		return PluginDetail{Info: info, Loaded: loaded}, nil
	})
}

func (r *Router) getPerformanceMetrics(Params) (any, error) {
	return manager.Query(r.app.GPU, func(m *manager.GPUManager) (gpu.PerformanceMetrics, error) {
		return m.PerformanceMetrics(), nil
	})
}

func (r *Router) getLoadedPlugins(Params) (any, error) {
	return manager.Query(r.app.Plugins, func(m *manager.PluginManager) (LoadedPluginList, error) {
		return LoadedPluginList{Plugins: m.LoadedPlugins()}, nil
	})
}

func (r *Router) getSelectedGPUDevice(Params) (any, error) {
	return manager.Query(r.app.GPU, func(m *manager.GPUManager) (SelectedDevice, error) {
		idx, ok := m.SelectedDevice()
		if !ok {
			return SelectedDevice{}, nil
		}
		return SelectedDevice{AdapterIndex: &idx}, nil
	})
}

// param applies the leniency policy to an extracted parameter
func param[T any](r *Router, p Param[T], name string) (T, error) {
	if !r.opts.StrictParams {
		if p.Presence == Invalid {
			r.logger.Debug("invalid parameter replaced by default", "param", name, "reason", p.Reason)
		}
		return p.Value, nil
	}
	return p.OrError(name)
}
