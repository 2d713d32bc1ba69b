// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"encoding/json"

	"github.com/archetype-dev/archetype/internal/device/gpu"
	"github.com/archetype-dev/archetype/internal/plugin"
)

// Success payloads, one per response shape.
type (
	GPUList struct {
		GPUs []gpu.DeviceInfo `json:"gpus"`
	}

	PluginList struct {
		Plugins []plugin.Info `json:"plugins"`
	}

	LoadedPluginList struct {
		Plugins []string `json:"plugins"`
	}

	// SelectedDevice has a null adapter index when nothing is selected
	SelectedDevice struct {
		AdapterIndex *int `json:"adapter_index"`
	}

	// PluginDetail is a catalog entry plus the number of times it is loaded
	PluginDetail struct {
		plugin.Info
		Loaded int `json:"loaded"`
	}

	Success struct {
		Success bool `json:"success"`
	}

	ErrorPayload struct {
		Error string `json:"error"`
	}
)

// Response carries exactly one of a success payload or an error.
type Response struct {
	Command   Command
	RequestID string
	Value     any
	Err       error
}

func (r Response) Failed() bool {
	return r.Err != nil
}

// Body is what transports serialise: the success payload, or ErrorPayload.
func (r Response) Body() any {
	if r.Err != nil {
		return ErrorPayload{Error: r.Err.Error()}
	}
	return r.Value
}

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Body())
}
