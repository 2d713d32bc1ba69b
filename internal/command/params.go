// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const (
	ParamAdapterIndex = "adapter_index"
	ParamPluginName   = "plugin_name"
)

// Presence classifies one extracted parameter
type Presence int

const (
	Absent Presence = iota
	Present
	Invalid
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Invalid:
		return "invalid"
	default:
		return "absent"
	}
}

// Param is the result of extracting one parameter. Value holds the default
// unless Presence is Present; Reason explains an Invalid result.
type Param[T any] struct {
	Value    T
	Presence Presence
	Reason   string
}

// OrError returns the value, or ErrInvalidParameter when the parameter was
// present but unusable.
func (p Param[T]) OrError(name string) (T, error) {
	if p.Presence == Invalid {
		return p.Value, ErrInvalidParameter{Name: name, Reason: p.Reason}
	}
	return p.Value, nil
}

// Params is the loosely typed parameter payload of a command. A nil Params
// has every parameter absent.
type Params map[string]any

// AdapterIndex extracts adapter_index as a non-negative integer, default 0.
func (p Params) AdapterIndex() Param[int] {
	raw, ok := p[ParamAdapterIndex]
	if !ok || raw == nil {
		return Param[int]{}
	}

	n, err := toNonNegativeInt(raw)
	if err != nil {
		return Param[int]{Presence: Invalid, Reason: err.Error()}
	}
	return Param[int]{Value: n, Presence: Present}
}

// PluginName extracts plugin_name as a string, default "".
func (p Params) PluginName() Param[string] {
	raw, ok := p[ParamPluginName]
	if !ok || raw == nil {
		return Param[string]{}
	}

	s, ok := raw.(string)
	if !ok {
		return Param[string]{Presence: Invalid, Reason: fmt.Sprintf("must be a string, got %T", raw)}
	}
	return Param[string]{Value: s, Presence: Present}
}

func toNonNegativeInt(raw any) (int, error) {
	errNotIndex := fmt.Errorf("must be a non-negative integer, got %v", raw)

	var i64 int64
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
			return 0, errNotIndex
		}
		return int(v), nil
	case json.Number:
		n, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return 0, errNotIndex
		}
		i64 = n
	case int:
		i64 = int64(v)
	case int32:
		i64 = int64(v)
	case int64:
		i64 = v
	case uint:
		if uint64(v) > math.MaxInt32 {
			return 0, errNotIndex
		}
		i64 = int64(v)
	case uint32:
		i64 = int64(v)
	case uint64:
		if v > math.MaxInt32 {
			return 0, errNotIndex
		}
		i64 = int64(v)
	default:
		return 0, fmt.Errorf("must be a non-negative integer, got %T", raw)
	}

	if i64 < 0 || i64 > math.MaxInt32 {
		return 0, errNotIndex
	}
	return int(i64), nil
}
