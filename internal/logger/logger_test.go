// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tt := []struct {
		name        string
		format      string
		level       string
		logsInfo    bool
		expectPanic bool
	}{{
		name:     "json debug",
		format:   "json",
		level:    "debug",
		logsInfo: true,
	}, {
		name:     "json warn",
		format:   "json",
		level:    "warn",
		logsInfo: false,
	}, {
		name:     "text info",
		format:   "text",
		level:    "info",
		logsInfo: true,
	}, {
		name:     "text error",
		format:   "text",
		level:    "error",
		logsInfo: false,
	}, {
		name:     "unknown level falls back to info",
		format:   "text",
		level:    "verbose",
		logsInfo: true,
	}, {
		name:        "invalid format panics",
		format:      "xml",
		level:       "info",
		expectPanic: true,
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if tc.expectPanic {
				assert.Panics(t, func() { New(tc.level, tc.format, &buf) })
				return
			}

			log := New(tc.level, tc.format, &buf)
			log.Info("select device", "adapter_index", 1)

			if !tc.logsInfo {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), "select device")
		})
	}
}

func TestNew_JSONCarriesSource(t *testing.T) {
	var buf bytes.Buffer
	New("info", "json", &buf).Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Contains(t, entry, "source")
}

func TestNew_TextTrimsSource(t *testing.T) {
	var buf bytes.Buffer
	New("info", "text", &buf).Info("hello")

	line := buf.String()
	idx := strings.Index(line, "source=")
	require.NotEqual(t, -1, idx)
	src := strings.Fields(line[idx:])[0]
	// source=<dir>/<dir>/<file>:<line>
	assert.LessOrEqual(t, strings.Count(src, "/"), 2, src)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.NotPanics(t, func() { log.Error("nothing to see") })
}
