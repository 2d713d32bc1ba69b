// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o600))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirCatalog_Reload(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "20-audio.yaml", "name: AudioEnhancer\nversion: 0.9.0\ndescription: Enhances audio quality.\n")
	writeManifest(t, dir, "10-image.yml", "name: ImageProcessor\nversion: 1.0.0\ndescription: Processes images with various filters.\n")
	writeManifest(t, dir, "30-dup.yaml", "name: ImageProcessor\nversion: 2.0.0\n")
	writeManifest(t, dir, "40-noname.yaml", "version: 1.0.0\n")
	writeManifest(t, dir, "50-broken.yaml", "name: [\n")
	writeManifest(t, dir, "README.md", "name: NotAManifest\nversion: 1\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0o755))

	c := NewDirCatalog(dir, WithLogger(discardLogger()))
	require.NoError(t, c.Init())

	plugins, err := c.Plugins()
	require.NoError(t, err)
	assert.Equal(t, []Info{
		{Name: "ImageProcessor", Version: "1.0.0", Description: "Processes images with various filters."},
		{Name: "AudioEnhancer", Version: "0.9.0", Description: "Enhances audio quality."},
	}, plugins)

	info, ok := c.Lookup("AudioEnhancer")
	assert.True(t, ok)
	assert.Equal(t, "0.9.0", info.Version)
	_, ok = c.Lookup("NotAManifest")
	assert.False(t, ok)
}

func TestDirCatalog_MissingDir(t *testing.T) {
	c := NewDirCatalog(filepath.Join(t.TempDir(), "missing"), WithLogger(discardLogger()))
	assert.ErrorContains(t, c.Init(), "failed to read plugin catalog")

	plugins, err := c.Plugins()
	require.NoError(t, err)
	assert.Empty(t, plugins)
}

func TestReadManifest(t *testing.T) {
	dir := t.TempDir()

	tt := []struct {
		name    string
		content string
		reason  string
	}{
		{name: "missing version", content: "name: X\n", reason: "version is required"},
		{name: "blank name", content: "name: '  '\nversion: 1\n", reason: "name is required"},
		{name: "not yaml", content: "\t- : :", reason: "yaml"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, "m.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			_, err := readManifest(path)
			var invalid ErrInvalidManifest
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, path, invalid.Path)
			assert.Contains(t, invalid.Reason, tc.reason)
		})
	}
}

func TestDirCatalog_Watch(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "name: A\nversion: 1\n")

	var (
		mu      sync.Mutex
		reloads [][]Info
	)
	c := NewDirCatalog(dir,
		WithLogger(discardLogger()),
		WithWatch(true),
		WithReloadHook(func(p []Info) {
			mu.Lock()
			defer mu.Unlock()
			reloads = append(reloads, p)
		}),
	)
	require.NoError(t, c.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// give the watcher time to register
	time.Sleep(50 * time.Millisecond)
	writeManifest(t, dir, "b.yaml", "name: B\nversion: 1\n")

	assert.Eventually(t, func() bool {
		_, ok := c.Lookup("B")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(reloads), 2)
}

func TestDirCatalog_RunWithoutWatch(t *testing.T) {
	c := NewDirCatalog(t.TempDir(), WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx))
}
