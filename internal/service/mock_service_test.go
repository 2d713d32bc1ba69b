// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type mockService struct {
	name string
}

func (m *mockService) Name() string {
	return m.name
}

// fakeService implements every lifecycle interface and records the calls.
// shutdownLog, when set, collects service names in shutdown order.
type fakeService struct {
	mockService
	initFn     func() error
	runFn      func(ctx context.Context) error
	shutdownFn func() error

	mu            sync.Mutex
	initCount     int
	runCount      int
	shutdownCount int
	shutdownLog   *[]string
}

func (f *fakeService) Init() error {
	f.mu.Lock()
	f.initCount++
	f.mu.Unlock()
	if f.initFn != nil {
		return f.initFn()
	}
	return nil
}

func (f *fakeService) Run(ctx context.Context) error {
	f.mu.Lock()
	f.runCount++
	f.mu.Unlock()
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeService) Shutdown() error {
	f.mu.Lock()
	f.shutdownCount++
	if f.shutdownLog != nil {
		*f.shutdownLog = append(*f.shutdownLog, f.name)
	}
	f.mu.Unlock()
	if f.shutdownFn != nil {
		return f.shutdownFn()
	}
	return nil
}

func (f *fakeService) counts() (initN, runN, shutdownN int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCount, f.runCount, f.shutdownCount
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
