// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
	"os"
)

// Init initializes services in order. On the first failure every service that
// was already initialized is shut down again and the failure is returned.
func Init(logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	initialized := make([]Service, 0, len(services))
	for _, s := range services {
		srv, ok := s.(Initializer)
		if !ok {
			logger.Debug("skipping service initialization", "service", s.Name())
			continue
		}

		logger.Info("Initializing service", "service", s.Name())
		if err := srv.Init(); err != nil {
			logger.Info("Rolling back initialized services", "failed", s.Name())
			Shutdown(logger, initialized)
			return fmt.Errorf("failed to initialize service %s: %w", s.Name(), err)
		}
		initialized = append(initialized, s)
	}
	return nil
}

// Shutdown shuts down services in reverse order, logging failures.
func Shutdown(logger *slog.Logger, services []Service) {
	for i := len(services) - 1; i >= 0; i-- {
		s := services[i]
		srv, ok := s.(Shutdowner)
		if !ok {
			continue
		}
		if err := srv.Shutdown(); err != nil {
			logger.Error("failed to shutdown service", "service", s.Name(), "error", err)
			continue
		}
		logger.Debug("service shutdown", "service", s.Name())
	}
}
