// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/oklog/run"
)

// Run starts every Runner as an actor of one run group and blocks until the
// first of them returns. That actor decides the outcome: its error is
// returned naming the service, and a context.Canceled caused by outer being
// done counts as a clean stop. Every other actor is then interrupted and
// shut down if it is a Shutdowner.
func Run(outer context.Context, logger *slog.Logger, services []Service) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	var runners []Runner
	for _, s := range services {
		if r, ok := s.(Runner); ok {
			runners = append(runners, r)
			continue
		}
		logger.Debug("service does not run in background", "service", s.Name())
	}
	if len(runners) == 0 {
		logger.Warn("no services to run")
		return nil
	}

	ctx, cancel := context.WithCancel(outer)
	defer cancel()

	var g run.Group
	for _, r := range runners {
		g.Add(actor(ctx, logger, r), interrupter(cancel, logger, r))
	}

	logger.Info("Running all services", "count", len(runners))
	err := g.Run()
	if errors.Is(err, context.Canceled) && outer.Err() != nil {
		return nil
	}
	return err
}

func actor(ctx context.Context, logger *slog.Logger, r Runner) func() error {
	return func() error {
		logger.Info("Running service", "service", r.Name())
		if err := r.Run(ctx); err != nil {
			return fmt.Errorf("service %s: %w", r.Name(), err)
		}
		logger.Debug("service stopped", "service", r.Name())
		return nil
	}
}

func interrupter(cancel context.CancelFunc, logger *slog.Logger, r Runner) func(error) {
	return func(err error) {
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("service group interrupted", "service", r.Name(), "reason", err)
		}

		sd, ok := r.(Shutdowner)
		if !ok {
			return
		}
		logger.Info("shutting down", "service", r.Name())
		if err := sd.Shutdown(); err != nil {
			logger.Warn("service shutdown failed", "service", r.Name(), "error", err)
		}
	}
}
