// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is implemented by every long-lived component of the backend
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that need one-time setup before running
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that block in the background
type Runner interface {
	Service
	// Run is expected to block until ctx is done or the service fails
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that hold resources
type Shutdowner interface {
	Service
	Shutdown() error
}
