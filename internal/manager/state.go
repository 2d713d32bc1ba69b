// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager holds the shared subsystem managers and the AppState that
// owns them.
package manager

import "sync"

// State guards a manager for many concurrent readers or one writer.
// The manager is only reachable through Read and Write.
type State[T any] struct {
	mu sync.RWMutex
	v  *T
}

func NewState[T any](v *T) *State[T] {
	return &State[T]{v: v}
}

// Read runs fn under the shared lock. fn must not mutate the manager.
func (s *State[T]) Read(fn func(*T) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.v)
}

// Write runs fn under the exclusive lock.
func (s *State[T]) Write(fn func(*T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.v)
}

// Query reads a value out of the manager under the shared lock.
func Query[T, R any](s *State[T], fn func(*T) (R, error)) (R, error) {
	var out R
	err := s.Read(func(v *T) error {
		var err error
		out, err = fn(v)
		return err
	})
	return out, err
}

// Mutate changes the manager under the exclusive lock.
func Mutate[T any](s *State[T], fn func(*T) error) error {
	return s.Write(fn)
}
