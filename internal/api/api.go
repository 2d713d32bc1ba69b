// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

// Package api is the HTTP transport for the command router: liveness,
// detailed health and the /command endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/archetype-dev/archetype/internal/command"
	"github.com/archetype-dev/archetype/internal/manager"
	"github.com/archetype-dev/archetype/internal/server"
	"github.com/archetype-dev/archetype/internal/service"
)

const (
	HealthPath         = "/health"
	DetailedHealthPath = "/health/detailed"
	CommandPath        = "/command"

	RequestIDHeader = "X-Request-ID"

	// maxCommandBody bounds a /command request body
	maxCommandBody = 1 << 20
)

// Dispatcher runs commands; *command.Router implements it
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params command.Params) command.Response
}

// Service registers the command endpoints on an APIService
type Service struct {
	logger     *slog.Logger
	api        server.APIService
	dispatcher Dispatcher
	health     *healthReporter
}

var _ service.Initializer = (*Service)(nil)

type Opts struct {
	logger  *slog.Logger
	backend string
	sampler HostSampler
	now     func() time.Time
}

type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithBackendName is reported by the detailed health endpoint
func WithBackendName(name string) OptionFn {
	return func(o *Opts) {
		o.backend = name
	}
}

// WithHostSampler replaces the gopsutil host sampler
func WithHostSampler(s HostSampler) OptionFn {
	return func(o *Opts) {
		o.sampler = s
	}
}

func NewService(api server.APIService, dispatcher Dispatcher, app *manager.AppState, applyOpts ...OptionFn) *Service {
	opts := Opts{
		logger:  slog.Default(),
		sampler: gopsutilSampler{},
		now:     time.Now,
	}
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Service{
		logger:     opts.logger.With("service", "command-api"),
		api:        api,
		dispatcher: dispatcher,
		health: &healthReporter{
			app:     app,
			backend: opts.backend,
			sampler: opts.sampler,
			now:     opts.now,
			started: opts.now(),
		},
	}
}

func (s *Service) Name() string {
	return "command-api"
}

func (s *Service) Init() error {
	endpoints := []struct {
		path, summary, description string
		handler                    http.Handler
	}{
		{HealthPath, "Health", "Liveness probe, always OK", http.HandlerFunc(s.handleHealth)},
		{DetailedHealthPath, "Detailed health", "Component status as JSON", http.HandlerFunc(s.handleDetailedHealth)},
		{CommandPath, "Command", "POST {\"command\", \"parameters\"} to dispatch a command", http.HandlerFunc(s.handleCommand)},
	}

	for _, e := range endpoints {
		if err := s.api.Register(e.path, e.summary, e.description, e.handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", e.path, err)
		}
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Service) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, s.health.report())
}

// allowGet answers 405 to anything but GET
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// commandRequest fields are decoded loosely so that a wrong type in one
// field degrades to the default instead of failing the whole request
type commandRequest struct {
	Command    any `json:"command"`
	Parameters any `json:"parameters"`
}

// handleCommand always answers 200 with a JSON body. A body that cannot be
// decoded dispatches the empty command name, which reports an unknown command.
func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.logger.Debug("undecodable command body", "error", err)
		req = commandRequest{}
	}

	name, _ := req.Command.(string)
	params, _ := req.Parameters.(map[string]any)

	ctx := command.WithRequestID(r.Context(), r.Header.Get(RequestIDHeader))
	resp := s.dispatcher.Dispatch(ctx, name, params)

	if resp.RequestID != "" {
		w.Header().Set(RequestIDHeader, resp.RequestID)
	}
	s.writeJSON(w, resp.Body())
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}
