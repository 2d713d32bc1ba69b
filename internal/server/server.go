// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/exporter-toolkit/web"

	"github.com/archetype-dev/archetype/config"
	"github.com/archetype-dev/archetype/internal/service"
)

// APIService is the HTTP server that other services register endpoints on
type APIService interface {
	service.Service
	Register(endpoint, summary, description string, handler http.Handler) error
}

// APIServer serves registered endpoints on a loopback address only.
type APIServer struct {
	logger *slog.Logger

	server    *http.Server
	mux       *http.ServeMux
	webConfig *web.FlagConfig
	addr      string

	mu        sync.Mutex
	endpoints []endpoint
}

type endpoint struct {
	path, summary, description string
}

var (
	_ APIService          = (*APIServer)(nil)
	_ service.Initializer = (*APIServer)(nil)
	_ service.Runner      = (*APIServer)(nil)
	_ service.Shutdowner  = (*APIServer)(nil)
)

type Opts struct {
	logger        *slog.Logger
	addr          string
	webConfigFile string
}

// OptionFn sets one or more options in Opts
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithListen sets the listen address and the optional exporter-toolkit web
// config file (TLS, basic auth)
func WithListen(addr, webConfigFile string) OptionFn {
	return func(o *Opts) {
		o.addr = addr
		o.webConfigFile = webConfigFile
	}
}

func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		addr:   net.JoinHostPort(config.BindHost, fmt.Sprint(config.DefaultPort)),
	}
}

func NewAPIServer(applyOpts ...OptionFn) *APIServer {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	mux := http.NewServeMux()
	addrs := []string{opts.addr}
	webConfigFile := opts.webConfigFile

	return &APIServer{
		logger: opts.logger.With("service", "api-server"),
		mux:    mux,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr: opts.addr,
		webConfig: &web.FlagConfig{
			WebListenAddresses: &addrs,
			WebSystemdSocket:   new(bool),
			WebConfigFile:      &webConfigFile,
		},
	}
}

func (s *APIServer) Name() string {
	return "api-server"
}

// Init refuses any non-loopback listen address and installs the landing page.
func (s *APIServer) Init() error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", s.addr, err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("refusing to listen on non-loopback address %q", s.addr)
	}

	s.logger.Info("Initializing api server", "address", s.addr)
	s.mux.HandleFunc("/", s.landingPage)
	return nil
}

func (s *APIServer) landingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	var items string
	for _, e := range s.endpoints {
		items += fmt.Sprintf("\t<li><a href=\"%s\">%s</a> %s</li>\n",
			html.EscapeString(e.path), html.EscapeString(e.summary), html.EscapeString(e.description))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := fmt.Fprintf(w, `<html>
<head><title>Archetype</title></head>
<body>
<h1>Archetype command backend</h1>
<p>Available endpoints:</p>
<ul>
%s</ul>
</body>
</html>`, items)
	if err != nil {
		s.logger.Error("failed to write landing page", "error", err)
	}
}

func (s *APIServer) Run(ctx context.Context) error {
	s.logger.Info("Running api server", "address", s.addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- web.ListenAndServe(s.server, s.webConfig, s.logger)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down api server on context done")
		return nil

	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		s.logger.Error("api server returned an error", "error", err)
		return err
	}
}

func (s *APIServer) Shutdown() error {
	s.logger.Info("shutting down api server on request")

	// NOTE: ensure http server shuts down within 5 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Register mounts handler on endpoint. Registering the same endpoint twice
// is an error.
func (s *APIServer) Register(endpointPath, summary, description string, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.endpoints {
		if e.path == endpointPath {
			return fmt.Errorf("endpoint %s already registered", endpointPath)
		}
	}

	s.mux.Handle(endpointPath, handler)
	s.endpoints = append(s.endpoints, endpoint{path: endpointPath, summary: summary, description: description})
	s.logger.Debug("Endpoint Registered", "endpoint", endpointPath)
	return nil
}

// Handler exposes the mux, mainly for in-process tests
func (s *APIServer) Handler() http.Handler {
	return s.mux
}
