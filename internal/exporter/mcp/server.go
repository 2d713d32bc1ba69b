// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/archetype-dev/archetype/internal/service"
	"github.com/archetype-dev/archetype/internal/ui"
	"github.com/archetype-dev/archetype/internal/version"
)

type (
	Initializer = service.Initializer
	Runner      = service.Runner
	APIRegistry = interface {
		Register(endpoint, summary, description string, handler http.Handler) error
	}
)

const (
	TransportStdio      = "stdio"
	TransportStreamable = "streamable"
)

// Server exposes every command as an MCP tool
type Server struct {
	logger   *slog.Logger
	bindings *ui.Bindings
	server   *mcp.Server

	apiRegistry APIRegistry
	httpPath    string
	transport   string
}

var (
	_ Initializer = (*Server)(nil)
	_ Runner      = (*Server)(nil)
)

// Option defines functional options for MCP server configuration
type Option func(*Server)

// WithStreamableHTTP serves MCP over streamable HTTP at path on apiRegistry
// instead of stdio
func WithStreamableHTTP(apiRegistry APIRegistry, path string) Option {
	return func(s *Server) {
		s.apiRegistry = apiRegistry
		s.httpPath = path
		s.transport = TransportStreamable
	}
}

// NewServer creates an MCP server that uses stdio unless an HTTP option is given
func NewServer(bindings *ui.Bindings, logger *slog.Logger, options ...Option) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "archetype",
		Version: version.Info().Version,
	}, nil)

	server := &Server{
		logger:    logger.With("service", "mcp"),
		bindings:  bindings,
		server:    mcpServer,
		httpPath:  "/mcp",
		transport: TransportStdio,
	}

	for _, option := range options {
		option(server)
	}

	server.registerTools()
	return server
}

// Init mounts the HTTP handler when serving over HTTP
func (s *Server) Init() error {
	s.logger.Info("Initializing MCP server", "transport", s.transport, "http_path", s.httpPath)

	if s.transport != TransportStreamable || s.apiRegistry == nil {
		return nil
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)

	err := s.apiRegistry.Register(
		s.httpPath,
		"MCP Server",
		"Model Context Protocol server exposing the backend commands as tools",
		handler,
	)
	if err != nil {
		return err
	}

	s.logger.Info("Registered MCP HTTP handler", "path", s.httpPath)
	return nil
}

func (s *Server) Name() string {
	return "mcp"
}

// Run serves stdio until ctx is done. Over HTTP the API server does the
// serving and Run only waits.
func (s *Server) Run(ctx context.Context) error {
	if s.transport == TransportStreamable {
		s.logger.Info("MCP server running via HTTP transport", "path", s.httpPath)
		<-ctx.Done()
		return nil
	}

	s.logger.Info("MCP server starting with stdio transport")
	return s.server.Run(ctx, mcp.NewStdioTransport())
}
