// Package mcp exposes Tiller to AI agents over the Model Context
// Protocol. Agents submit proposed actions and inspect their status
// through MCP tools; approval and rejection stay on the human-facing
// REST surface.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tillerhq/tiller/internal/service"
)

// ServerConfig holds the MCP server configuration.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// Server exposes the action engine as MCP tools over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	engine    *service.ActionEngine
	mcpServer *mcpserver.MCPServer
	httpSrv   *mcpserver.StreamableHTTPServer
}

// NewServer creates an MCP server wired to the action engine.
func NewServer(cfg ServerConfig, engine *service.ActionEngine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(false),
	)
	s.registerTools()

	return s
}

// MCPServer returns the underlying MCP server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves MCP over streamable HTTP in the background.
func (s *Server) Start() error {
	s.httpSrv = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	go func() {
		if err := s.httpSrv.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", s.cfg.Addr)
	return nil
}

// Stop gracefully shuts down the MCP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// toolResultJSON wraps a JSON string as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
