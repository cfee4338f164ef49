package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/keygate/internal/connector"
	"github.com/faucetdb/keygate/internal/monitor"
)

const instructions = `Read-only operator views of a keygate credential gateway.
Call keygate_list_services for the service names. Usage and error windows
are counted in days (1-30). Credential secrets and access keys are never
returned by any tool.`

// MCPServer exposes keygate's operator views (service catalog, health,
// usage statistics and error reports) as MCP tools and resources.
type MCPServer struct {
	registry *connector.Registry
	monitor  *monitor.Service
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer with every tool and resource
// registered.
func NewMCPServer(registry *connector.Registry, mon *monitor.Service, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		registry: registry,
		monitor:  mon,
		logger:   logger,
	}

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(func(_ context.Context, _ any, req *mcp.CallToolRequest) {
		s.logger.Debug("mcp tool call", "tool", req.Params.Name)
	})

	mcpServer := server.NewMCPServer(
		"Keygate Credential Gateway",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
	)
	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go server.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio serves MCP over stdin/stdout.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves MCP in Streamable HTTP mode on addr (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
