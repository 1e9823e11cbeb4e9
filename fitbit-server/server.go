package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/operation"

	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "fitbit-mcp"
	serverVersion = "1.0.0"
)

// MCPServer wraps the underlying MCP server instance.
type MCPServer struct {
	server *server.MCPServer
}

// NewMCPServer creates the MCP server and registers the Fitbit data tools
// and the authorization tools backed by app.
func NewMCPServer(app *App) *MCPServer {
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(MCPToolHandlerMiddleware()),
	)

	operation.RegisterTool(mcpServer, app.client, app.receiver, app.manager)

	return &MCPServer{
		server: mcpServer,
	}
}

// ServeHTTP returns a streamable HTTP server that tags every HTTP request
// with a request ID.
func (s *MCPServer) ServeHTTP() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return core.WithRequestID(ctx)
		}),
	)
}

// ServeStdio serves MCP over stdin/stdout until the input closes or the
// process is signalled.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}
