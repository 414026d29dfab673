package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/scoring"
	"github.com/autoscore/autoscore/internal/service"
)

// Authenticator is the part of service.Gate the tools depend on.
type Authenticator interface {
	Authenticate(credential string, present bool) service.AuthResult
}

// Deps are the collaborators shared with the HTTP server.
type Deps struct {
	Gate    Authenticator
	Scorer  *scoring.Scorer
	Sink    audit.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Version string

	// RecordRejections writes audit records for calls with a bad api_key.
	RecordRejections bool
}

// MCPServer exposes vehicle scoring as MCP tools. Every tool call carries an
// API key, passes through the same gate as HTTP requests and is audited.
type MCPServer struct {
	deps   Deps
	server *server.MCPServer
}

// NewMCPServer creates an MCPServer with the scoring tools registered. The
// returned server is ready to serve over stdio or HTTP.
func NewMCPServer(deps Deps) *MCPServer {
	if deps.Sink == nil {
		deps.Sink = audit.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &MCPServer{deps: deps}

	mcpServer := server.NewMCPServer(
		"Autoscore Vehicle Scoring",
		deps.Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.deps.Logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.deps.Logger.Info("MCP HTTP server starting", "addr", addr)
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
