package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autoscore/autoscore/internal/mcp"
	"github.com/autoscore/autoscore/internal/metrics"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes vehicle scoring as
tools for AI agents. Every tool call carries an api_key argument, is checked
against the key table and is written to the audit store like an HTTP request.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC.
In HTTP mode, it listens on the given port using the Streamable HTTP transport.`,
		Example: `  autoscore mcp                            # stdio mode
  autoscore mcp --transport http --port 3001  # Streamable HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(ctx context.Context, transport string, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout belongs to the protocol in stdio mode.
	logger := newLogger(cfg.Logging, os.Stderr)

	m := metrics.NewMetrics()
	c, err := buildCore(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer c.Close()

	mcpSrv := mcp.NewMCPServer(mcp.Deps{
		Gate:             c.gate,
		Scorer:           c.scorer,
		Sink:             c.sink,
		Metrics:          m,
		Logger:           logger,
		Version:          versionString(),
		RecordRejections: cfg.Audit.RecordRejections,
	})

	if transport == "http" {
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	}
	return mcpSrv.ServeStdio()
}
