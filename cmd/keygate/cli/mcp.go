package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	kmcp "github.com/faucetdb/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for operators",
		Long: `Start a Model Context Protocol (MCP) server exposing keygate's operator views
(service catalog, health, usage statistics, error report and per-credential
usage) as read-only tools. Supports stdio (default) and HTTP transports.`,
		Example: `  keygate mcp                              # stdio mode
  keygate mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	cfg, _, err := loadConfig(false, false)
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode.
	logger := newLogger(cfg.Logging, false, os.Stderr)

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := kmcp.NewMCPServer(a.registry, a.monitor, versionString(), logger)

	switch transport {
	case "stdio":
		return srv.ServeStdio()
	case "http":
		return srv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
