package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"qr-spider/pkg/mcp"
)

// NewMcpServerCmd creates the mcp-server subcommand
func NewMcpServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start an MCP (Model Context Protocol) server",
		Long: `Start an MCP server for AI tool integration.

Available MCP Tools:
  scan_pages      Scan a list of pages for QR codes
  decode_image    Download one image and decode it
  crawl_site      Start a background crawl of a site
  get_job_status  Progress and findings of a crawl job
  cancel_job      Stop a running crawl job

With the stdio transport, logs go to stderr and stdout carries the protocol.`,
		Example: `  # stdio transport (desktop AI clients)
  qr-spider mcp-server

  # SSE transport on port 8080
  qr-spider mcp-server --transport sse --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transport, _ := cmd.Flags().GetString("transport")
			port, _ := cmd.Flags().GetInt("port")
			return run(cmd, func(ctx context.Context, a *app) error {
				return doMcpServer(ctx, a, transport, port)
			})
		},
	}

	cmd.Flags().String("transport", "stdio", "Transport type (stdio, sse, http)")
	cmd.Flags().Int("port", 8080, "HTTP port (for sse and http transports)")
	return cmd
}

// doMcpServer runs the MCP server until the transport returns or ctx is done
func doMcpServer(ctx context.Context, a *app, transport string, port int) error {
	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig: &a.cfg,
		Transport: transport,
		Port:      port,
		Logger:    a.logger,
		Scanner:   a.scanner,
		Crawler:   a.crawler,
		Images:    a.images,
		Decoder:   a.decoder,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	a.log.Infof("Starting MCP server (transport: %s)", transport)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		_ = server.Shutdown(context.Background())
		if err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		a.log.Info("MCP server stopped")
		return nil
	}
}
