package main

import (
	"context"

	"github.com/spf13/cobra"

	"qr-spider/pkg/api"
)

// NewServeCmd creates the serve subcommand
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes batch scans, crawls and streamed crawls over HTTP:

  GET  /api/health
  POST /api/scan-qr
  POST /api/spider-scan
  POST /api/spider-scan-stream   (Server-Sent Events)
  GET  /metrics                  (Prometheus)`,
		Example: `  qr-spider serve --addr :8080`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return run(cmd, func(ctx context.Context, a *app) error {
				serverCfg := a.cfg.Server
				if addr != "" {
					serverCfg.Addr = addr
				}
				srv := api.NewServer(serverCfg, a.cfg.Crawl, a.scanner, a.crawler, a.log)
				return srv.Run(ctx)
			})
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default from config, :3000)")
	return cmd
}
