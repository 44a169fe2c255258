package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"qr-spider/pkg/config"
)

// NewValidateCmd creates the validate subcommand
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if code := doValidate(configPath, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

// doValidate loads and validates the config at configPath. Returns the exit code.
func doValidate(configPath string, stdout, stderr io.Writer) int {
	source := configPath
	if source == "" {
		source = config.DefaultConfigPath()
	}

	appCfg, warnings, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	fmt.Fprintf(stdout, "OK: %s\n", source)
	fmt.Fprintf(stdout, "  crawl defaults: depth %d, pages %d, delay %v\n",
		appCfg.Crawl.MaxDepth, appCfg.Crawl.MaxPages, appCfg.Crawl.Delay)
	fmt.Fprintf(stdout, "  batch: concurrency %d, host delay %v\n", appCfg.BatchConcurrency, appCfg.BatchHostDelay)
	if appCfg.Cache.Enabled {
		dir := appCfg.Cache.Dir
		if dir == "" {
			dir = "in-memory"
		}
		fmt.Fprintf(stdout, "  decode cache: %s, ttl %v\n", dir, appCfg.Cache.TTL)
	} else {
		fmt.Fprintln(stdout, "  decode cache: disabled")
	}
	fmt.Fprintf(stdout, "  server: %s, rate limit %d/min\n", appCfg.Server.Addr, appCfg.Server.RateLimitPerMinute)

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
