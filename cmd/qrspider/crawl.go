package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"qr-spider/pkg/config"
	"qr-spider/pkg/events"
	"qr-spider/pkg/models"
	"qr-spider/pkg/report"
)

// NewCrawlCmd creates the crawl subcommand
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl one site breadth-first and decode its QR codes",
		Long: `Crawl starts at the seed URL and follows same-host links breadth-first,
decoding every image on every page until the depth or page limit is reached.

Interrupting the crawl (Ctrl+C) stops it and still writes the partial report.`,
		Example: `  qr-spider crawl https://example.com
  qr-spider crawl https://example.com --depth 2 --pages 100 --delay 2s --format markdown -o .`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawl,
	}

	cmd.Flags().Int("depth", 0, "Maximum link depth from the seed (1-5, default from config)")
	cmd.Flags().Int("pages", 0, "Maximum pages to process (1-200, default from config)")
	cmd.Flags().Duration("delay", 0, "Pause between page fetches (500ms-10s, default from config)")
	cmd.Flags().String("format", "json", "Report format (json, csv, markdown)")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout; a directory gets a generated name")
	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")

	return cmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	seed := args[0]
	formatName, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	var override config.CrawlConfig
	override.MaxDepth, _ = cmd.Flags().GetInt("depth")
	override.MaxPages, _ = cmd.Flags().GetInt("pages")
	override.Delay, _ = cmd.Flags().GetDuration("delay")

	return run(cmd, func(ctx context.Context, a *app) error {
		crawlCfg := config.GetEffectiveCrawlConfig(override, a.cfg)
		if err := crawlCfg.Validate(); err != nil {
			return err
		}

		sink := crawlProgress(cmd.ErrOrStderr(), crawlCfg.MaxPages, !noProgress)
		result, err := a.crawler.Crawl(ctx, seed, crawlCfg, sink)
		if result == nil {
			return err
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				return err
			}
			a.log.Warn("Crawl cancelled, writing partial report.")
		}

		a.log.Infof("Crawl finished in %v: %d page(s), %d QR code(s), %d WeChat",
			result.Duration.Round(time.Millisecond), result.TotalPages, len(result.Findings), result.VariantCount)
		return writeReport(cmd.OutOrStdout(), output, "crawl", result.SeedURL, format, func(w report.Writer) error {
			return w.WriteCrawl(result)
		})
	})
}

// crawlProgress returns a sink that advances a progress bar per page and
// prints each finding to w.
func crawlProgress(w io.Writer, maxPages int, showBar bool) events.Sink {
	var bar *progressbar.ProgressBar
	if showBar {
		bar = progressbar.NewOptions(maxPages,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Crawling"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	return events.SinkFunc(func(ev models.Event) {
		switch ev.Type {
		case models.EventPage:
			if bar != nil {
				_ = bar.Add(1)
			}
		case models.EventQRFound:
			if ev.Finding == nil {
				return
			}
			tag := ""
			if ev.Finding.IsWechatVariant {
				tag = " [wechat]"
			}
			if bar != nil {
				_ = bar.Clear()
			}
			fmt.Fprintf(w, "QR%s %s\n    on %s\n", tag, ev.Finding.Payload, ev.Finding.SourceURL)
		case models.EventSummary:
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%d page(s) processed, %d QR code(s) found (%d WeChat)\n",
				ev.TotalPages, ev.TotalQRCodes, ev.VariantCount)
		}
	})
}
