package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qr-spider/pkg/config"
	"qr-spider/pkg/report"
)

// NewScanCmd creates the scan subcommand
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [url]...",
		Short: "Scan a list of pages for QR codes",
		Long: `Scan downloads each page, decodes every image on it and reports the first
QR code found per page, in input order. Pages are not followed.`,
		Example: `  qr-spider scan https://example.com https://example.org/contact
  qr-spider scan --file urls.txt --format csv --output result.csv`,
		RunE: runScan,
	}

	cmd.Flags().StringP("file", "f", "", "Read URLs from a file, one per line (# starts a comment)")
	cmd.Flags().String("format", "json", "Report format (json, csv, markdown)")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout; a directory gets a generated name")

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	urls := append([]string(nil), args...)
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		fromFile, err := readURLFile(file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if err := config.ValidateBatchSize(len(urls)); err != nil {
		return err
	}

	formatName, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")

	return run(cmd, func(ctx context.Context, a *app) error {
		a.log.Infof("Scanning %d page(s)", len(urls))
		results, err := a.scanner.ScanPages(ctx, urls)
		if err != nil {
			return err
		}

		found := 0
		for _, r := range results {
			if r.Found() {
				found++
			}
		}
		a.log.Infof("Scan finished: %d/%d page(s) with a QR code", found, len(results))

		return writeReport(cmd.OutOrStdout(), output, "batch", "", format, func(w report.Writer) error {
			return w.WriteBatch(results)
		})
	})
}

// readURLFile reads a URL list from path
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening URL list: %w", err)
	}
	defer f.Close()
	return readURLList(f)
}

// readURLList returns the non-blank lines of r, trimmed, skipping # comments
func readURLList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading URL list: %w", err)
	}
	return urls, nil
}

// writeReport renders to stdout, to output, or to a generated file inside
// output when it names a directory.
func writeReport(stdout io.Writer, output, kind, target string, format report.Format, write func(report.Writer) error) error {
	if output == "" {
		w, err := report.New(format, stdout)
		if err != nil {
			return err
		}
		return write(w)
	}

	if info, err := os.Stat(output); err == nil && info.IsDir() {
		output = strings.TrimRight(output, string(os.PathSeparator)) + string(os.PathSeparator) +
			report.DefaultFilename(kind, target, format, time.Now())
	}
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	w, err := report.New(format, f)
	if err != nil {
		f.Close()
		return err
	}
	if err := write(w); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing report file: %w", err)
	}
	fmt.Fprintf(stdout, "Report written to %s\n", output)
	return nil
}

// contextOrBackground guards against commands executed without a context
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
