// Package report renders batch and crawl results for humans and tools.
package report

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"qr-spider/pkg/models"
	"qr-spider/pkg/utils"
)

// Format names an output format
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Extension returns the file extension for the format, including the dot
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	default:
		return ".json"
	}
}

// ParseFormat accepts json, csv, markdown and md (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: unknown report format %q (want json, csv or markdown)", utils.ErrConfigValidation, s)
}

// Writer renders results to one destination
type Writer interface {
	WriteBatch(results []models.PageResult) error
	WriteCrawl(result *models.CrawlResult) error
}

// New returns the Writer for format
func New(format Format, output io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatCSV:
		return NewCSVWriter(output), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	}
	return nil, fmt.Errorf("%w: unknown report format %q", utils.ErrConfigValidation, format)
}

// DefaultFilename builds a file name such as qr_crawl_example.com_2006-01-02.md.
// target may be empty for batch reports.
func DefaultFilename(kind, target string, format Format, now time.Time) string {
	name := "qr_" + kind
	if target != "" {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
		name += "_" + target
	}
	name += "_" + now.Format("2006-01-02")
	return utils.SanitizeFilename(name) + format.Extension()
}

// baseWriter provides common functionality for report writers
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
