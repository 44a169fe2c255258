package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"qr-spider/pkg/models"
)

// MarkdownWriter outputs reports as GitHub-flavored Markdown
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

func (w *MarkdownWriter) WriteBatch(results []models.PageResult) error {
	md := markdown.NewMarkdown(w.output)
	summary := NewBatchReport(results)

	md.H1("QR Scan Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Pages", strconv.Itoa(summary.Total)},
			{"Pages with QR code", strconv.Itoa(summary.Found)},
		},
	})
	md.PlainText("")

	if summary.Found == 0 {
		md.Note("No QR code was found on any page.")
		md.PlainText("")
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		content := r.Payload
		if !r.Found() {
			content = "-"
		}
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			r.URL,
			truncateString(content, 80),
			yesNo(r.IsWechatVariant),
			strconv.Itoa(r.TotalFound),
			errText,
		})
	}
	md.H2("Results")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"#", "URL", "Content", "WeChat", "QR codes", "Error"},
		Rows:   rows,
	})
	return md.Build()
}

func (w *MarkdownWriter) WriteCrawl(result *models.CrawlResult) error {
	md := markdown.NewMarkdown(w.output)

	md.H1("QR Crawl Report")
	md.PlainText("")
	status := "Complete"
	if result.Cancelled {
		status = "Cancelled (partial results)"
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Seed", result.SeedURL},
			{"Started", result.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", result.Duration.Round(time.Millisecond).String()},
			{"Pages crawled", strconv.Itoa(result.TotalPages)},
			{"QR codes", strconv.Itoa(len(result.Findings))},
			{"WeChat QR codes", strconv.Itoa(result.VariantCount)},
			{"Status", status},
		},
	})
	md.PlainText("")

	if result.Cancelled {
		md.Warning("The crawl was cancelled before the frontier was exhausted.")
		md.PlainText("")
	}

	md.H2("Findings")
	md.PlainText("")
	if len(result.Findings) == 0 {
		md.PlainText("No QR codes found.")
		md.PlainText("")
		return md.Build()
	}

	rows := make([][]string, len(result.Findings))
	for i, f := range result.Findings {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			f.SourceURL,
			strconv.Itoa(f.Depth),
			truncateString(f.Payload, 80),
			yesNo(f.IsWechatVariant),
			truncateString(f.ImageURL, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"#", "Page", "Depth", "Content", "WeChat", "Image"},
		Rows:   rows,
	})
	return md.Build()
}

// truncateString shortens s to max runes, marking the cut with an ellipsis
func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
