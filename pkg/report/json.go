package report

import (
	"encoding/json"
	"io"

	"qr-spider/pkg/models"
)

// BatchReport is the JSON document for a batch scan. It matches the body of
// the batch API response.
type BatchReport struct {
	Success bool                `json:"success"`
	Total   int                 `json:"total"`
	Found   int                 `json:"found"`
	Results []models.PageResult `json:"results"`
}

// NewBatchReport summarizes results
func NewBatchReport(results []models.PageResult) *BatchReport {
	found := 0
	for _, r := range results {
		if r.Found() {
			found++
		}
	}
	if results == nil {
		results = []models.PageResult{}
	}
	return &BatchReport{Success: true, Total: len(results), Found: found, Results: results}
}

// CrawlReport is the JSON document for a crawl. It matches the body of the
// crawl API response.
type CrawlReport struct {
	Success bool `json:"success"`
	*models.CrawlResult
	TotalQRCodes int `json:"totalQRCodes"`
}

// NewCrawlReport wraps result
func NewCrawlReport(result *models.CrawlResult) *CrawlReport {
	return &CrawlReport{Success: true, CrawlResult: result, TotalQRCodes: len(result.Findings)}
}

// JSONWriter outputs reports as JSON
type JSONWriter struct {
	baseWriter
	indent string // Empty writes compact JSON
}

// JSONWriterOption configures a JSONWriter
type JSONWriterOption func(*JSONWriter)

// WithPrettyPrint enables two-space indentation
func WithPrettyPrint() JSONWriterOption {
	return func(w *JSONWriter) { w.indent = "  " }
}

// NewJSONWriter creates a JSONWriter
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *JSONWriter) WriteBatch(results []models.PageResult) error {
	return w.writeJSON(NewBatchReport(results))
}

func (w *JSONWriter) WriteCrawl(result *models.CrawlResult) error {
	return w.writeJSON(NewCrawlReport(result))
}

func (w *JSONWriter) writeJSON(v any) error {
	enc := json.NewEncoder(w.output)
	enc.SetEscapeHTML(false)
	if w.indent != "" {
		enc.SetIndent("", w.indent)
	}
	return enc.Encode(v)
}
