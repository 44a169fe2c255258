package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"qr-spider/pkg/models"
)

// utf8BOM lets spreadsheet applications detect UTF-8 (payloads are often Chinese)
const utf8BOM = "\ufeff"

var (
	batchCSVHeader = []string{"index", "url", "content", "is_wechat", "image_url", "error"}
	crawlCSVHeader = []string{"index", "page_url", "content", "is_wechat", "image_url", "depth", "strategy"}
)

// CSVWriter outputs one row per QR code. Batch pages without a code still
// get a row carrying the error.
type CSVWriter struct {
	baseWriter
}

// NewCSVWriter creates a CSVWriter
func NewCSVWriter(output io.Writer) *CSVWriter {
	return &CSVWriter{baseWriter: newBaseWriter(output)}
}

func (w *CSVWriter) WriteBatch(results []models.PageResult) error {
	cw, err := w.start(batchCSVHeader)
	if err != nil {
		return err
	}
	for _, r := range results {
		index := strconv.Itoa(r.Index)
		if len(r.All) == 0 {
			if err := cw.Write([]string{index, r.URL, r.Payload, yesNo(r.IsWechatVariant), r.ImageURL, r.Error}); err != nil {
				return err
			}
			continue
		}
		for _, f := range r.All {
			if err := cw.Write([]string{index, r.URL, f.Payload, yesNo(f.IsWechatVariant), f.ImageURL, ""}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *CSVWriter) WriteCrawl(result *models.CrawlResult) error {
	cw, err := w.start(crawlCSVHeader)
	if err != nil {
		return err
	}
	for i, f := range result.Findings {
		row := []string{
			strconv.Itoa(i + 1),
			f.SourceURL,
			f.Payload,
			yesNo(f.IsWechatVariant),
			f.ImageURL,
			strconv.Itoa(f.Depth),
			f.Strategy,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (w *CSVWriter) start(header []string) (*csv.Writer, error) {
	if _, err := io.WriteString(w.output, utf8BOM); err != nil {
		return nil, err
	}
	cw := csv.NewWriter(w.output)
	return cw, cw.Write(header)
}
