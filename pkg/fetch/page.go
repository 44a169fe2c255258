package fetch

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"qr-spider/pkg/utils"
)

// Page is a fetched and parsed HTML document.
type Page struct {
	URL        *url.URL // Final URL after redirects, used as the base for relative references
	StatusCode int
	Doc        *goquery.Document
}

// PageFetcher downloads HTML pages and parses them into goquery documents.
type PageFetcher struct {
	fetcher   *Fetcher
	userAgent string
	maxBytes  int64
	timeout   time.Duration
	log       *logrus.Entry
}

// NewPageFetcher creates a PageFetcher. timeout bounds each page fetch
// independently of the client's global timeout.
func NewPageFetcher(fetcher *Fetcher, userAgent string, maxBytes int64, timeout time.Duration, log *logrus.Entry) *PageFetcher {
	return &PageFetcher{
		fetcher:   fetcher,
		userAgent: userAgent,
		maxBytes:  maxBytes,
		timeout:   timeout,
		log:       log.WithField("component", "page_fetcher"),
	}
}

// Fetch retrieves and parses rawURL. Non-UTF-8 documents are transcoded
// using the Content-Type header and <meta> charset declarations.
func (p *PageFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := p.fetcher.Do(ctx, req)
	if err != nil {
		drainAndClose(resp)
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContentType(contentType) {
		return nil, fmt.Errorf("%w: HTML expected, got content type %q", utils.ErrParsing, contentType)
	}

	raw, err := readBody(resp, p.maxBytes)
	if err != nil {
		return nil, err
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		p.log.WithField("url", rawURL).Debugf("Charset detection failed, parsing raw bytes: %v", err)
		utf8Reader = bytes.NewReader(raw)
	}

	doc, err := goquery.NewDocumentFromReader(utf8Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: HTML: %v", utils.ErrParsing, err)
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	doc.Url = finalURL

	return &Page{URL: finalURL, StatusCode: resp.StatusCode, Doc: doc}, nil
}

// isHTMLContentType accepts a missing header, text/* and XHTML.
func isHTMLContentType(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	return strings.HasPrefix(mediaType, "text/") || strings.Contains(mediaType, "html")
}
