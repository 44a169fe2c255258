package process

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"qr-spider/pkg/fetch"
	"qr-spider/pkg/parse"
	"qr-spider/pkg/utils"
)

// skippedExtensions are resource types that never contain crawlable HTML
var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".css": {}, ".js": {}, ".xml": {}, ".json": {}, ".csv": {}, ".txt": {},
}

// HasSkippedExtension reports whether the URL path ends in a non-page
// resource extension. Comparison is case-insensitive.
func HasSkippedExtension(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return false
	}
	_, skip := skippedExtensions[ext]
	return skip
}

// LinkExtractor finds the follow-up pages of a crawl on an already fetched
// document
type LinkExtractor struct {
	excludePatterns []*regexp.Regexp // Matched against the absolute URL
	robots          *fetch.RobotsHandler
	log             *logrus.Entry
}

// NewLinkExtractor creates a LinkExtractor. robots may be nil to skip
// robots.txt checks.
func NewLinkExtractor(excludePatterns []*regexp.Regexp, robots *fetch.RobotsHandler, log *logrus.Entry) *LinkExtractor {
	return &LinkExtractor{
		excludePatterns: excludePatterns,
		robots:          robots,
		log:             log,
	}
}

// Extract returns the absolute, same-host page links of doc in document
// order without duplicates. Relative hrefs resolve against pageURL (the
// final URL after redirects); scope is the host of seed.
func (le *LinkExtractor) Extract(ctx context.Context, doc *goquery.Document, pageURL, seed *url.URL) []string {
	if doc == nil || pageURL == nil || seed == nil {
		return nil
	}
	seen := make(map[string]struct{})
	links := make([]string, 0)

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		linkURL, err := pageURL.Parse(href)
		if err != nil {
			le.log.Debugf("Skipping malformed href '%s': %v", href, err)
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return // mailto:, javascript:, tel: ...
		}
		if !parse.SameHost(linkURL, seed) {
			return
		}
		if HasSkippedExtension(linkURL) {
			return
		}
		linkURL.Fragment = ""
		linkURL.Host = strings.ToLower(linkURL.Host)
		abs := linkURL.String()

		if utils.MatchesAny(le.excludePatterns, abs) {
			le.log.Debugf("Link '%s' excluded by pattern", abs)
			return
		}

		key := parse.NormalizeURL(linkURL)
		if _, dup := seen[key]; dup {
			return
		}
		if le.robots != nil && !le.robots.TestAgent(ctx, linkURL) {
			le.log.Debugf("Link '%s' disallowed by robots.txt", abs)
			return
		}
		seen[key] = struct{}{}
		links = append(links, abs)
	})

	return links
}
