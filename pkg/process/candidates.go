package process

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"qr-spider/pkg/models"
)

// BackgroundAltText labels candidates found in inline background-image styles
const BackgroundAltText = "背景图片"

// lazySrcAttrs are checked in order; the first non-empty value wins
var lazySrcAttrs = []string{"data-src", "data-original", "data-lazy", "data-lazy-src"}

// placeholderMarkers identify src values that are loading stubs rather than
// real images
var placeholderMarkers = []string{"tpjz", "loading", "placeholder", "noimage", "blank.gif"}

var (
	backgroundURLRe = regexp.MustCompile(`url\(['"]?([^'")]+)['"]?\)`)
	qrTextHintRe    = regexp.MustCompile(`(?i)qr|code|二维码|扫码|微信|公众号|小程序|wechat|weixin|jocita|dawanqu`)
	qrURLHintRe     = regexp.MustCompile(`(?i)qr|code|weixin|wechat`)
)

// IsLikelyQR is a hint that an image probably holds a QR code. It only
// affects log levels and reporting; every candidate is decoded regardless.
func IsLikelyQR(alt, title, imageURL string) bool {
	return qrTextHintRe.MatchString(alt) || qrTextHintRe.MatchString(title) || qrURLHintRe.MatchString(imageURL)
}

func isPlaceholder(src string) bool {
	lower := strings.ToLower(src)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// candidateSet accumulates candidates in discovery order, deduplicated by
// absolute URL.
type candidateSet struct {
	base  *url.URL
	seen  map[string]struct{}
	items []models.ImageCandidate
}

func (s *candidateSet) add(ref, alt, title string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	abs := ref
	if !strings.HasPrefix(strings.ToLower(ref), "data:") {
		u, err := s.base.Parse(ref)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		u.Fragment = ""
		abs = u.String()
	}
	if _, dup := s.seen[abs]; dup {
		return
	}
	s.seen[abs] = struct{}{}
	s.items = append(s.items, models.ImageCandidate{
		SourceURL:      abs,
		AltText:        alt,
		TitleText:      title,
		DiscoveryIndex: len(s.items),
		LikelyQR:       IsLikelyQR(alt, title, abs),
	})
}

// ExtractImageCandidates lists every image a page references: <img> elements
// first (honouring lazy-load attributes), then inline background images, in
// document order. References that do not resolve to an http(s) URL or a
// data: URI are dropped.
func ExtractImageCandidates(doc *goquery.Document, pageURL *url.URL) []models.ImageCandidate {
	if doc == nil || pageURL == nil {
		return nil
	}
	set := &candidateSet{base: pageURL, seen: make(map[string]struct{})}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		alt := strings.TrimSpace(img.AttrOr("alt", ""))
		title := strings.TrimSpace(img.AttrOr("title", ""))

		lazy := ""
		for _, attr := range lazySrcAttrs {
			if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" {
				lazy = v
				break
			}
		}

		switch {
		case lazy != "" && (src == "" || isPlaceholder(src)):
			set.add(lazy, alt, title)
			if src != "" && src != lazy {
				set.add(src, alt, title)
			}
		case src != "":
			set.add(src, alt, title)
			if lazy != "" {
				set.add(lazy, alt, title)
			}
		}
	})

	doc.Find("[style]").Each(func(_ int, el *goquery.Selection) {
		style := el.AttrOr("style", "")
		if !strings.Contains(strings.ToLower(style), "background-image") {
			return
		}
		for _, m := range backgroundURLRe.FindAllStringSubmatch(style, -1) {
			set.add(m[1], BackgroundAltText, strings.TrimSpace(el.AttrOr("title", "")))
		}
	})

	return set.items
}
