package models

import "time"

// FrontierEntry is a URL waiting to be crawled at a given depth (seed = 0)
type FrontierEntry struct {
	URL   string
	Depth int
}

// ImageCandidate is an image reference discovered on a page
type ImageCandidate struct {
	SourceURL      string `json:"sourceUrl"` // Absolute image URL
	AltText        string `json:"altText,omitempty"`
	TitleText      string `json:"titleText,omitempty"`
	DiscoveryIndex int    `json:"discoveryIndex"` // Position within the page, img elements first
	LikelyQR       bool   `json:"likelyQr"`       // Advisory only, never used to skip
}

// DecodeResult is the outcome of running the decode chain on one image
type DecodeResult struct {
	Payload   string `json:"payload,omitempty"`
	Strategy  string `json:"strategy,omitempty"` // Name of the strategy that succeeded
	Succeeded bool   `json:"succeeded"`
}

// QrFinding is a decoded QR code located on a page. Never mutated after creation.
type QrFinding struct {
	SourceURL       string `json:"url"`
	ImageURL        string `json:"imageUrl"`
	Payload         string `json:"content"`
	IsWechatVariant bool   `json:"isWechatQr"`
	Depth           int    `json:"depth"`
	Strategy        string `json:"strategy,omitempty"`
}

// PageScan is everything decoded from a single page, findings in
// candidate discovery order.
type PageScan struct {
	URL        string
	FinalURL   string // After redirects
	Candidates int
	Findings   []QrFinding
}

// CrawlResult summarizes a finished (or cancelled) crawl run
type CrawlResult struct {
	SeedURL      string        `json:"baseUrl"`
	TotalPages   int           `json:"totalPages"`
	Findings     []QrFinding   `json:"results"`
	VariantCount int           `json:"wechatQRCodes"`
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"duration"`
	Cancelled    bool          `json:"cancelled,omitempty"`
}

// PageResult is the batch-mode record for one submitted URL. Index is 1-based.
type PageResult struct {
	Index           int         `json:"index"`
	URL             string      `json:"url"`
	Payload         string      `json:"content"`
	IsWechatVariant bool        `json:"isWechatQr"`
	ImageURL        string      `json:"imageUrl,omitempty"`
	TotalFound      int         `json:"totalQRFound,omitempty"`
	All             []QrFinding `json:"allQRCodes,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Found reports whether the batch record carries a decoded payload
func (r PageResult) Found() bool {
	return r.Error == "" && r.Payload != ""
}
