package crawler

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"qr-spider/pkg/config"
	"qr-spider/pkg/fetch"
	"qr-spider/pkg/metrics"
	"qr-spider/pkg/models"
	"qr-spider/pkg/parse"
	"qr-spider/pkg/process"
	"qr-spider/pkg/utils"
)

// Scanner handles batch mode: a flat list of pages, no link following
type Scanner struct {
	pages       PageSource
	images      *process.ImageProcessor
	limiter     *fetch.RateLimiter // Optional per-host spacing
	concurrency int
	log         *logrus.Entry
}

// NewScanner creates a Scanner. limiter may be nil.
func NewScanner(pages PageSource, images *process.ImageProcessor, limiter *fetch.RateLimiter, concurrency int, log *logrus.Entry) *Scanner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scanner{
		pages:       pages,
		images:      images,
		limiter:     limiter,
		concurrency: concurrency,
		log:         log,
	}
}

// ScanPages scans every URL and returns one record per input, in input
// order. Per-page problems are recorded in PageResult.Error; an error is
// returned only for an invalid batch size or cancellation.
func (s *Scanner) ScanPages(ctx context.Context, urls []string) ([]models.PageResult, error) {
	if err := config.ValidateBatchSize(len(urls)); err != nil {
		return nil, err
	}
	s.log.Infof("Batch scan of %d page(s) starting", len(urls))

	results := make([]models.PageResult, len(urls))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, raw := range urls {
		g.Go(func() error {
			results[i] = s.scanOne(ctx, i, raw)
			return nil
		})
	}
	_ = g.Wait()

	found := 0
	for _, r := range results {
		if r.Found() {
			found++
		}
	}
	s.log.Infof("Batch scan finished: %d/%d page(s) with a QR code", found, len(urls))
	return results, ctx.Err()
}

// ScanPage scans a single page and returns its findings in discovery order
func (s *Scanner) ScanPage(ctx context.Context, rawURL string) ([]models.QrFinding, error) {
	u, err := parse.ParseSeed(rawURL)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx, u.Host); err != nil {
		return nil, err
	}
	page, err := s.pages.Fetch(ctx, u.String())
	if err != nil {
		metrics.PagesProcessed.WithLabelValues("failure", utils.CategorizeError(err)).Inc()
		return nil, err
	}
	candidates := process.ExtractImageCandidates(page.Doc, page.URL)
	findings := s.images.Process(ctx, u.String(), 0, candidates)
	if ctx.Err() != nil {
		return findings, ctx.Err()
	}
	metrics.PagesProcessed.WithLabelValues("success", "").Inc()
	return findings, nil
}

func (s *Scanner) scanOne(ctx context.Context, i int, raw string) models.PageResult {
	raw = strings.TrimSpace(raw)
	res := models.PageResult{Index: i + 1, URL: raw}
	taskLog := s.log.WithFields(logrus.Fields{"index": i + 1, "url": raw})

	if ctx.Err() != nil {
		res.Error = ctx.Err().Error()
		return res
	}
	findings, err := s.ScanPage(ctx, raw)
	if err != nil {
		taskLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Page scan failed: %v", err)
		res.Error = err.Error()
		return res
	}
	if len(findings) == 0 {
		taskLog.Info("No QR code found")
		res.Error = utils.ErrNoQRCode.Error()
		return res
	}

	best := findings[0]
	for _, f := range findings {
		if f.IsWechatVariant {
			best = f
			break
		}
	}
	res.Payload = best.Payload
	res.IsWechatVariant = best.IsWechatVariant
	res.ImageURL = best.ImageURL
	res.TotalFound = len(findings)
	res.All = findings
	taskLog.Infof("Found %d QR code(s)", len(findings))
	return res
}
