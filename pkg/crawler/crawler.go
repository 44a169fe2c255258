package crawler

import (
	"context"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/config"
	"qr-spider/pkg/events"
	"qr-spider/pkg/fetch"
	"qr-spider/pkg/metrics"
	"qr-spider/pkg/models"
	"qr-spider/pkg/parse"
	"qr-spider/pkg/process"
	"qr-spider/pkg/queue"
	"qr-spider/pkg/utils"
)

// PageSource fetches and parses one HTML page. Satisfied by *fetch.PageFetcher.
type PageSource interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// Crawler walks a site breadth-first from a seed URL and decodes the QR
// codes found on every page. A Crawler only holds immutable collaborators;
// each Crawl call owns its own frontier and counters, so concurrent crawls
// are independent.
type Crawler struct {
	pages  PageSource
	images *process.ImageProcessor
	links  *process.LinkExtractor
	log    *logrus.Entry

	sleep func(ctx context.Context, d time.Duration) error // Politeness delay, swapped in tests
}

// NewCrawler creates a Crawler
func NewCrawler(pages PageSource, images *process.ImageProcessor, links *process.LinkExtractor, log *logrus.Entry) *Crawler {
	return &Crawler{
		pages:  pages,
		images: images,
		links:  links,
		log:    log,
		sleep:  sleepContext,
	}
}

// runState is everything one Crawl call mutates
type runState struct {
	seed      *url.URL
	cfg       config.CrawlConfig
	sink      events.Sink
	frontier  *queue.Frontier
	processed int
	findings  []models.QrFinding
	variants  int
}

// Crawl runs one crawl from seed. Invalid configuration or an unusable seed
// fail before any request is made and before any event is emitted.
// Otherwise the run always ends with a summary event. On cancellation the
// partial result is returned together with the context error.
func (c *Crawler) Crawl(ctx context.Context, seed string, cfg config.CrawlConfig, sink events.Sink) (*models.CrawlResult, error) {
	if err := cfg.Validate(); err != nil {
		metrics.CrawlDuration.WithLabelValues("rejected").Observe(0)
		return nil, err
	}
	seedURL, err := parse.ParseSeed(seed)
	if err != nil {
		metrics.CrawlDuration.WithLabelValues("rejected").Observe(0)
		return nil, err
	}
	if sink == nil {
		sink = events.Discard
	}

	runLog := c.log.WithFields(logrus.Fields{"seed": seedURL.String(), "max_depth": cfg.MaxDepth, "max_pages": cfg.MaxPages})
	runLog.Infof("Crawl starting (delay %v)", cfg.Delay)
	startedAt := time.Now()
	metrics.ActiveCrawls.Inc()
	defer metrics.ActiveCrawls.Dec()

	st := &runState{
		seed:     seedURL,
		cfg:      cfg,
		sink:     sink,
		frontier: queue.NewFrontier(runLog),
		findings: make([]models.QrFinding, 0),
	}
	defer st.frontier.Close()
	st.frontier.Push(models.FrontierEntry{URL: seedURL.String(), Depth: 0})

	runErr := c.loop(ctx, st, runLog)

	duration := time.Since(startedAt)
	outcome := "completed"
	if runErr != nil {
		outcome = "cancelled"
	}
	metrics.CrawlDuration.WithLabelValues(outcome).Observe(duration.Seconds())

	sink.Emit(models.Event{
		Type:           models.EventSummary,
		Message:        summaryMessage(runErr),
		ProcessedCount: st.processed,
		TotalPages:     st.processed,
		TotalQRCodes:   len(st.findings),
		VariantCount:   st.variants,
	})

	runLog.Info("========================================================================")
	runLog.Info("CRAWL FINISHED")
	runLog.Infof("Duration:         %v", duration)
	runLog.Infof("Final Stats: Pages: %d, QR codes: %d (WeChat: %d), Cancelled: %v",
		st.processed, len(st.findings), st.variants, runErr != nil)
	runLog.Info("========================================================================")

	return &models.CrawlResult{
		SeedURL:      seedURL.String(),
		TotalPages:   st.processed,
		Findings:     st.findings,
		VariantCount: st.variants,
		StartedAt:    startedAt,
		Duration:     duration,
		Cancelled:    runErr != nil,
	}, runErr
}

// loop drains the frontier, waiting cfg.Delay before every page after the
// first. Returns a non-nil error only on cancellation.
func (c *Crawler) loop(ctx context.Context, st *runState, runLog *logrus.Entry) error {
	for st.processed < st.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			runLog.Warnf("Crawl cancelled: %v", err)
			return err
		}

		entry, ok := st.frontier.Pop()
		if !ok {
			runLog.Debug("Frontier exhausted")
			return nil
		}
		if entry.Depth > st.cfg.MaxDepth {
			continue
		}
		if !st.frontier.MarkVisited(entry.URL) {
			continue
		}
		if st.processed > 0 {
			if err := c.sleep(ctx, st.cfg.Delay); err != nil {
				runLog.Warnf("Crawl cancelled during delay: %v", err)
				return err
			}
		}

		st.processed++
		st.sink.Emit(models.Event{
			Type:           models.EventPage,
			URL:            entry.URL,
			Depth:          entry.Depth,
			ProcessedCount: st.processed,
			TotalQRCodes:   len(st.findings),
		})

		if err := c.processPage(ctx, st, entry); err != nil {
			return err
		}
	}
	return nil
}

// processPage fetches one page, decodes its images and enqueues its links.
// Fetch failures are reported as error events; only cancellation is
// returned.
func (c *Crawler) processPage(ctx context.Context, st *runState, entry models.FrontierEntry) error {
	taskLog := c.log.WithFields(logrus.Fields{"url": entry.URL, "depth": entry.Depth, "page": st.processed})
	taskLog.Info("Processing page")

	page, err := c.pages.Fetch(ctx, entry.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errorType := utils.CategorizeError(err)
		taskLog.WithField("error_type", errorType).Warnf("Page fetch failed: %v", err)
		metrics.PagesProcessed.WithLabelValues("failure", errorType).Inc()
		st.sink.Emit(models.Event{
			Type:           models.EventError,
			URL:            entry.URL,
			Depth:          entry.Depth,
			Message:        "page fetch failed",
			Error:          err.Error(),
			ProcessedCount: st.processed,
			TotalQRCodes:   len(st.findings),
		})
		return nil
	}
	if final := page.URL.String(); final != entry.URL && !st.frontier.MarkVisited(final) {
		taskLog.Infof("Redirected to already visited %s, skipping", final)
		metrics.PagesProcessed.WithLabelValues("skipped", "duplicate_redirect").Inc()
		return nil
	}

	candidates := process.ExtractImageCandidates(page.Doc, page.URL)
	taskLog.Debugf("Found %d image candidate(s)", len(candidates))

	for _, f := range c.images.Process(ctx, entry.URL, entry.Depth, candidates) {
		st.findings = append(st.findings, f)
		if f.IsWechatVariant {
			st.variants++
		}
		taskLog.WithFields(logrus.Fields{"image": f.ImageURL, "wechat": f.IsWechatVariant}).Infof("QR code found: %s", f.Payload)
		st.sink.Emit(models.Event{
			Type:           models.EventQRFound,
			URL:            entry.URL,
			Depth:          entry.Depth,
			Finding:        &f,
			ProcessedCount: st.processed,
			TotalQRCodes:   len(st.findings),
		})
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	metrics.PagesProcessed.WithLabelValues("success", "").Inc()

	if entry.Depth >= st.cfg.MaxDepth {
		return nil
	}
	queued := 0
	for _, link := range c.links.Extract(ctx, page.Doc, page.URL, st.seed) {
		if st.frontier.Push(models.FrontierEntry{URL: link, Depth: entry.Depth + 1}) {
			queued++
		}
	}
	taskLog.Debugf("Queued %d new link(s)", queued)
	return nil
}

func summaryMessage(runErr error) string {
	if runErr != nil {
		return "crawl cancelled"
	}
	return "crawl completed"
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
