package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qr-spider/pkg/config"
	"qr-spider/pkg/decode"
	"qr-spider/pkg/decode/decodetest"
	"qr-spider/pkg/events"
	"qr-spider/pkg/log"
	"qr-spider/pkg/models"
)

type fakeScanner struct{}

func (fakeScanner) ScanPages(_ context.Context, urls []string) ([]models.PageResult, error) {
	results := make([]models.PageResult, len(urls))
	for i, u := range urls {
		results[i] = models.PageResult{Index: i + 1, URL: u}
		if i == 0 {
			results[i].Payload = "https://weixin.qq.com/r/abc"
			results[i].IsWechatVariant = true
		} else {
			results[i].Error = "no QR code found on page"
		}
	}
	return results, nil
}

// fakeCrawler reports one finding. When block is set it waits for the job
// context instead of finishing.
type fakeCrawler struct {
	block bool
	err   error

	mu      sync.Mutex
	gotCfg  config.CrawlConfig
	stopped chan struct{}
}

func (f *fakeCrawler) Crawl(ctx context.Context, seed string, cfg config.CrawlConfig, sink events.Sink) (*models.CrawlResult, error) {
	f.mu.Lock()
	f.gotCfg = cfg
	f.mu.Unlock()
	defer close(f.stopped)

	sink.Emit(models.Event{Type: models.EventPage, URL: seed, ProcessedCount: 1})
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	finding := models.QrFinding{SourceURL: seed, Payload: "weixin://dl/x", IsWechatVariant: true}
	sink.Emit(models.Event{Type: models.EventQRFound, Finding: &finding, ProcessedCount: 1, TotalQRCodes: 1})
	sink.Emit(models.Event{Type: models.EventSummary, TotalPages: 1, TotalQRCodes: 1, VariantCount: 1})
	return &models.CrawlResult{SeedURL: seed, TotalPages: 1, Findings: []models.QrFinding{finding}, VariantCount: 1}, nil
}

type fakeImages struct {
	data []byte
	err  error
}

func (f fakeImages) Download(context.Context, string, string) ([]byte, error) {
	return f.data, f.err
}

func newTestServer(t *testing.T, crawler *fakeCrawler, images fakeImages) *Server {
	t.Helper()
	appCfg := config.NewDefaultConfig()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if crawler.stopped == nil {
		crawler.stopped = make(chan struct{})
	}
	s, err := NewServer(&ServerConfig{
		AppConfig: &appCfg,
		Transport: "stdio",
		Logger:    logger,
		Scanner:   fakeScanner{},
		Crawler:   crawler,
		Images:    images,
		Decoder:   decode.NewPipeline(log.Discard()),
	})
	require.NoError(t, err)
	return s
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return res, text.Text
}

func toolJSON(t *testing.T, text string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &out), text)
	return out
}

func TestNewServer_RegistersTools(t *testing.T) {
	s := newTestServer(t, &fakeCrawler{}, fakeImages{})
	tools := s.mcpServer.ListTools()
	for _, name := range []string{"scan_pages", "decode_image", "crawl_site", "get_job_status", "cancel_job"} {
		assert.Contains(t, tools, name)
	}
	assert.Len(t, tools, 5)
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	appCfg := config.NewDefaultConfig()
	_, err := NewServer(&ServerConfig{AppConfig: &appCfg})
	assert.Error(t, err)

	_, err = NewServer(&ServerConfig{})
	assert.Error(t, err)
}

func TestHandleScanPages(t *testing.T) {
	s := newTestServer(t, &fakeCrawler{}, fakeImages{})

	res, text := callTool(t, s.handleScanPages, map[string]any{"urls": []any{"https://a.test/", "https://b.test/"}})
	assert.False(t, res.IsError)
	body := toolJSON(t, text)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 1, body["found"])
	results := body["results"].([]any)
	assert.Equal(t, true, results[0].(map[string]any)["isWechatQr"])

	res, _ = callTool(t, s.handleScanPages, map[string]any{})
	assert.True(t, res.IsError)

	many := make([]any, config.MaxBatchURLs+1)
	for i := range many {
		many[i] = "https://a.test/"
	}
	res, _ = callTool(t, s.handleScanPages, map[string]any{"urls": many})
	assert.True(t, res.IsError)
}

func TestHandleDecodeImage(t *testing.T) {
	t.Run("decodes", func(t *testing.T) {
		s := newTestServer(t, &fakeCrawler{}, fakeImages{data: decodetest.PNG(t, "https://u.wechat.com/abc", 300)})
		res, text := callTool(t, s.handleDecodeImage, map[string]any{"image_url": "https://img.test/qr.png"})
		require.False(t, res.IsError, text)
		body := toolJSON(t, text)
		assert.Equal(t, "https://u.wechat.com/abc", body["content"])
		assert.Equal(t, true, body["is_wechat_qr"])
		assert.NotEmpty(t, body["strategy"])
	})

	t.Run("no code", func(t *testing.T) {
		s := newTestServer(t, &fakeCrawler{}, fakeImages{data: decodetest.BlankPNG(t, 100)})
		res, text := callTool(t, s.handleDecodeImage, map[string]any{"image_url": "https://img.test/blank.png"})
		assert.True(t, res.IsError)
		assert.Contains(t, text, "no QR code")
	})

	t.Run("download failure", func(t *testing.T) {
		s := newTestServer(t, &fakeCrawler{}, fakeImages{err: errors.New("connection refused")})
		res, text := callTool(t, s.handleDecodeImage, map[string]any{"image_url": "https://img.test/qr.png"})
		assert.True(t, res.IsError)
		assert.Contains(t, text, "connection refused")
	})

	t.Run("bad url", func(t *testing.T) {
		s := newTestServer(t, &fakeCrawler{}, fakeImages{})
		for _, u := range []string{"", "ftp://img.test/qr.png", "qr.png"} {
			res, _ := callTool(t, s.handleDecodeImage, map[string]any{"image_url": u})
			assert.True(t, res.IsError, u)
		}
	})
}

func TestHandleCrawlSite_Lifecycle(t *testing.T) {
	crawler := &fakeCrawler{}
	s := newTestServer(t, crawler, fakeImages{})

	res, text := callTool(t, s.handleCrawlSite, map[string]any{"url": "https://site.test/", "max_depth": float64(2), "delay_ms": float64(600)})
	require.False(t, res.IsError, text)
	started := toolJSON(t, text)
	assert.Equal(t, "started", started["status"])
	jobID := started["job_id"].(string)

	select {
	case <-crawler.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("crawl job did not run")
	}
	assert.Eventually(t, func() bool {
		return s.jobManager.GetJob(jobID).Status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	crawler.mu.Lock()
	assert.Equal(t, config.CrawlConfig{MaxDepth: 2, MaxPages: 50, Delay: 600 * time.Millisecond}, crawler.gotCfg)
	crawler.mu.Unlock()

	_, text = callTool(t, s.handleGetJobStatus, map[string]any{"job_id": jobID})
	status := toolJSON(t, text)
	assert.Equal(t, "completed", status["status"])
	assert.EqualValues(t, 1, status["pages_processed"])
	assert.EqualValues(t, 1, status["qr_codes_found"])
	assert.EqualValues(t, 1, status["wechat_qr_codes"])
	assert.Len(t, status["findings"], 1)
	assert.Contains(t, status, "completed_at")
}

func TestHandleCrawlSite_Rejected(t *testing.T) {
	s := newTestServer(t, &fakeCrawler{}, fakeImages{})
	tests := []map[string]any{
		{},
		{"url": "not a url"},
		{"url": "https://site.test/", "max_depth": float64(9)},
		{"url": "https://site.test/", "max_pages": float64(0)},
		{"url": "https://site.test/", "delay_ms": float64(10)},
	}
	for _, args := range tests {
		res, text := callTool(t, s.handleCrawlSite, args)
		assert.True(t, res.IsError, "args %v: %s", args, text)
	}
	assert.Empty(t, s.jobManager.ListJobs())
}

func TestHandleCrawlSite_AlreadyRunningAndCancel(t *testing.T) {
	crawler := &fakeCrawler{block: true}
	s := newTestServer(t, crawler, fakeImages{})

	_, text := callTool(t, s.handleCrawlSite, map[string]any{"url": "https://site.test/"})
	jobID := toolJSON(t, text)["job_id"].(string)

	_, text = callTool(t, s.handleCrawlSite, map[string]any{"url": "https://SITE.test/other"})
	again := toolJSON(t, text)
	assert.Equal(t, "already_running", again["status"])
	assert.Equal(t, jobID, again["job_id"])

	res, text := callTool(t, s.handleCancelJob, map[string]any{"job_id": jobID})
	require.False(t, res.IsError, text)
	assert.Equal(t, "cancelled", toolJSON(t, text)["status"])

	select {
	case <-crawler.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("crawl was not cancelled")
	}
	assert.Equal(t, JobStatusCancelled, s.jobManager.GetJob(jobID).Status)

	res, _ = callTool(t, s.handleCancelJob, map[string]any{"job_id": jobID})
	assert.True(t, res.IsError, "second cancel reports not running")
}

func TestHandleCrawlSite_Failure(t *testing.T) {
	crawler := &fakeCrawler{err: errors.New("boom")}
	s := newTestServer(t, crawler, fakeImages{})

	_, text := callTool(t, s.handleCrawlSite, map[string]any{"url": "https://site.test/"})
	jobID := toolJSON(t, text)["job_id"].(string)

	assert.Eventually(t, func() bool {
		return s.jobManager.GetJob(jobID).Status == JobStatusFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "boom", s.jobManager.GetJob(jobID).ErrorMessage)
}

func TestHandleJobTools_UnknownJob(t *testing.T) {
	s := newTestServer(t, &fakeCrawler{}, fakeImages{})

	res, _ := callTool(t, s.handleGetJobStatus, map[string]any{"job_id": "missing"})
	assert.True(t, res.IsError)
	res, _ = callTool(t, s.handleGetJobStatus, map[string]any{})
	assert.True(t, res.IsError)
	res, _ = callTool(t, s.handleCancelJob, map[string]any{"job_id": "missing"})
	assert.True(t, res.IsError)
}

func TestShutdown_CancelsJobs(t *testing.T) {
	crawler := &fakeCrawler{block: true}
	s := newTestServer(t, crawler, fakeImages{})
	_, text := callTool(t, s.handleCrawlSite, map[string]any{"url": "https://site.test/"})
	jobID := toolJSON(t, text)["job_id"].(string)

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case <-crawler.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("crawl was not cancelled on shutdown")
	}
	assert.Equal(t, JobStatusCancelled, s.jobManager.GetJob(jobID).Status)
}

func TestRun_UnknownTransport(t *testing.T) {
	s := newTestServer(t, &fakeCrawler{}, fakeImages{})
	s.cfg.Transport = "carrier-pigeon"
	assert.Error(t, s.Run())
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "abc", shorten("abc", 5))
	assert.Equal(t, "ab...", shorten("abcdef", 2))
}
