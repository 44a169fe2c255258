package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"qr-spider/pkg/config"
	"qr-spider/pkg/decode"
	"qr-spider/pkg/events"
	"qr-spider/pkg/models"
	"qr-spider/pkg/parse"
)

// handleScanPages handles the scan_pages tool
func (s *Server) handleScanPages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urls := request.GetStringSlice("urls", nil)
	if len(urls) == 0 {
		return mcp.NewToolResultError("urls parameter is required"), nil
	}
	if err := config.ValidateBatchSize(len(urls)); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.cfg.Scanner.ScanPages(ctx, urls)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
	}

	found := 0
	for _, r := range results {
		if r.Found() {
			found++
		}
	}
	result := map[string]interface{}{
		"total":   len(results),
		"found":   found,
		"results": results,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleDecodeImage handles the decode_image tool
func (s *Server) handleDecodeImage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageURL := strings.TrimSpace(request.GetString("image_url", ""))
	if imageURL == "" {
		return mcp.NewToolResultError("image_url parameter is required"), nil
	}
	if !strings.HasPrefix(imageURL, "data:") {
		u, err := url.Parse(imageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return mcp.NewToolResultError("image_url must be an absolute http(s) URL or a data: URI"), nil
		}
	}
	pageURL := request.GetString("page_url", "")

	startTime := time.Now()
	data, err := s.cfg.Images.Download(ctx, imageURL, pageURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to download image: %v", err)), nil
	}
	res, err := s.cfg.Decoder.Decode(ctx, data)
	if err != nil || !res.Succeeded {
		return mcp.NewToolResultError(fmt.Sprintf("no QR code recognized: %v", err)), nil
	}

	result := map[string]interface{}{
		"image_url":      shorten(imageURL, 200),
		"content":        res.Payload,
		"is_wechat_qr":   decode.IsWechatVariant(res.Payload),
		"strategy":       res.Strategy,
		"size_bytes":     len(data),
		"decode_time_ms": time.Since(startTime).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCrawlSite handles the crawl_site tool
func (s *Server) handleCrawlSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seed := strings.TrimSpace(request.GetString("url", ""))
	if seed == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	seedURL, err := parse.ParseSeed(seed)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	defaults := s.cfg.AppConfig.Crawl
	cfg := config.CrawlConfig{
		MaxDepth: request.GetInt("max_depth", defaults.MaxDepth),
		MaxPages: request.GetInt("max_pages", defaults.MaxPages),
		Delay:    time.Duration(request.GetInt("delay_ms", int(defaults.Delay.Milliseconds()))) * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	host := strings.ToLower(seedURL.Host)
	job, created, err := s.jobManager.CreateJob(seedURL.String(), host, cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A crawl is already in progress for this host",
			"job_id":  job.ID,
			"host":    host,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runCrawlJob(job)

	result := map[string]interface{}{
		"status":    "started",
		"message":   "Crawl started successfully",
		"job_id":    job.ID,
		"seed_url":  job.SeedURL,
		"max_depth": cfg.MaxDepth,
		"max_pages": cfg.MaxPages,
		"delay_ms":  cfg.Delay.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	findings := job.Findings
	if findings == nil {
		findings = []models.QrFinding{}
	}
	result := map[string]interface{}{
		"job_id":          job.ID,
		"seed_url":        job.SeedURL,
		"status":          job.Status,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"pages_processed": job.PagesProcessed,
		"qr_codes_found":  job.QRCodesFound,
		"wechat_qr_codes": job.WechatQRCodes,
		"findings":        findings,
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}

	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobManager.CancelJob(jobID) {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' is not running", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id": jobID,
		"status": JobStatusCancelled,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCrawlJob runs a crawl job in the background
func (s *Server) runCrawlJob(job *Job) {
	jobLog := s.log.WithField("job_id", job.ID)
	defer func() {
		if r := recover(); r != nil {
			jobLog.Errorf("PANIC in crawl job: %v", r)
			s.jobManager.UpdateStatus(job.ID, JobStatusFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(job.ID)

	sink := events.SinkFunc(func(ev models.Event) {
		s.jobManager.RecordEvent(job.ID, ev)
	})
	_, err := s.cfg.Crawler.Crawl(jobCtx, job.SeedURL, job.Config, sink)
	switch {
	case err == nil:
		s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, "")
	case errors.Is(err, context.Canceled):
		s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
	default:
		jobLog.Warnf("Crawl job failed: %v", err)
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, err.Error())
	}
}

// shorten keeps long data: URIs out of tool output
func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
