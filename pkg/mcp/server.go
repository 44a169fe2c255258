package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"qr-spider/pkg/config"
	"qr-spider/pkg/events"
	"qr-spider/pkg/models"
	"qr-spider/pkg/process"
)

const (
	serverName    = "qr-spider"
	serverVersion = "1.0.0"
)

// PageScanner scans a flat list of pages. Satisfied by *crawler.Scanner.
type PageScanner interface {
	ScanPages(ctx context.Context, urls []string) ([]models.PageResult, error)
}

// SiteCrawler runs one crawl. Satisfied by *crawler.Crawler.
type SiteCrawler interface {
	Crawl(ctx context.Context, seed string, cfg config.CrawlConfig, sink events.Sink) (*models.CrawlResult, error)
}

// ServerConfig holds configuration and collaborators for the MCP server
type ServerConfig struct {
	AppConfig *config.AppConfig
	Transport string // "stdio", "sse" or "http"
	Port      int
	Logger    *logrus.Logger

	Scanner PageScanner
	Crawler SiteCrawler
	Images  process.ImageSource
	Decoder process.Decoder
}

// Server wraps the MCP server with the QR scanning tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Scanner == nil || cfg.Crawler == nil || cfg.Images == nil || cfg.Decoder == nil {
		return nil, fmt.Errorf("scanner, crawler, image source and decoder are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        cfg.Logger.WithField("component", "mcp"),
		jobManager: NewJobManager(),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	scanPagesTool := mcp.NewTool("scan_pages",
		mcp.WithDescription(fmt.Sprintf("Scan up to %d web pages for QR code images and decode them. No links are followed.", config.MaxBatchURLs)),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Absolute http(s) page URLs"),
			mcp.WithStringItems(),
		),
	)
	s.mcpServer.AddTool(scanPagesTool, s.handleScanPages)

	decodeImageTool := mcp.NewTool("decode_image",
		mcp.WithDescription("Download one image (http(s) URL or data: URI) and decode the QR code in it"),
		mcp.WithString("image_url",
			mcp.Required(),
			mcp.Description("Image URL or data: URI"),
		),
		mcp.WithString("page_url",
			mcp.Description("Page the image appears on, sent as Referer (optional)"),
		),
	)
	s.mcpServer.AddTool(decodeImageTool, s.handleDecodeImage)

	crawlSiteTool := mcp.NewTool("crawl_site",
		mcp.WithDescription("Start a background breadth-first crawl of one site collecting QR codes. Returns immediately with a job ID."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Seed URL; only pages on the same host are visited"),
		),
		mcp.WithNumber("max_depth",
			mcp.Description(fmt.Sprintf("Link depth limit (%d-%d, default from config)", config.MinMaxDepth, config.MaxMaxDepth)),
		),
		mcp.WithNumber("max_pages",
			mcp.Description(fmt.Sprintf("Page limit (%d-%d, default from config)", config.MinMaxPages, config.MaxMaxPages)),
		),
		mcp.WithNumber("delay_ms",
			mcp.Description(fmt.Sprintf("Delay between pages in milliseconds (%d-%d)", config.MinDelay.Milliseconds(), config.MaxDelay.Milliseconds())),
		),
	)
	s.mcpServer.AddTool(crawlSiteTool, s.handleCrawlSite)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and the QR codes found so far for a crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl_site"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running crawl job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by crawl_site"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	s.log.Infof("Registered %d MCP tools", len(s.mcpServer.ListTools()))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	case "http":
		s.log.Infof("Starting MCP server with streamable HTTP transport on %s", addr)
		httpServer := server.NewStreamableHTTPServer(s.mcpServer)
		return httpServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse, http)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs
func (s *Server) Shutdown(_ context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return nil
}
