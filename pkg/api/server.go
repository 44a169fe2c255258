package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/config"
	"qr-spider/pkg/events"
	"qr-spider/pkg/models"
)

// BatchScanner scans a flat list of pages. Satisfied by *crawler.Scanner.
type BatchScanner interface {
	ScanPages(ctx context.Context, urls []string) ([]models.PageResult, error)
}

// SiteCrawler runs one crawl. Satisfied by *crawler.Crawler.
type SiteCrawler interface {
	Crawl(ctx context.Context, seed string, cfg config.CrawlConfig, sink events.Sink) (*models.CrawlResult, error)
}

// Server is the HTTP front end for batch scans and crawls
type Server struct {
	cfg           config.ServerConfig
	crawlDefaults config.CrawlConfig // Used by the streaming endpoint
	scanner       BatchScanner
	crawler       SiteCrawler
	limiter       *ipRateLimiter // nil when rate limiting is disabled
	log           *logrus.Entry
	router        http.Handler
}

// NewServer creates a Server and builds its router
func NewServer(cfg config.ServerConfig, crawlDefaults config.CrawlConfig, scanner BatchScanner, crawler SiteCrawler, log *logrus.Entry) *Server {
	s := &Server{
		cfg:           cfg,
		crawlDefaults: crawlDefaults,
		scanner:       scanner,
		crawler:       crawler,
		limiter:       newIPRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, log),
		log:           log,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the fully wrapped router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully. Request
// contexts derive from ctx, so open event streams stop their crawls as soon
// as shutdown begins.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: crawls and event streams outlive any fixed bound.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	if s.limiter != nil {
		go s.limiter.runEviction(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("API server listening on %s", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Infof("Shutting down API server (grace %v)", s.cfg.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("Graceful shutdown incomplete, closing connections: %v", err)
		_ = httpServer.Close()
		return err
	}
	s.log.Info("API server stopped")
	return nil
}
