package config

import (
	"fmt"
	"time"

	"qr-spider/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.NumImageWorkers <= 0 {
		c.NumImageWorkers = 4
	}

	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = 4
	}

	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 5
	}

	if c.BatchHostDelay < 0 {
		warnings = append(warnings, "batch_host_delay cannot be negative, disabling")
		c.BatchHostDelay = 0
	}

	// Crawl and batch fetches are single-shot unless retries are asked for
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	if c.PageTimeout <= 0 {
		c.PageTimeout = 15 * time.Second
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 15 * time.Second
	}

	if c.MaxPageSizeBytes < 0 {
		warnings = append(warnings, "max_page_size_bytes cannot be negative, using default")
		c.MaxPageSizeBytes = 0
	}
	if c.MaxPageSizeBytes == 0 {
		c.MaxPageSizeBytes = 10 * 1024 * 1024
	}
	if c.MaxImageSizeBytes < 0 {
		warnings = append(warnings, "max_image_size_bytes cannot be negative, using default")
		c.MaxImageSizeBytes = 0
	}
	if c.MaxImageSizeBytes == 0 {
		c.MaxImageSizeBytes = 10 * 1024 * 1024
	}
	if c.MaxImagePixels < 0 {
		warnings = append(warnings, "max_image_pixels cannot be negative, using default")
		c.MaxImagePixels = 0
	}
	if c.MaxImagePixels == 0 {
		c.MaxImagePixels = 40_000_000
	}

	if _, perr := utils.CompileURLPatterns(c.LinkExcludePatterns); perr != nil {
		return warnings, perr
	}

	c.validateHTTPClientSettings()

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.ShutdownGrace <= 0 {
		c.Server.ShutdownGrace = 10 * time.Second
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 100
	}
	if c.Server.RateLimitBurst <= 0 && c.Server.RateLimitPerMinute > 0 {
		c.Server.RateLimitBurst = c.Server.RateLimitPerMinute
	}

	def := DefaultCrawlConfig()
	if c.Crawl.MaxDepth == 0 {
		c.Crawl.MaxDepth = def.MaxDepth
	}
	if c.Crawl.MaxPages == 0 {
		c.Crawl.MaxPages = def.MaxPages
	}
	if c.Crawl.Delay == 0 {
		c.Crawl.Delay = def.Delay
	}
	if cerr := c.Crawl.Validate(); cerr != nil {
		return warnings, fmt.Errorf("crawl defaults: %w", cerr)
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks the crawl bounds. Unlike AppConfig.Validate it never
// substitutes defaults: an out-of-range value is fatal.
func (c CrawlConfig) Validate() error {
	if c.MaxDepth < MinMaxDepth || c.MaxDepth > MaxMaxDepth {
		return fmt.Errorf("%w: max_depth must be between %d and %d, got %d",
			utils.ErrConfigValidation, MinMaxDepth, MaxMaxDepth, c.MaxDepth)
	}
	if c.MaxPages < MinMaxPages || c.MaxPages > MaxMaxPages {
		return fmt.Errorf("%w: max_pages must be between %d and %d, got %d",
			utils.ErrConfigValidation, MinMaxPages, MaxMaxPages, c.MaxPages)
	}
	if c.Delay < MinDelay || c.Delay > MaxDelay {
		return fmt.Errorf("%w: delay must be between %v and %v, got %v",
			utils.ErrConfigValidation, MinDelay, MaxDelay, c.Delay)
	}
	return nil
}

// ValidateBatchSize checks the number of URLs submitted to a batch scan.
func ValidateBatchSize(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: at least one URL is required", utils.ErrConfigValidation)
	}
	if n > MaxBatchURLs {
		return fmt.Errorf("%w: at most %d URLs per batch, got %d",
			utils.ErrConfigValidation, MaxBatchURLs, n)
	}
	return nil
}
