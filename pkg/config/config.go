package config

import "time"

const (
	// DefaultUserAgent mimics a desktop browser; several sites serve
	// placeholder images to obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	MinMaxDepth = 1
	MaxMaxDepth = 5
	MinMaxPages = 1
	MaxMaxPages = 200
	MinDelay    = 500 * time.Millisecond
	MaxDelay    = 10 * time.Second

	// MaxBatchURLs caps the number of pages accepted by one batch scan.
	MaxBatchURLs = 100
)

// CrawlConfig bounds a single crawl run.
type CrawlConfig struct {
	MaxDepth int           `yaml:"max_depth"`
	MaxPages int           `yaml:"max_pages"`
	Delay    time.Duration `yaml:"delay"`
}

// DefaultCrawlConfig returns the bounds used when a caller supplies none.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{MaxDepth: 3, MaxPages: 50, Delay: time.Second}
}

// CacheConfig controls the decode result cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir,omitempty"` // Empty keeps the cache in memory
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Addr               string        `yaml:"addr"`
	AllowedOrigins     []string      `yaml:"allowed_origins,omitempty"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace,omitempty"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute,omitempty"` // Per client IP on /api, negative disables
	RateLimitBurst     int           `yaml:"rate_limit_burst,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	UserAgent               string           `yaml:"user_agent"`
	NumImageWorkers         int              `yaml:"num_image_workers,omitempty"`
	MaxRequestsPerHost      int              `yaml:"max_requests_per_host,omitempty"`
	BatchConcurrency        int              `yaml:"batch_concurrency,omitempty"`
	BatchHostDelay          time.Duration    `yaml:"batch_host_delay,omitempty"` // Min spacing between batch requests to one host, 0 disables
	MaxRetries              int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration    `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration    `yaml:"semaphore_acquire_timeout,omitempty"`
	PageTimeout             time.Duration    `yaml:"page_timeout,omitempty"`
	ImageTimeout            time.Duration    `yaml:"image_timeout,omitempty"`
	MaxPageSizeBytes        int64            `yaml:"max_page_size_bytes,omitempty"`
	MaxImageSizeBytes       int64            `yaml:"max_image_size_bytes,omitempty"`
	MaxImagePixels          int64            `yaml:"max_image_pixels,omitempty"` // Width*height ceiling checked before a raster is decoded
	RespectRobots           bool             `yaml:"respect_robots,omitempty"`
	LinkExcludePatterns     []string         `yaml:"link_exclude_patterns,omitempty"` // Regex patterns for links never enqueued
	HTTPClientSettings      HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Cache                   CacheConfig      `yaml:"cache,omitempty"`
	Server                  ServerConfig     `yaml:"server,omitempty"`
	Crawl                   CrawlConfig      `yaml:"crawl,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// NewDefaultConfig returns an AppConfig with every default applied.
func NewDefaultConfig() AppConfig {
	var c AppConfig
	_, _ = c.Validate()
	return c
}

// GetEffectiveCrawlConfig fills zero fields of override from the
// configured crawl defaults. Range checks are left to CrawlConfig.Validate.
func GetEffectiveCrawlConfig(override CrawlConfig, appCfg AppConfig) CrawlConfig {
	eff := appCfg.Crawl
	if override.MaxDepth != 0 {
		eff.MaxDepth = override.MaxDepth
	}
	if override.MaxPages != 0 {
		eff.MaxPages = override.MaxPages
	}
	if override.Delay != 0 {
		eff.Delay = override.Delay
	}
	return eff
}
