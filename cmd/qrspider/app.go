package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qr-spider/pkg/config"
	"qr-spider/pkg/crawler"
	"qr-spider/pkg/decode"
	"qr-spider/pkg/fetch"
	applog "qr-spider/pkg/log"
	"qr-spider/pkg/process"
	"qr-spider/pkg/storage"
	"qr-spider/pkg/utils"
)

const (
	evictionInterval = 5 * time.Minute
	cacheGCInterval  = 10 * time.Minute
	forceExitTimeout = 30 * time.Second
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg     config.AppConfig
	logger  *logrus.Logger
	log     *logrus.Entry
	images  *fetch.ImageDownloader
	decoder *decode.Pipeline
	crawler *crawler.Crawler
	scanner *crawler.Scanner

	hostSems *fetch.HostSemaphorePool
	cache    *storage.BadgerCache

	closers []io.Closer
}

// newApp loads configuration from the persistent flags and wires every component
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("loglevel")
	logFile, _ := cmd.Flags().GetString("log-file")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	logger, logCloser, err := applog.NewLogger(applog.Options{Level: logLevel, File: logFile, JSON: logJSON})
	if err != nil {
		return nil, fmt.Errorf("setting up logger: %w", err)
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	logAppConfig(&cfg, logger)

	a := &app{cfg: cfg, logger: logger, log: logrus.NewEntry(logger), closers: []io.Closer{logCloser}}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := &a.cfg
	a.log.Info("Initializing components...")

	httpClient := fetch.NewClient(cfg.HTTPClientSettings, a.log)
	fetcher := fetch.NewFetcher(httpClient, cfg, a.log)
	a.hostSems = fetch.NewHostSemaphorePool(cfg.MaxRequestsPerHost, a.log)

	pages := fetch.NewPageFetcher(fetcher, cfg.UserAgent, cfg.MaxPageSizeBytes, cfg.PageTimeout, a.log)
	a.images = fetch.NewImageDownloader(fetcher, a.hostSems, cfg.UserAgent, cfg.MaxImageSizeBytes,
		cfg.ImageTimeout, cfg.SemaphoreAcquireTimeout, a.log)

	var robots *fetch.RobotsHandler
	if cfg.RespectRobots {
		robots = fetch.NewRobotsHandler(fetcher, cfg.UserAgent, cfg.PageTimeout, a.log)
	}

	var cache storage.DecodeCache
	if cfg.Cache.Enabled {
		bc, err := storage.NewBadgerCache(cfg.Cache.Dir, cfg.Cache.TTL, a.log)
		if err != nil {
			return fmt.Errorf("opening decode cache: %w", err)
		}
		a.closers = append(a.closers, bc)
		a.cache = bc
		cache = bc
	}

	excludes, err := utils.CompileURLPatterns(cfg.LinkExcludePatterns)
	if err != nil {
		return fmt.Errorf("%w: link_exclude_patterns: %v", utils.ErrConfigValidation, err)
	}

	a.decoder = decode.NewPipeline(a.log, decode.DefaultStrategies()...).WithMaxPixels(cfg.MaxImagePixels)
	imageProc := process.NewImageProcessor(a.images, a.decoder, cache, cfg.NumImageWorkers, a.log)
	links := process.NewLinkExtractor(excludes, robots, a.log)

	a.crawler = crawler.NewCrawler(pages, imageProc, links, a.log)
	a.scanner = crawler.NewScanner(pages, imageProc, fetch.NewRateLimiter(cfg.BatchHostDelay, a.log),
		cfg.BatchConcurrency, a.log)
	a.log.Infof("Decode strategies: %v", a.decoder.Strategies())
	return nil
}

// startMaintenance runs semaphore eviction and cache GC until ctx is done
func (a *app) startMaintenance(ctx context.Context) {
	go a.hostSems.RunEviction(ctx, evictionInterval)
	if a.cache != nil {
		go a.cache.RunGC(ctx, cacheGCInterval)
	}
}

// run builds the app, installs signal handling and calls fn with a context
// cancelled on SIGINT/SIGTERM.
func run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(contextOrBackground(cmd.Context()), a.logger)
	defer stop()
	a.startMaintenance(ctx)

	return fn(ctx, a)
}

// Close releases the cache and the log file, in reverse order of opening
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warnf("Close failed: %v", err)
		}
	}
}

// signalContext returns a context cancelled by the first SIGINT or SIGTERM.
// A second signal, or no exit within forceExitTimeout, terminates the process.
func signalContext(parent context.Context, log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(forceExitTimeout):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: ImageWorkers:%d, MaxReqPerHost:%d, BatchConcurrency:%d, BatchHostDelay:%v",
		appCfg.NumImageWorkers, appCfg.MaxRequestsPerHost, appCfg.BatchConcurrency, appCfg.BatchHostDelay)
	log.Infof("Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Config Timeouts: SemaphoreAcquire:%v, Page:%v, Image:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.PageTimeout, appCfg.ImageTimeout)
	log.Infof("Config Limits: MaxPageSize:%d bytes, MaxImageSize:%d bytes, MaxImagePixels:%d, RespectRobots:%t, ExcludePatterns:%d",
		appCfg.MaxPageSizeBytes, appCfg.MaxImageSizeBytes, appCfg.MaxImagePixels, appCfg.RespectRobots, len(appCfg.LinkExcludePatterns))
	log.Infof("Config Server: Addr:%s, RateLimit:%d/min, Burst:%d, ShutdownGrace:%v",
		appCfg.Server.Addr, appCfg.Server.RateLimitPerMinute, appCfg.Server.RateLimitBurst, appCfg.Server.ShutdownGrace)
	log.Infof("Config Crawl Defaults: MaxDepth:%d, MaxPages:%d, Delay:%v",
		appCfg.Crawl.MaxDepth, appCfg.Crawl.MaxPages, appCfg.Crawl.Delay)
	log.Infof("Config Cache: Enabled:%t, Dir:'%s', TTL:%v",
		appCfg.Cache.Enabled, appCfg.Cache.Dir, appCfg.Cache.TTL)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
