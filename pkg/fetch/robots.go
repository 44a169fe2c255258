package fetch

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// maxRobotsBytes caps robots.txt bodies; anything larger is treated as absent.
const maxRobotsBytes = 512 * 1024

// RobotsHandler fetches, parses and caches robots.txt per host. The cache
// lives as long as the handler; crawl runs share it.
type RobotsHandler struct {
	fetcher     *Fetcher
	userAgent   string
	timeout     time.Duration
	robotsCache map[string]*robotstxt.RobotsData // scheme://host -> parsed data (or nil)
	cacheMu     sync.Mutex
	log         *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, userAgent string, timeout time.Duration, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		userAgent:   userAgent,
		timeout:     timeout,
		robotsCache: make(map[string]*robotstxt.RobotsData),
		log:         log.WithField("component", "robots"),
	}
}

// GetRobotsData retrieves robots.txt data for the targetURL's host, using cache or fetching.
// Returns nil on any error, 4xx or missing file.
func (rh *RobotsHandler) GetRobotsData(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	key := targetURL.Scheme + "://" + targetURL.Host

	rh.cacheMu.Lock()
	data, found := rh.robotsCache[key]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	data = rh.fetch(ctx, targetURL)

	// A cancelled fetch says nothing about the host; don't cache it.
	if ctx.Err() == nil {
		rh.cacheMu.Lock()
		rh.robotsCache[key] = data
		rh.cacheMu.Unlock()
	}
	return data
}

func (rh *RobotsHandler) fetch(ctx context.Context, targetURL *url.URL) *robotstxt.RobotsData {
	robotsURL := &url.URL{Scheme: targetURL.Scheme, Host: targetURL.Host, Path: "/robots.txt"}
	robotsLog := rh.log.WithField("robots_url", robotsURL.String())
	robotsLog.Debug("Fetching robots.txt...")

	if rh.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rh.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		robotsLog.Warnf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rh.userAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	resp, err := rh.fetcher.Do(ctx, req)
	if err != nil {
		drainAndClose(resp)
		robotsLog.Debugf("Fetching robots.txt failed, assuming allow-all: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := readBody(resp, maxRobotsBytes)
	if err != nil {
		robotsLog.Warnf("Error reading body: %v", err)
		return nil
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing content: %v", err)
		return nil
	}
	robotsLog.Debug("Parsed robots.txt")
	return data
}

// TestAgent reports whether the configured user agent may fetch targetURL.
// Returns true if allowed or if robots.txt could not be obtained.
func (rh *RobotsHandler) TestAgent(ctx context.Context, targetURL *url.URL) bool {
	robotsData := rh.GetRobotsData(ctx, targetURL)
	if robotsData == nil {
		return true
	}
	return robotsData.TestAgent(targetURL.RequestURI(), rh.userAgent)
}
