package fetch

import (
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/config"
	"qr-spider/pkg/utils"
)

const maxRedirects = 10

// NewClient creates the HTTP client shared by page fetches, image downloads
// and robots.txt lookups. Contexts carry the per-request deadlines
// (page_timeout, image_timeout); cfg.Timeout only caps runaway requests.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	clientLog := log.WithField("component", "http_client")

	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
		// readBody negotiates and decodes gzip and brotli itself
		DisableCompression: true,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	return &http.Client{
		Timeout:       cfg.Timeout,
		Transport:     transport,
		CheckRedirect: redirectPolicy(clientLog),
	}
}

// redirectPolicy follows at most maxRedirects hops and only to http(s)
// targets.
func redirectPolicy(log *logrus.Entry) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: stopped after %d redirects", utils.ErrOtherHTTPError, maxRedirects)
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return fmt.Errorf("%w: redirect to unsupported scheme %q", utils.ErrOtherHTTPError, req.URL.Scheme)
		}
		log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
		return nil
	}
}
