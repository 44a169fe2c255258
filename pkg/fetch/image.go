package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"qr-spider/pkg/utils"
)

// ImageDownloader fetches candidate image bytes. Concurrent downloads to a
// single host are bounded by the shared HostSemaphorePool.
type ImageDownloader struct {
	fetcher    *Fetcher
	hostSems   *HostSemaphorePool
	userAgent  string
	maxBytes   int64
	timeout    time.Duration
	semTimeout time.Duration
	log        *logrus.Entry
}

// NewImageDownloader creates an ImageDownloader. hostSems may be nil to
// disable per-host limiting.
func NewImageDownloader(fetcher *Fetcher, hostSems *HostSemaphorePool, userAgent string, maxBytes int64, timeout, semTimeout time.Duration, log *logrus.Entry) *ImageDownloader {
	return &ImageDownloader{
		fetcher:    fetcher,
		hostSems:   hostSems,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		timeout:    timeout,
		semTimeout: semTimeout,
		log:        log.WithField("component", "image_downloader"),
	}
}

// Download returns the raw bytes of imageURL. referer is sent as the
// Referer header since many image hosts reject hotlinked requests.
// An empty body is an error (utils.ErrEmptyImage).
func (d *ImageDownloader) Download(ctx context.Context, imageURL, referer string) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(imageURL), "data:") {
		return d.decodeDataURI(imageURL)
	}

	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: image URL %q: %v", utils.ErrParsing, imageURL, err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if d.hostSems != nil {
		release, err := d.hostSems.Acquire(ctx, u.Host, d.semTimeout)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "image/png, image/jpeg, image/jpg, image/gif, image/webp, */*")
	req.Header.Set("Accept-Encoding", acceptEncoding)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := d.fetcher.Do(ctx, req)
	if err != nil {
		drainAndClose(resp)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := readBody(resp, d.maxBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, utils.ErrEmptyImage
	}
	return data, nil
}

// decodeDataURI handles inline images such as data:image/png;base64,....
func (d *ImageDownloader) decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data URI", utils.ErrParsing)
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, fmt.Errorf("%w: only base64 data URIs carry raster images", utils.ErrParsing)
	}
	if d.maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > d.maxBytes+2 {
		return nil, fmt.Errorf("%w: inline image exceeds %d bytes", utils.ErrResponseTooLarge, d.maxBytes)
	}

	payload = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some pages omit padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: data URI base64: %v", utils.ErrParsing, err)
		}
	}
	if len(data) == 0 {
		return nil, utils.ErrEmptyImage
	}
	return data, nil
}
